// Package broadcast delivers one admin message to every active user.
//
// Jobs wait on a bounded queue served by a small worker pool. Each job sends
// to its recipients one at a time, paced by a shared token bucket, and ends
// with a single report to the admin who started it.
package broadcast

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull = errors.New("broadcast queue full")
	ErrEmptyText = errors.New("broadcast text is empty")
)

type Config struct {
	Workers   int
	QueueSize int
	// Delay is the minimum gap between two sends of the whole pool.
	Delay time.Duration
}

const (
	defaultWorkers   = 2
	defaultQueueSize = 16
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	return c
}

// Recipients yields the user ids a broadcast goes to.
type Recipients interface {
	ListActiveUserIDs(ctx context.Context) ([]int64, error)
}

// Result is the final tally of a job.
type Result struct {
	JobID      string
	Initiator  int64
	Total      int
	Success    int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Job is the handle returned by Broadcast. Done yields exactly one Result.
type Job struct {
	ID    string
	Total int
	Done  <-chan Result
}

type job struct {
	id        string
	initiator int64
	text      string
	targets   []int64
	result    chan Result
}
