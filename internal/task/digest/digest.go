// Package digest periodically reminds admins about the moderation queue.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"postbot/internal/messages"
	"postbot/internal/notifier"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

// Parser accepts 5-field specs, an optional leading seconds field and
// descriptors such as "@every 6h".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

const runTimeout = 30 * time.Second

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
}

type Queue interface {
	ListPending(ctx context.Context) ([]storage.Post, error)
}

type Admins interface {
	ListAdminIDs(ctx context.Context) ([]int64, error)
}

type Service struct {
	queue  Queue
	admins Admins
	send   *notifier.Sender
	msgs   *messages.Catalog
	log    logx.Logger

	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	runCtx context.Context
}

func New(cfg Config, queue Queue, admins Admins, send *notifier.Sender, msgs *messages.Catalog, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if msgs == nil {
		msgs = messages.Default()
	}
	return &Service{
		cfg:    cfg,
		queue:  queue,
		admins: admins,
		send:   send,
		msgs:   msgs,
		log:    log.With(logx.String("comp", "digest")),
	}
}

// Start schedules the digest when enabled. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		spec = "@every 6h"
	}
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("digest timezone: %w", err)
		}
		loc = l
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(Parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("digest schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("service started", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// Apply reschedules when the digest settings changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return nil
	}
	s.cfg = cfg
	if s.runCtx == nil {
		return nil
	}
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	return s.startLocked()
}

func (s *Service) tick() {
	s.mu.Lock()
	parent := s.runCtx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, runTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("digest run failed", logx.Err(err))
	}
}

// RunOnce sends the digest now. An empty queue sends nothing. It returns the
// number of admins reached.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	pending, err := s.queue.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	ids, err := s.admins.ListAdminIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list admins: %w", err)
	}
	text := s.msgs.Text(messages.DigestPending, len(pending), pending[0].ID)
	n := 0
	for _, id := range ids {
		if _, ok := s.send.Text(ctx, kit.ChatTarget{ChatID: id}, text, kit.HTML(nil)); ok {
			n++
		}
	}
	s.log.Info("digest sent", logx.Int("pending", len(pending)), logx.Int("admins", n))
	return n, nil
}

// cronLogger routes cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Trace("cron: "+msg, kv(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kv(keysAndValues), logx.Err(err))...)
}

func kv(pairs []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(pairs[i]), pairs[i+1]))
	}
	return out
}
