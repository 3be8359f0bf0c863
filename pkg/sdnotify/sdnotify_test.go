package sdnotify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"postbot/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func swap(t *testing.T) *recorder {
	r := &recorder{}
	old := notify
	notify = r.notify
	t.Cleanup(func() { notify = old })
	return r
}

func TestLifecycleStates(t *testing.T) {
	r := swap(t)
	Ready(logx.Nop())
	Status(logx.Nop(), "serving")
	Stopping(logx.Nop())
	require.Equal(t, []string{"READY=1", "STATUS=serving", "STOPPING=1"}, r.states)
}

func TestPingUntilCancelled(t *testing.T) {
	r := swap(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ping(ctx, logx.Nop(), 5*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return r.count("WATCHDOG=1") >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestWatchdogDisabledReturns(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	Watchdog(context.Background(), logx.Nop())
}
