package broadcast

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"postbot/internal/eventbus"
	"postbot/internal/messages"
	"postbot/internal/notifier"
	"postbot/internal/observability/metrics"
	rtsup "postbot/internal/runtime/supervisor"
	"postbot/pkg/logx"
)

type Option func(*Dispatcher)

func WithBus(b eventbus.Bus) Option {
	return func(d *Dispatcher) {
		if b != nil {
			d.bus = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher owns the broadcast queue and its workers. The queue outlives
// Stop, so jobs accepted while stopped run after the next Start.
type Dispatcher struct {
	recipients Recipients
	send       *notifier.Sender
	msgs       *messages.Catalog
	log        logx.Logger
	bus        eventbus.Bus
	metrics    *metrics.Metrics

	queue chan job

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sup     *rtsup.Supervisor
}

func New(cfg Config, recipients Recipients, send *notifier.Sender, msgs *messages.Catalog, log logx.Logger, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if msgs == nil {
		msgs = messages.Default()
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		recipients: recipients,
		send:       send,
		msgs:       msgs,
		log:        log.With(logx.String("comp", "broadcast")),
		bus:        eventbus.Nop{},
		queue:      make(chan job, cfg.QueueSize),
		cfg:        cfg,
		limiter:    newLimiter(cfg.Delay),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Apply swaps the pacing delay. Worker count and queue size apply on restart
// of the process only.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	d.mu.Lock()
	defer d.mu.Unlock()
	if cfg.Delay != d.cfg.Delay {
		d.limiter = newLimiter(cfg.Delay)
		d.log.Info("broadcast pacing changed", logx.Duration("delay", cfg.Delay))
	}
	d.cfg.Delay = cfg.Delay
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sup != nil {
		return
	}
	d.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(d.log),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < d.cfg.Workers; i++ {
		idx := i
		d.sup.GoRestart("broadcast.worker", func(c context.Context) error {
			return d.worker(c, idx)
		}, rtsup.WithStopOnCleanExit(true))
	}
	d.log.Info("service started", logx.Int("workers", d.cfg.Workers), logx.Int("queue_cap", cap(d.queue)), logx.Duration("delay", d.cfg.Delay))
}

func (d *Dispatcher) Stop(ctx context.Context) {
	start := time.Now()
	d.mu.Lock()
	sup := d.sup
	d.sup = nil
	d.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil {
		d.log.Warn("stop incomplete", logx.Err(err))
		return
	}
	d.log.Info("service stopped", logx.Duration("took", time.Since(start)), logx.Int("pending_jobs", len(d.queue)))
}

// Broadcast snapshots the active users and enqueues one job for them.
func (d *Dispatcher) Broadcast(ctx context.Context, initiatorID int64, text string) (Job, error) {
	if strings.TrimSpace(text) == "" {
		return Job{}, ErrEmptyText
	}
	ids, err := d.recipients.ListActiveUserIDs(ctx)
	if err != nil {
		return Job{}, err
	}
	j := job{
		id:        uuid.NewString(),
		initiator: initiatorID,
		text:      text,
		targets:   ids,
		result:    make(chan Result, 1),
	}
	select {
	case d.queue <- j:
	default:
		d.log.Warn("broadcast queue full; dropping job", logx.String("job", j.id), logx.Int64("initiator", initiatorID), logx.Int("queue_cap", cap(d.queue)))
		return Job{}, ErrQueueFull
	}
	d.log.Debug("broadcast job enqueued", logx.String("job", j.id), logx.Int("total", len(ids)), logx.Int("queue_len", len(d.queue)))
	return Job{ID: j.id, Total: len(ids), Done: j.result}, nil
}
