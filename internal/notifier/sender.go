package notifier

import (
	"context"
	"time"

	"postbot/internal/eventbus"
	"postbot/internal/observability/metrics"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

const defaultTimeout = 10 * time.Second

// DeliveryEvent is the payload of eventbus.DeliveryFailed.
type DeliveryEvent struct {
	Op     string
	ChatID int64
	Error  string
}

type Option func(*Sender)

func WithBus(b eventbus.Bus) Option {
	return func(s *Sender) {
		if b != nil {
			s.bus = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sender) { s.metrics = m }
}

// WithTimeout bounds each platform call. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Sender wraps an adapter with the swallow-and-log policy. Safe for
// concurrent use.
type Sender struct {
	ad      kit.Adapter
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewSender(ad kit.Adapter, log logx.Logger, opts ...Option) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sender{
		ad:      ad,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     eventbus.Nop{},
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Adapter returns the wrapped adapter for calls that must see the error.
func (s *Sender) Adapter() kit.Adapter { return s.ad }

// Text sends an HTML or plain message and reports whether it was delivered.
func (s *Sender) Text(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, bool) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ref, err := s.ad.SendText(cctx, to, text, opt)
	return ref, s.done("send_text", to.ChatID, err)
}

// Media sends a photo or video with caption. MediaNone degrades to Text.
func (s *Sender) Media(ctx context.Context, to kit.ChatTarget, m kit.Media, opt *kit.SendOptions) (kit.MessageRef, bool) {
	if m.Kind == kit.MediaNone || m.Ref == "" {
		return s.Text(ctx, to, m.Caption, opt)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ref, err := s.ad.SendMedia(cctx, to, m, opt)
	return ref, s.done("send_media", to.ChatID, err)
}

// Edit rewrites a message in place: the caption when hasMedia, the text otherwise.
func (s *Sender) Edit(ctx context.Context, ref kit.MessageRef, hasMedia bool, text string, opt *kit.SendOptions) bool {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if hasMedia {
		return s.done("edit_caption", ref.ChatID, s.ad.EditCaption(cctx, ref, text, opt))
	}
	return s.done("edit_text", ref.ChatID, s.ad.EditText(cctx, ref, text, opt))
}

// Answer acknowledges a callback query with a short toast.
func (s *Sender) Answer(ctx context.Context, callbackID, text string) bool {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.done("answer_callback", 0, s.ad.AnswerCallback(cctx, callbackID, text))
}

func (s *Sender) done(op string, chatID int64, err error) bool {
	s.metrics.Delivery(op, err == nil)
	if err == nil {
		return true
	}
	s.log.Warn("delivery failed",
		logx.String("op", op),
		logx.Int64("chat_id", chatID),
		logx.Err(err),
	)
	s.bus.Publish(eventbus.Event{
		Type: eventbus.DeliveryFailed,
		Data: DeliveryEvent{Op: op, ChatID: chatID, Error: err.Error()},
	})
	return false
}
