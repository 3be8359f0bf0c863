// Package router turns inbound updates into handler calls.
//
// Updates are consumed by a single goroutine, one at a time, each inside a
// panic-recovering middleware chain with its own request-scoped logger.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"postbot/internal/observability/metrics"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
	"postbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// CallbackRoute handles inline buttons whose data is "scope:action[:payload]".
// An empty Action matches every action of the scope.
type CallbackRoute struct {
	Scope  string
	Action string
	Access Access
	Handle HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	From     kit.User
	Message  *kit.Message
	Callback *kit.Callback

	Route   string   // command name, "cb:<scope>:<action>" or "message"
	Args    []string // whitespace-split command arguments
	RawArgs string   // command text after the name, untrimmed inside
	Payload string   // callback payload
	ReqID   string
	Logger  logx.Logger
}

// AdminChecker answers AccessAdmin checks.
type AdminChecker interface {
	IsAdmin(ctx context.Context, id int64) (bool, error)
}

type Option func(*Router)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithTimeout bounds each handler call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

type Router struct {
	log     logx.Logger
	admins  AdminChecker
	metrics *metrics.Metrics
	timeout time.Duration

	use       []Middleware
	cmds      map[string]*Command
	order     []*Command
	callbacks map[string]CallbackRoute
	fallback  HandlerFunc
	denied    HandlerFunc
}

const defaultTimeout = 30 * time.Second

func New(log logx.Logger, admins AdminChecker, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:       log.With(logx.String("comp", "telegram.router")),
		admins:    admins,
		timeout:   defaultTimeout,
		cmds:      map[string]*Command{},
		callbacks: map[string]CallbackRoute{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Use appends middleware that runs inside the built-in chain, for every
// update that reaches a handler.
func (r *Router) Use(m ...Middleware) { r.use = append(r.use, m...) }

// Handle registers commands. Later registrations win on name clashes.
func (r *Router) Handle(cmds ...Command) {
	for i := range cmds {
		c := cmds[i]
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		r.order = append(r.order, &c)
		r.cmds[name] = &c
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				r.cmds[a] = &c
			}
		}
	}
}

func (r *Router) HandleCallback(routes ...CallbackRoute) {
	for _, cr := range routes {
		if cr.Scope == "" || cr.Handle == nil {
			continue
		}
		r.callbacks[cr.Scope+":"+cr.Action] = cr
	}
}

// Fallback receives every message that is not a registered command.
func (r *Router) Fallback(h HandlerFunc) { r.fallback = h }

// Denied is called instead of the handler when an access check fails.
func (r *Router) Denied(h HandlerFunc) { r.denied = h }

// Run consumes updates until ctx is done or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	r.log.Info("update loop started", logx.Int("commands", len(r.order)), logx.Int("callbacks", len(r.callbacks)))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("update loop stopped", logx.Any("err", ctx.Err()))
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("update loop stopped (updates channel closed)")
				return nil
			}
			_ = r.Dispatch(ctx, up)
		}
	}
}

// Dispatch routes one update and returns the handler's error, if any.
func (r *Router) Dispatch(ctx context.Context, up kit.Update) error {
	req, h, access := r.route(up)
	if req == nil || h == nil {
		return nil
	}
	req.ReqID = uuid.NewString()
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.From.ID),
	)

	guarded := func(ctx context.Context, req *Request) error {
		if access == AccessAdmin {
			ok, err := r.isAdmin(ctx, req.From.ID)
			if err != nil {
				return err
			}
			if !ok {
				req.Logger.Info("access denied", logx.String("route", req.Route))
				if r.denied != nil {
					return r.denied(ctx, req)
				}
				return nil
			}
		}
		return h(ctx, req)
	}

	mws := []Middleware{MWPanicRecover(r.log), MWRequestLog(r.log), MWMetrics(r.metrics), MWTimeout(r.timeoutFor(req))}
	mws = append(mws, r.use...)
	return Chain(guarded, mws...)(ctx, req)
}

func (r *Router) isAdmin(ctx context.Context, id int64) (bool, error) {
	if r.admins == nil {
		return false, nil
	}
	return r.admins.IsAdmin(ctx, id)
}

func (r *Router) timeoutFor(req *Request) time.Duration {
	if c, ok := r.cmds[req.Route]; ok && c.Timeout > 0 {
		return c.Timeout
	}
	return r.timeout
}

func (r *Router) route(up kit.Update) (*Request, HandlerFunc, Access) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return nil, nil, AccessEveryone
		}
		return r.routeMessage(up)
	case kit.UpdateCallback:
		if up.Callback == nil {
			return nil, nil, AccessEveryone
		}
		return r.routeCallback(up)
	}
	return nil, nil, AccessEveryone
}

func (r *Router) routeMessage(up kit.Update) (*Request, HandlerFunc, Access) {
	msg := up.Message
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID},
		From:    msg.From,
		Message: msg,
		Route:   "message",
	}
	name, rest, isCmd := parseCommand(msg.Text)
	if isCmd && msg.Media == kit.MediaNone {
		if c, ok := r.cmds[name]; ok {
			req.Route = c.Name
			req.RawArgs = rest
			req.Args = strings.Fields(rest)
			return req, c.Handle, c.Access
		}
		r.log.Debug("unknown command", logx.String("cmd", name), logx.Int64("from_id", msg.From.ID))
	}
	return req, r.fallback, AccessEveryone
}

func (r *Router) routeCallback(up kit.Update) (*Request, HandlerFunc, Access) {
	cb := up.Callback
	scope, action, payload, err := tgui.ParseData(strings.TrimSpace(cb.Data))
	if err != nil {
		r.log.Debug("malformed callback", logx.String("data", cb.Data))
		return nil, nil, AccessEveryone
	}
	cr, ok := r.callbacks[scope+":"+action]
	if !ok {
		cr, ok = r.callbacks[scope+":"]
	}
	if !ok {
		r.log.Debug("unrouted callback", logx.String("scope", scope), logx.String("action", action))
		return nil, nil, AccessEveryone
	}
	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: cb.ChatID},
		From:     cb.From,
		Callback: cb,
		Route:    "cb:" + scope + ":" + action,
		Payload:  payload,
	}
	return req, cr.Handle, cr.Access
}

// parseCommand splits "/name@bot rest" into its parts.
func parseCommand(text string) (name, rest string, ok bool) {
	text = strings.TrimLeft(text, " \t")
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(word, "\n\t"); i >= 0 {
		rest = word[i+1:] + " " + rest
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", "", false
	}
	return word, strings.TrimSpace(rest), true
}
