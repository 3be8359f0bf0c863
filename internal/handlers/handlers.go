// Package handlers connects router requests to the domain services:
// user-facing menus, the post conversation, admin commands and moderation
// buttons.
package handlers

import (
	"context"
	"strconv"
	"strings"

	"postbot/internal/conversation"
	"postbot/internal/messages"
	"postbot/internal/moderation"
	"postbot/internal/notifier"
	"postbot/internal/notifier/broadcast"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/internal/transport/telegram/router"
	"postbot/pkg/logx"
)

type Deps struct {
	Store     storage.Store
	Adapter   kit.Adapter
	Send      *notifier.Sender
	Msgs      *messages.Catalog
	Machine   *conversation.Machine
	Gateway   *moderation.Gateway
	Broadcast *broadcast.Dispatcher

	// Channel is where approved posts go; the subscription gate checks it.
	Channel          kit.ChatTarget
	SubscriptionGate bool

	Log logx.Logger
}

type Handlers struct {
	Deps
	log logx.Logger
}

func New(d Deps) *Handlers {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Msgs == nil {
		d.Msgs = messages.Default()
	}
	return &Handlers{Deps: d, log: d.Log.With(logx.String("comp", "handlers"))}
}

// Register installs every command, callback and the conversation fallback.
func (h *Handlers) Register(r *router.Router) {
	r.Use(h.trackUser)
	r.Denied(h.denied)
	r.Fallback(h.onMessage)

	r.Handle(
		router.Command{Name: "start", Description: "Main menu", Handle: h.start},
		router.Command{Name: "admin", Access: router.AccessAdmin, Handle: h.adminHelp},
		router.Command{Name: "ban", Usage: "/ban ID", Access: router.AccessAdmin, Handle: h.ban},
		router.Command{Name: "unban", Usage: "/unban ID", Access: router.AccessAdmin, Handle: h.unban},
		router.Command{Name: "stats", Usage: "/stats [ID]", Access: router.AccessAdmin, Handle: h.stats},
		router.Command{Name: "broadcast", Aliases: []string{"rasil"}, Usage: "/broadcast TEXT", Access: router.AccessAdmin, Handle: h.broadcast},
		router.Command{Name: "addadmin", Usage: "/addadmin ID", Access: router.AccessAdmin, Handle: h.addAdmin},
		router.Command{Name: "deladmin", Usage: "/deladmin ID", Access: router.AccessAdmin, Handle: h.delAdmin},
		router.Command{Name: "pending", Access: router.AccessAdmin, Handle: h.pending},
	)
	r.HandleCallback(router.CallbackRoute{Scope: moderation.CallbackScope, Handle: h.moderate})
}

// trackUser records every interaction before the handler runs.
func (h *Handlers) trackUser(next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		if req.From.ID != 0 {
			isNew, err := h.Store.UpsertUser(ctx, storage.User{ID: req.From.ID, Username: req.From.Username, FirstName: req.From.FirstName})
			if err != nil {
				req.Logger.Warn("user upsert failed", logx.Err(err))
			} else if isNew {
				req.Logger.Info("new user", logx.String("username", req.From.Username))
			}
		}
		return next(ctx, req)
	}
}

func (h *Handlers) denied(ctx context.Context, req *router.Request) error {
	h.reply(ctx, req, h.Msgs.Text(messages.NotAdmin), nil)
	return nil
}

func (h *Handlers) reply(ctx context.Context, req *router.Request, text string, markup any) {
	h.Send.Text(ctx, req.Chat, text, kit.HTML(markup))
}

func (h *Handlers) channelLabel() string {
	if h.Channel.Username != "" {
		return "@" + h.Channel.Username
	}
	return strconv.FormatInt(h.Channel.ChatID, 10)
}

func parseID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
