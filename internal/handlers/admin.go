package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"postbot/internal/messages"
	"postbot/internal/notifier/broadcast"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/internal/transport/telegram/router"
	"postbot/pkg/logx"
	"postbot/pkg/tgui"
)

func (h *Handlers) usage(ctx context.Context, req *router.Request, usage string) error {
	h.reply(ctx, req, h.Msgs.Text(messages.Usage, usage), nil)
	return nil
}

func (h *Handlers) fail(ctx context.Context, req *router.Request, err error) error {
	h.reply(ctx, req, h.Msgs.Text(messages.CommandError), nil)
	return err
}

func (h *Handlers) adminHelp(ctx context.Context, req *router.Request) error {
	h.reply(ctx, req, h.Msgs.Text(messages.AdminHelp), nil)
	return nil
}

func (h *Handlers) ban(ctx context.Context, req *router.Request) error {
	return h.setBanned(ctx, req, true)
}

func (h *Handlers) unban(ctx context.Context, req *router.Request) error {
	return h.setBanned(ctx, req, false)
}

func (h *Handlers) setBanned(ctx context.Context, req *router.Request, banned bool) error {
	id, ok := parseID(req.Args)
	if !ok {
		if banned {
			return h.usage(ctx, req, "/ban ID")
		}
		return h.usage(ctx, req, "/unban ID")
	}
	if err := h.Store.SetBanned(ctx, id, banned); err != nil {
		return h.fail(ctx, req, err)
	}
	req.Logger.Info("ban changed", logx.Int64("user_id", id), logx.Bool("banned", banned))

	notice, ack := messages.UnbannedNotice, messages.UnbannedAdmin
	if banned {
		notice, ack = messages.BannedNotice, messages.BannedAdmin
		h.Machine.Reset(id)
	}
	h.Send.Text(ctx, kit.ChatTarget{ChatID: id}, h.Msgs.Text(notice), kit.HTML(nil))
	h.reply(ctx, req, h.Msgs.Text(ack, id), nil)
	return nil
}

func (h *Handlers) stats(ctx context.Context, req *router.Request) error {
	if len(req.Args) > 0 {
		id, ok := parseID(req.Args)
		if !ok {
			return h.usage(ctx, req, "/stats [ID]")
		}
		return h.userStats(ctx, req, id)
	}
	st, err := h.Store.GetStats(ctx)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	h.reply(ctx, req, h.Msgs.Text(messages.Stats, st.Users, st.Banned, st.Posts, st.Pending, st.Approved, st.Rejected), nil)
	return nil
}

func (h *Handlers) userStats(ctx context.Context, req *router.Request, id int64) error {
	u, err := h.Store.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		h.reply(ctx, req, h.Msgs.Text(messages.UserUnknown, id), nil)
		return nil
	}
	if err != nil {
		return h.fail(ctx, req, err)
	}
	n, err := h.Store.CountUserPosts(ctx, id)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	label := strconv.FormatInt(id, 10)
	if u.Username != "" {
		label = "@" + u.Username + " (" + label + ")"
	}
	h.reply(ctx, req, h.Msgs.Text(messages.UserStats, label, n, tgui.Raw(h.Msgs.YesNo(u.Banned))), nil)
	return nil
}

func (h *Handlers) broadcast(ctx context.Context, req *router.Request) error {
	text := strings.TrimSpace(req.RawArgs)
	job, err := h.Broadcast.Broadcast(ctx, req.From.ID, text)
	switch {
	case errors.Is(err, broadcast.ErrEmptyText):
		return h.usage(ctx, req, "/broadcast TEXT")
	case errors.Is(err, broadcast.ErrQueueFull):
		h.reply(ctx, req, h.Msgs.Text(messages.BroadcastQueueFull), nil)
		return nil
	case err != nil:
		return h.fail(ctx, req, err)
	}
	req.Logger.Info("broadcast queued", logx.String("job", job.ID), logx.Int("recipients", job.Total))
	h.reply(ctx, req, h.Msgs.Text(messages.BroadcastStarting, shortID(job.ID), tgui.TruncRunes(text, 300)), nil)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (h *Handlers) addAdmin(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req.Args)
	if !ok {
		return h.usage(ctx, req, "/addadmin ID")
	}
	added, err := h.Store.AddAdmin(ctx, id, req.From.ID)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	key := messages.AdminExists
	if added {
		key = messages.AdminAdded
		req.Logger.Info("admin granted", logx.Int64("user_id", id))
	}
	h.reply(ctx, req, h.Msgs.Text(key, id), nil)
	return nil
}

func (h *Handlers) delAdmin(ctx context.Context, req *router.Request) error {
	id, ok := parseID(req.Args)
	if !ok {
		return h.usage(ctx, req, "/deladmin ID")
	}
	if id == req.From.ID {
		h.reply(ctx, req, h.Msgs.Text(messages.CannotRemoveSelf), nil)
		return nil
	}
	removed, err := h.Store.RemoveAdmin(ctx, id)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	key := messages.AdminMissing
	if removed {
		key = messages.AdminRemoved
		req.Logger.Info("admin revoked", logx.Int64("user_id", id))
	}
	h.reply(ctx, req, h.Msgs.Text(key, id), nil)
	return nil
}

func (h *Handlers) pending(ctx context.Context, req *router.Request) error {
	n, err := h.Gateway.Redeliver(ctx)
	if err != nil {
		return h.fail(ctx, req, err)
	}
	if n == 0 {
		h.reply(ctx, req, h.Msgs.Text(messages.PendingEmpty), nil)
		return nil
	}
	h.reply(ctx, req, h.Msgs.Text(messages.PendingRedelivered, n), nil)
	return nil
}
