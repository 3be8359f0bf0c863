package handlers

import (
	"context"
	"errors"

	"postbot/internal/conversation"
	"postbot/internal/messages"
	"postbot/internal/moderation"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/internal/transport/telegram/router"
	"postbot/pkg/logx"
	"postbot/pkg/tgui"
)

func (h *Handlers) mainMenu() any {
	return tgui.NewReply().Row(h.Msgs.Button(messages.BtnWritePost)).Row(h.Msgs.Button(messages.BtnSupport)).Markup()
}

func (h *Handlers) checkSubMenu() any {
	return tgui.NewReply().Row(h.Msgs.Button(messages.BtnCheckSub)).Markup()
}

func (h *Handlers) start(ctx context.Context, req *router.Request) error {
	if !req.Message.IsPrivate {
		return nil
	}
	banned, err := h.isBanned(ctx, req.From.ID)
	if err != nil {
		return err
	}
	if banned {
		h.reply(ctx, req, h.Msgs.Text(messages.BannedNotice), tgui.RemoveKeyboard())
		return nil
	}
	ok, err := h.gate(ctx, req, messages.SubscriptionRequired)
	if err != nil || !ok {
		return err
	}
	h.reply(ctx, req, h.Msgs.Text(messages.Welcome), h.mainMenu())
	return nil
}

// gate checks the channel subscription and tells the user when it is missing.
func (h *Handlers) gate(ctx context.Context, req *router.Request, missing messages.Key) (bool, error) {
	if !h.SubscriptionGate {
		return true, nil
	}
	st, err := h.Adapter.MemberStatus(ctx, h.Channel, req.From.ID)
	if err != nil {
		req.Logger.Warn("subscription check failed", logx.Err(err))
	}
	if err == nil && st.Subscribed() {
		return true, nil
	}
	h.reply(ctx, req, h.Msgs.Text(missing, h.channelLabel()), h.checkSubMenu())
	return false, nil
}

func (h *Handlers) isBanned(ctx context.Context, id int64) (bool, error) {
	u, err := h.Store.GetUser(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Banned, nil
}

// onMessage handles menu buttons and conversation input in private chats.
func (h *Handlers) onMessage(ctx context.Context, req *router.Request) error {
	msg := req.Message
	if !msg.IsPrivate {
		return nil
	}
	switch msg.Text {
	case h.Msgs.Button(messages.BtnSupport):
		if msg.Media == kit.MediaNone {
			h.reply(ctx, req, h.Msgs.Text(messages.Support), nil)
			return nil
		}
	case h.Msgs.Button(messages.BtnCheckSub):
		if msg.Media == kit.MediaNone {
			ok, err := h.gate(ctx, req, messages.NotSubscribed)
			if err != nil || !ok {
				return err
			}
			h.reply(ctx, req, h.Msgs.Text(messages.Welcome), h.mainMenu())
			return nil
		}
	case h.Msgs.Button(messages.BtnWritePost):
		if msg.Media == kit.MediaNone {
			banned, err := h.isBanned(ctx, req.From.ID)
			if err != nil {
				return err
			}
			if !banned {
				ok, err := h.gate(ctx, req, messages.SubscriptionRequired)
				if err != nil || !ok {
					return err
				}
			}
			return h.converse(ctx, req, conversation.Input{Kind: conversation.InputCreate})
		}
	}

	in, ok := h.classify(req)
	if !ok {
		return nil
	}
	return h.converse(ctx, req, in)
}

// classify maps a message to a conversation input for the user's state.
func (h *Handlers) classify(req *router.Request) (conversation.Input, bool) {
	msg := req.Message
	state := h.Machine.State(req.From.ID)
	if state == conversation.Idle {
		return conversation.Input{}, false
	}
	switch msg.Media {
	case kit.MediaPhoto:
		return conversation.Input{Kind: conversation.InputPhoto, MediaRef: msg.MediaRef}, true
	case kit.MediaVideo:
		return conversation.Input{Kind: conversation.InputVideo, MediaRef: msg.MediaRef}, true
	}
	btn := func(k messages.Key) bool { return msg.Text == h.Msgs.Button(k) }
	switch {
	case state == conversation.AwaitingMedia && btn(messages.BtnSkipMedia):
		return conversation.Input{Kind: conversation.InputSkip}, true
	case state == conversation.AwaitingAnonymity && btn(messages.BtnAnonymous):
		return conversation.Input{Kind: conversation.InputAnonymous}, true
	case state == conversation.AwaitingAnonymity && btn(messages.BtnLeaveContact):
		return conversation.Input{Kind: conversation.InputAttributed}, true
	case state == conversation.AwaitingConfirmation && btn(messages.BtnYesSend):
		return conversation.Input{Kind: conversation.InputConfirm}, true
	case state == conversation.AwaitingConfirmation && btn(messages.BtnNoRestart):
		return conversation.Input{Kind: conversation.InputRestart}, true
	}
	if msg.Text == "" {
		return conversation.Input{}, false
	}
	return conversation.Input{Kind: conversation.InputText, Text: msg.Text}, true
}

func (h *Handlers) converse(ctx context.Context, req *router.Request, in conversation.Input) error {
	in.UserID = req.From.ID
	in.Username = req.From.Username
	res, err := h.Machine.Handle(ctx, in)
	if err != nil {
		h.reply(ctx, req, h.Msgs.Text(messages.SubmitFailed), nil)
		return err
	}
	h.render(ctx, req, res)
	return nil
}

func (h *Handlers) render(ctx context.Context, req *router.Request, res conversation.Result) {
	switch res.Reply {
	case conversation.ReplyNone:
	case conversation.ReplyBanned:
		h.reply(ctx, req, h.Msgs.Text(messages.BannedNotice), tgui.RemoveKeyboard())
	case conversation.ReplyAskText:
		h.reply(ctx, req, h.Msgs.Text(messages.AskText), tgui.RemoveKeyboard())
	case conversation.ReplyAskMedia:
		h.reply(ctx, req, h.Msgs.Text(messages.AskMedia), tgui.NewReply().Row(h.Msgs.Button(messages.BtnSkipMedia)).Markup())
	case conversation.ReplyAskAnonymity, conversation.ReplyNoHandle:
		kb := tgui.NewReply().Row(h.Msgs.Button(messages.BtnAnonymous), h.Msgs.Button(messages.BtnLeaveContact)).Markup()
		key := messages.AskAnonymity
		if res.Reply == conversation.ReplyNoHandle {
			key = messages.NoHandle
		}
		h.reply(ctx, req, h.Msgs.Text(key), kb)
	case conversation.ReplyPreview:
		h.preview(ctx, req, res)
	case conversation.ReplySubmitted:
		h.reply(ctx, req, h.Msgs.Text(messages.SentForReview, res.PostID), h.mainMenu())
	case conversation.ReplyInvalid:
		reason := ""
		if res.Invalid != nil {
			reason = res.Invalid.Detail
		}
		h.reply(ctx, req, h.Msgs.Text(messages.InvalidPost, reason), tgui.RemoveKeyboard())
	}
}

func (h *Handlers) preview(ctx context.Context, req *router.Request, res conversation.Result) {
	d := res.Draft
	text := h.Msgs.Text(messages.Preview,
		d.Text,
		tgui.Raw(moderation.MediaStatus(h.Msgs, d.MediaKind)),
		tgui.Raw(moderation.Contact(h.Msgs, d.Anonymous, req.From.Username)),
	)
	kb := tgui.NewReply().Row(h.Msgs.Button(messages.BtnYesSend), h.Msgs.Button(messages.BtnNoRestart)).Markup()
	opt := kit.HTML(kb)
	if d.MediaKind != kit.MediaNone {
		if _, ok := h.Send.Media(ctx, req.Chat, kit.Media{Kind: d.MediaKind, Ref: d.MediaRef, Caption: text}, opt); ok {
			return
		}
	}
	h.Send.Text(ctx, req.Chat, text, opt)
}

func (h *Handlers) moderate(ctx context.Context, req *router.Request) error {
	out, err := h.Gateway.Decide(ctx, *req.Callback)
	if err != nil {
		return err
	}
	req.Logger.Info("moderation click",
		logx.Int64("post_id", out.PostID),
		logx.String("decision", string(out.Decision)),
		logx.Bool("applied", out.Applied),
		logx.Bool("denied", out.Denied),
		logx.Bool("missing", out.Missing),
	)
	return nil
}
