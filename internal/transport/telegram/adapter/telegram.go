package adapter

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "postbot/internal/runtime/supervisor"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	in      atomic.Pointer[intake]
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and its helpers; created on Start, cancelled on Stop.
	sup *rtsup.Supervisor

	// updates discarded because the adapter was stopping
	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

// intake is where polled updates go while the adapter runs.
type intake struct {
	out  chan<- kit.Update
	done <-chan struct{}
}

// settings runs handlers on the polling goroutine so updates reach the
// channel in the order Telegram returned them.
func settings(cfg Config) tele.Settings {
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return tele.Settings{
		Token:       cfg.Token,
		Poller:      &tele.LongPoller{Timeout: timeout},
		Synchronous: true,
	}
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(settings(cfg))
	if err != nil {
		return nil, err
	}
	return wrap(cfg, b, log), nil
}

func wrap(cfg Config, b *tele.Bot, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	a.registerHandlers()
	return a
}

// Username returns the bot's own @handle as reported by getMe.
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	onMessage := func(c tele.Context) error {
		if m := c.Message(); m != nil && m.Sender != nil {
			a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: convertMessage(m)})
		}
		return nil
	}
	a.bot.Handle(tele.OnText, onMessage)
	a.bot.Handle(tele.OnPhoto, onMessage)
	a.bot.Handle(tele.OnVideo, onMessage)

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || cb.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				From:      convertUser(cb.Sender),
				ChatID:    m.Chat.ID,
				MessageID: m.ID,
				Data:      cb.Data,
				HasMedia:  m.Photo != nil || m.Video != nil,
			},
		})
		return nil
	})
}

func convertUser(u *tele.User) kit.User {
	return kit.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName}
}

func convertMessage(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:        m.ID,
		ChatID:    m.Chat.ID,
		From:      convertUser(m.Sender),
		Text:      m.Text,
		IsPrivate: m.Private(),
	}
	switch {
	case m.Photo != nil:
		// telebot keeps only the largest size of the photo array
		out.Media, out.MediaRef, out.Text = kit.MediaPhoto, m.Photo.FileID, m.Caption
	case m.Video != nil:
		out.Media, out.MediaRef, out.Text = kit.MediaVideo, m.Video.FileID, m.Caption
	}
	return out
}

// sendUpdate blocks until the consumer takes up, which in turn holds back
// polling. Updates are only discarded once the adapter is stopping.
func (a *Adapter) sendUpdate(up kit.Update) {
	in := a.in.Load()
	if in == nil {
		a.droppedUpdates.Add(1)
		return
	}
	select {
	case in.out <- up:
	case <-in.done:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) attach(ctx context.Context, out chan<- kit.Update) {
	a.in.Store(&intake{out: out, done: ctx.Done()})
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.attach(sup.Context(), out)
	a.runMu.Unlock()

	reportDrops := func() {
		if n := a.droppedUpdates.Swap(0); n > 0 {
			a.log.Warn("incoming updates discarded while stopping", logx.Int64("count", int64(n)))
		}
	}
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				reportDrops()
				return
			case <-ticker.C:
				reportDrops()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it ever returns on its own.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started", logx.String("bot", a.Username()))
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.in.Store(nil)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()
	go a.bot.Stop()

	// Keep shutdown snappy even if getUpdates is still long-polling.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText cuts long text into chunks, preferring newline boundaries
// and never cutting inside an HTML tag when parseMode is HTML.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// recipient addresses a chat by numeric id or public @username.
type recipient kit.ChatTarget

func (r recipient) Recipient() string {
	if r.Username != "" {
		return "@" + strings.TrimPrefix(r.Username, "@")
	}
	return fmt.Sprint(r.ChatID)
}

func sendOptions(opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview}
	if !withMarkup {
		return so
	}
	if rm, ok := opt.ReplyMarkup.(*tele.ReplyMarkup); ok && rm != nil {
		so.ReplyMarkup = rm
	} else if opt.RemoveKeyboard {
		so.ReplyMarkup = &tele.ReplyMarkup{RemoveKeyboard: true}
	}
	return so
}

func deliveryErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, kit.ErrDelivery, err)
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		// markup rides on the first chunk only
		msg, err := a.bot.Send(recipient(to), chunk, sendOptions(opt, i == 0))
		if err != nil {
			return first, deliveryErr("send text", err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendMedia(ctx context.Context, to kit.ChatTarget, m kit.Media, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	var what tele.Sendable
	switch m.Kind {
	case kit.MediaPhoto:
		what = &tele.Photo{File: tele.File{FileID: m.Ref}, Caption: m.Caption}
	case kit.MediaVideo:
		what = &tele.Video{File: tele.File{FileID: m.Ref}, Caption: m.Caption}
	default:
		return a.SendText(ctx, to, m.Caption, opt)
	}
	msg, err := a.bot.Send(recipient(to), what, sendOptions(opt, true))
	if err != nil {
		return kit.MessageRef{}, deliveryErr("send media", err)
	}
	return kit.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.ID}, nil
}

// EditText replaces a message body. Leaving ReplyMarkup nil drops the inline keyboard.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], sendOptions(opt, true)); err != nil {
		return deliveryErr("edit text", err)
	}
	for _, chunk := range chunks[1:] {
		if _, err := a.bot.Send(&tele.Chat{ID: ref.ChatID}, chunk, sendOptions(opt, false)); err != nil {
			return deliveryErr("send text", err)
		}
	}
	return nil
}

func (a *Adapter) EditCaption(ctx context.Context, ref kit.MessageRef, caption string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.EditCaption(m, caption, sendOptions(opt, true)); err != nil {
		return deliveryErr("edit caption", err)
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text}); err != nil {
		return deliveryErr("answer callback", err)
	}
	return nil
}

func (a *Adapter) MemberStatus(ctx context.Context, chat kit.ChatTarget, userID int64) (kit.MemberStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	member, err := a.bot.ChatMemberOf(recipient(chat), &tele.User{ID: userID})
	if err != nil {
		return "", deliveryErr("get chat member", err)
	}
	return kit.MemberStatus(member.Role), nil
}

// UpdateMenuCommands publishes the command menu (setMyCommands), skipping
// the call when the list did not change since the last push.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	list := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" || len(list) >= 100 {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		list = append(list, tele.Command{Text: c.Command, Description: d})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(list); err != nil {
		return deliveryErr("set commands", err)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}
