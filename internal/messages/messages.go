// Package messages holds every user-facing text of the bot.
//
// Templates are HTML (Telegram ParseMode="HTML") with {name} placeholders.
// Each key declares the placeholders it accepts; overrides that use an
// unknown key or placeholder are rejected when the catalog is loaded.
package messages

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"postbot/internal/config"
	"postbot/pkg/tgui"
)

type Key string

const (
	Welcome Key = "welcome.greeting"
	Support Key = "support.message"

	SubscriptionRequired Key = "subscription.check_required"
	NotSubscribed        Key = "subscription.not_subscribed"

	BtnWritePost     Key = "buttons.write_post"
	BtnSupport       Key = "buttons.support"
	BtnCheckSub      Key = "buttons.check_subscription"
	BtnSkipMedia     Key = "buttons.skip_media"
	BtnAnonymous     Key = "buttons.anonymous"
	BtnLeaveContact  Key = "buttons.leave_contact"
	BtnYesSend       Key = "buttons.yes_send"
	BtnNoRestart     Key = "buttons.no_restart"
	BtnApprove       Key = "buttons.approve"
	BtnReject        Key = "buttons.reject"
	AskText          Key = "post_creation.write_description"
	AskMedia         Key = "post_creation.add_media"
	AskAnonymity     Key = "post_creation.choose_anonymity"
	NoHandle         Key = "post_creation.no_username"
	Preview          Key = "post_creation.preview"
	SentForReview    Key = "post_creation.sent_for_review"
	InvalidPost      Key = "post_creation.invalid"
	SubmitFailed     Key = "post_creation.failed"
	MediaNone        Key = "status.media_none"
	MediaPhoto       Key = "status.media_photo"
	MediaVideo       Key = "status.media_video"
	ContactAnonymous Key = "status.contact_anonymous"
	ContactHandle    Key = "status.contact_handle"
	Yes              Key = "status.flag_yes"
	No               Key = "status.flag_no"

	ModPrompt          Key = "moderation.prompt"
	ModAuthor          Key = "moderation.author"
	ModAuthorNoHandle  Key = "moderation.author_no_handle"
	ModDecidedApproved Key = "moderation.decided_approved"
	ModDecidedRejected Key = "moderation.decided_rejected"
	ModAnswerApproved  Key = "moderation.answer_approved"
	ModAnswerRejected  Key = "moderation.answer_rejected"
	ModAlreadyDecided  Key = "moderation.already_decided"
	ModNotAdmin        Key = "moderation.not_admin"
	ModPostMissing     Key = "moderation.post_missing"
	BannedNotice       Key = "moderation.user_banned_notification"
	UnbannedNotice     Key = "moderation.user_unbanned_notification"
	BannedAdmin        Key = "moderation.user_banned_admin"
	UnbannedAdmin      Key = "moderation.user_unbanned_admin"

	ChannelPost          Key = "channel.post"
	ChannelPostAnonymous Key = "channel.post_anonymous"
	UserApproved         Key = "user_notifications.approved"
	UserRejected         Key = "user_notifications.rejected"

	AdminHelp          Key = "admin_commands.admin_help"
	NotAdmin           Key = "admin_commands.not_admin"
	Usage              Key = "admin_commands.usage"
	Stats              Key = "admin_commands.stats"
	UserStats          Key = "admin_commands.user_stats"
	UserUnknown        Key = "admin_commands.user_unknown"
	AdminAdded         Key = "admin_commands.admin_added"
	AdminExists        Key = "admin_commands.admin_exists"
	AdminRemoved       Key = "admin_commands.admin_removed"
	AdminMissing       Key = "admin_commands.admin_missing"
	CannotRemoveSelf   Key = "admin_commands.cannot_remove_self"
	PendingEmpty       Key = "admin_commands.pending_empty"
	PendingRedelivered Key = "admin_commands.pending_redelivered"
	CommandError       Key = "admin_commands.error"

	BroadcastStarting  Key = "broadcast.starting"
	BroadcastFinished  Key = "broadcast.finished"
	BroadcastQueueFull Key = "broadcast.queue_full"

	DigestPending Key = "digest.pending"
)

// params lists, in order, the placeholders each key accepts.
var params = map[Key][]string{
	Welcome: nil, Support: nil,
	SubscriptionRequired: {"channel"}, NotSubscribed: {"channel"},

	BtnWritePost: nil, BtnSupport: nil, BtnCheckSub: nil, BtnSkipMedia: nil, BtnAnonymous: nil,
	BtnLeaveContact: nil, BtnYesSend: nil, BtnNoRestart: nil, BtnApprove: nil, BtnReject: nil,

	AskText: nil, AskMedia: nil, AskAnonymity: nil, NoHandle: nil,
	Preview:       {"text", "media_status", "contact"},
	SentForReview: {"post_id"},
	InvalidPost:   {"reason"},
	SubmitFailed:  nil,
	MediaNone:     nil, MediaPhoto: nil, MediaVideo: nil, ContactAnonymous: nil,
	ContactHandle: {"username"},
	Yes:           nil, No: nil,

	ModPrompt:          {"post_id", "author", "media_status", "contact", "text"},
	ModAuthor:          {"username", "user_id"},
	ModAuthorNoHandle:  {"name", "user_id"},
	ModDecidedApproved: {"post_id", "admin"},
	ModDecidedRejected: {"post_id", "admin"},
	ModAnswerApproved:  nil, ModAnswerRejected: nil, ModAlreadyDecided: nil, ModNotAdmin: nil, ModPostMissing: nil,
	BannedNotice: nil, UnbannedNotice: nil,
	BannedAdmin:   {"user"},
	UnbannedAdmin: {"user"},

	ChannelPost:          {"text", "author"},
	ChannelPostAnonymous: {"text"},
	UserApproved:         {"post_id"},
	UserRejected:         {"post_id"},

	AdminHelp: nil, NotAdmin: nil,
	Usage:              {"usage"},
	Stats:              {"users", "banned", "posts", "pending", "approved", "rejected"},
	UserStats:          {"user", "posts", "banned"},
	UserUnknown:        {"user"},
	AdminAdded:         {"user"},
	AdminExists:        {"user"},
	AdminRemoved:       {"user"},
	AdminMissing:       {"user"},
	CannotRemoveSelf:   nil,
	PendingEmpty:       nil,
	PendingRedelivered: {"count"},
	CommandError:       nil,

	BroadcastStarting:  {"job", "text"},
	BroadcastFinished:  {"success", "failed"},
	BroadcastQueueFull: nil,

	DigestPending: {"count", "oldest_id"},
}

//go:embed messages.yaml
var defaultYAML []byte

var placeholderRE = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Catalog renders templates. It is immutable after Load.
type Catalog struct {
	tmpl map[Key]string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := parse(defaultYAML, nil)
	if err != nil {
		panic("messages: built-in catalog is invalid: " + err.Error())
	}
	return c
}

// Load returns the built-in catalog with the overrides in path applied.
// An empty path yields the defaults. Every problem is a config.ErrConfig.
func Load(path string) (*Catalog, error) {
	base := Default()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: messages: %w", config.ErrConfig, err)
	}
	c, err := parse(b, base.tmpl)
	if err != nil {
		return nil, fmt.Errorf("%w: messages %s: %w", config.ErrConfig, path, err)
	}
	return c, nil
}

func parse(b []byte, base map[Key]string) (*Catalog, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return nil, err
	}
	flat := map[string]string{}
	if err := flatten("", tree, flat); err != nil {
		return nil, err
	}

	c := &Catalog{tmpl: make(map[Key]string, len(params))}
	for k, v := range base {
		c.tmpl[k] = v
	}
	var problems []string
	for k, v := range flat {
		key := Key(k)
		allowed, known := params[key]
		if !known {
			problems = append(problems, fmt.Sprintf("unknown key %q", k))
			continue
		}
		for _, m := range placeholderRE.FindAllStringSubmatch(v, -1) {
			if !contains(allowed, m[1]) {
				problems = append(problems, fmt.Sprintf("%s: unknown placeholder {%s}", k, m[1]))
			}
		}
		c.tmpl[key] = v
	}
	if base == nil {
		for k := range params {
			if _, ok := c.tmpl[k]; !ok {
				problems = append(problems, fmt.Sprintf("missing key %q", k))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return c, nil
}

func flatten(prefix string, in map[string]any, out map[string]string) error {
	for k, v := range in {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch x := v.(type) {
		case map[string]any:
			if err := flatten(path, x, out); err != nil {
				return err
			}
		case string:
			out[path] = x
		default:
			return fmt.Errorf("%s: expected a string, got %T", path, v)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Text renders key with args bound positionally to its declared placeholders.
// Strings are HTML-escaped; tgui.H values are inserted verbatim.
func (c *Catalog) Text(k Key, args ...any) string {
	t, ok := c.tmpl[k]
	if !ok {
		return string(k)
	}
	names := params[k]
	if len(names) == 0 {
		return t
	}
	pairs := make([]string, 0, 2*len(names))
	for i, name := range names {
		var v string
		if i < len(args) {
			v = render(args[i])
		}
		pairs = append(pairs, "{"+name+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(t)
}

func render(v any) string {
	switch x := v.(type) {
	case tgui.H:
		return x.String()
	case string:
		return tgui.Esc(x).String()
	default:
		return tgui.Esc(fmt.Sprint(x)).String()
	}
}

// YesNo renders a flag as the catalog's yes or no.
func (c *Catalog) YesNo(v bool) string {
	if v {
		return c.Text(Yes)
	}
	return c.Text(No)
}

// Button returns a keyboard label. Labels are plain text.
func (c *Catalog) Button(k Key) string {
	return c.tmpl[k]
}

// Keys lists every known key in sorted order.
func Keys() []Key {
	out := make([]Key, 0, len(params))
	for k := range params {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
