package router

import (
	"context"
	"sort"
	"strings"
	"unicode"

	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

// sanitizeCommand converts a name into a Telegram-safe bot command.
// Telegram command names are restricted to [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/")))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if r == '_' || r == '-' || unicode.IsSpace(r) {
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// MenuCommands lists the registered commands for the client's "/" menu.
// Admin commands are left out; aliases too.
func (r *Router) MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.order))
	seen := map[string]bool{}
	for _, c := range r.order {
		if c.Access != AccessEveryone || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}

// PublishMenu pushes MenuCommands to adapters that support it.
func (r *Router) PublishMenu(ctx context.Context, ad kit.Adapter) {
	up, ok := ad.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	if err := up.UpdateMenuCommands(ctx, r.MenuCommands()); err != nil {
		r.log.Warn("menu update failed", logx.Err(err))
	}
}
