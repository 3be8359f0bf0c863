package app

import (
	"context"
	"strings"

	"postbot/internal/config"
	"postbot/pkg/logx"
	"postbot/pkg/sdnotify"
)

// Sections read once at start. A reload that touches them is logged and
// otherwise ignored until the next restart.
var restartOnly = map[string]bool{
	"telegram":     true,
	"moderation":   true,
	"conversation": true,
	"storage":      true,
	"messages":     true,
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	sdnotify.Reloading(a.log)
	defer sdnotify.Ready(a.log)

	var pending []string
	for _, s := range sections {
		if restartOnly[s] {
			pending = append(pending, s)
		}
	}
	if len(pending) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect", logx.String("sections", strings.Join(pending, ",")))
	}

	a.logs.Apply(mapLogConfig(next))
	a.broadcast.Apply(mapBroadcastConfig(next))
	if err := a.digest.Apply(mapDigestConfig(next)); err != nil {
		a.log.Warn("digest config rejected; digest stopped", logx.Err(err))
	}
	a.msrv.Reconfigure(ctx, mapMetricsConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
