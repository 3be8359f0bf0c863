package app

import (
	"context"
	"fmt"

	"postbot/internal/config"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	"postbot/pkg/logx"
)

// mustTarget parses a chat reference that config.Validate already accepted.
func mustTarget(s string) kit.ChatTarget {
	t, err := kit.ParseTarget(s)
	if err != nil {
		panic(fmt.Sprintf("app: unvalidated chat %q: %v", s, err))
	}
	return t
}

// bootstrapAdmins grants the configured ids admin rights. Admins added at
// runtime are left alone.
func bootstrapAdmins(ctx context.Context, st storage.Store, cfg *config.Config, log logx.Logger) error {
	if err := st.BootstrapAdmins(ctx, cfg.Telegram.AdminIDs); err != nil {
		return err
	}
	ids, err := st.ListAdminIDs(ctx)
	if err != nil {
		return err
	}
	log.Info("admins ready", logx.Int("configured", len(cfg.Telegram.AdminIDs)), logx.Int("total", len(ids)))
	return nil
}
