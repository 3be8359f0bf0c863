package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postbot/internal/app"
	"postbot/internal/config"
	"postbot/pkg/logx"
)

func main() {
	var (
		cfgPath string
		envFile string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml/json")
	flag.StringVar(&envFile, "env", ".env", "optional dotenv file with secrets")
	flag.Parse()

	// used until the app has built its own logging service
	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	if err := config.LoadDotEnv(envFile); err != nil {
		boot.Error("load env file", logx.String("path", envFile), logx.Err(err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		if errors.Is(err, config.ErrConfig) {
			boot.Error("invalid config", logx.String("path", cfgPath), logx.Err(err))
		} else {
			boot.Error("init failed", logx.Err(err))
		}
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		boot.Error("start failed", logx.Err(err))
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.Stop(stopCtx, app.StopFatalError)
		stop()
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		boot.Error("stopped on fatal error", logx.Err(a.Err()))
		stop()
		os.Exit(1)
	}
}
