package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/lubeve/insider-trading-bot-new/internal/app"
	"github.com/lubeve/insider-trading-bot-new/internal/config"
	"github.com/lubeve/insider-trading-bot-new/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet; the error may name a variable but never carries its value.
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	bot, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("app init failed", zap.Error(err))
	}

	if err := bot.Run(context.Background()); err != nil {
		log.Fatal("app run failed", zap.Error(err))
	}
}
