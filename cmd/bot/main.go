// Command bot runs the channel digest bot: the Telegram update loop, the
// digest scheduler and the /healthz endpoint.
package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/ykvlv/digest-bot/internal/app"
	"github.com/ykvlv/digest-bot/internal/config"
	"github.com/ykvlv/digest-bot/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		// No logger yet.
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		return 2
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger init error: " + err.Error() + "\n")
		return 2
	}
	defer func() { _ = log.Sync() }()

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("app init failed", zap.Error(err))
		return 1
	}
	if err := application.Run(context.Background()); err != nil {
		log.Error("app run failed", zap.Error(err))
		return 1
	}
	return 0
}
