package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"valera/app/client/ollama"
	"valera/app/client/telegram"
	"valera/app/config"
	"valera/app/service/command"
	"valera/app/service/conversation"
	"valera/app/service/engine"
	"valera/app/service/history"
	"valera/app/service/queue"
	"valera/app/service/settings"
	"valera/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
)

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, telegram.NewClient)
	do.Provide(di, ollama.NewClient)
	do.Provide(di, settings.New)
	do.Provide(di, history.New)
	do.Provide(di, queue.New)
	do.Provide(di, command.New)
	do.Provide(di, conversation.New)
	do.Provide(di, engine.New)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	if err = do.MustInvoke[*ollama.Client](di).WaitReady(appCtx); err != nil {
		log.Fatalf("ollama is not available: %v", err)
	}

	slog.Info("Service started")

	go do.MustInvoke[*engine.Service](di).Run(appCtx)

	<-appCtx.Done()
}
