package mylog

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"valera/app/config"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"
	slogtelegram "github.com/samber/slog-telegram/v2"
)

func Preinit() {
	slog.SetDefault(slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})))
}

func Init(cfg *config.Config) error {
	router := slogmulti.Router()

	router = router.Add(console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	}))

	if token, chatID := telegramTarget(cfg); token != "" && chatID != "" {
		router = router.Add(
			slogtelegram.Option{
				Level:     slog.LevelDebug,
				Token:     token,
				Username:  chatID,
				AddSource: true,
			}.NewTelegramHandler(),

			func(_ context.Context, r slog.Record) bool {
				hasTelegram := false

				r.Attrs(func(attr slog.Attr) bool {
					if attr.Key == "telegram" {
						hasTelegram = true
						return false
					}

					return true
				})

				return r.Level == slog.LevelError || hasTelegram
			},
		)
	}

	slog.SetDefault(slog.New(router.Handler()))

	return nil
}

// telegramTarget resolves where alert records go: the dedicated log bot and
// chat when configured, falling back to the main bot token and the service
// chat.
func telegramTarget(cfg *config.Config) (string, string) {
	token := cfg.Log.Telegram.Token
	if token == "" {
		token = cfg.Telegram.Token
	}

	chatID := cfg.Log.Telegram.ChatID
	if chatID == "" && cfg.Bot.ServiceChatID != 0 {
		chatID = strconv.FormatInt(cfg.Bot.ServiceChatID, 10)
	}

	return token, chatID
}
