package command

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"valera/app/client/telegram"
	"valera/app/config"
	"valera/app/service/history"
	"valera/app/service/queue"
	"valera/app/service/settings"

	"github.com/samber/do"
)

// Sender is the outbound surface the interpreter needs.
type Sender interface {
	Reply(chatID int64, replyTo int, text string) (int, error)
}

// Service parses the fixed set of !-prefixed administrative commands and
// mutates the runtime settings. Commands from anyone but the configured
// admin are answered with a permission error and change nothing.
type Service struct {
	cfg        *config.Config
	settings   *settings.Service
	historySvc *history.Service
	sender     Sender
}

func New(di *do.Injector) (*Service, error) {
	return newService(
		do.MustInvoke[*config.Config](di),
		do.MustInvoke[*settings.Service](di),
		do.MustInvoke[*history.Service](di),
		do.MustInvoke[*telegram.Client](di),
	), nil
}

func newService(
	cfg *config.Config,
	settingsSvc *settings.Service,
	historySvc *history.Service,
	sender Sender,
) *Service {
	return &Service{
		cfg:        cfg,
		settings:   settingsSvc,
		historySvc: historySvc,
		sender:     sender,
	}
}

type commandKind int

const (
	cmdNone commandKind = iota
	cmdForget
	cmdProbability
	cmdModel
	cmdVision
	cmdStatus
)

// parse matches trigger tokens case-sensitively after the ! marker.
func parse(text string) (commandKind, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return cmdNone, ""
	}

	body := text[1:]

	switch {
	case body == "forget everything":
		return cmdForget, ""
	case body == "status":
		return cmdStatus, ""
	case body == "probability" || strings.HasPrefix(body, "probability "):
		return cmdProbability, strings.TrimSpace(strings.TrimPrefix(body, "probability"))
	case body == "model" || strings.HasPrefix(body, "model "):
		return cmdModel, strings.TrimSpace(strings.TrimPrefix(body, "model"))
	case body == "vision" || strings.HasPrefix(body, "vision "):
		return cmdVision, strings.TrimSpace(strings.TrimPrefix(body, "vision"))
	default:
		return cmdNone, ""
	}
}

// Handle returns true if the message was an administrative command, whether
// or not it was accepted. Such messages never reach the conversation flow.
func (s *Service) Handle(msg queue.Message) bool {
	kind, arg := parse(msg.Text)
	if kind == cmdNone {
		return false
	}

	if msg.Username != s.cfg.Bot.AdminUsername {
		slog.Info("Rejected admin command",
			"chat_id", msg.ChatID,
			"username", msg.Username,
			"text", msg.Text)
		s.reply(msg, "❌ Эта команда доступна только администратору")
		return true
	}

	switch kind {
	case cmdForget:
		s.historySvc.Clear(msg.ChatID)
		slog.Info("Context cleared",
			"chat_id", msg.ChatID,
			"telegram", true)
		s.reply(msg, "✅ Контекст чата очищен")

	case cmdProbability:
		s.handleProbability(msg, arg)

	case cmdModel:
		if arg == "" {
			s.reply(msg, "❌ Неправильный формат. Используйте: !model <название_модели>")
			return true
		}
		if err := s.settings.SetModel(arg); err != nil {
			s.reply(msg, "❌ "+err.Error())
			return true
		}
		slog.Info("Model updated",
			"model", arg,
			"telegram", true)
		s.reply(msg, "✅ Модель изменена на: "+arg)

	case cmdVision:
		if arg == "" {
			s.reply(msg, "❌ Неправильный формат. Используйте: !vision <название_модели>")
			return true
		}
		if err := s.settings.SetVisionModel(arg); err != nil {
			s.reply(msg, "❌ "+err.Error())
			return true
		}
		slog.Info("Vision model updated",
			"model", arg,
			"telegram", true)
		s.reply(msg, "✅ Vision модель изменена на: "+arg)

	case cmdStatus:
		s.reply(msg, s.statusText(msg.ChatID))
	}

	return true
}

func (s *Service) handleProbability(msg queue.Message, arg string) {
	percent, err := strconv.Atoi(arg)
	if err != nil {
		s.reply(msg, "❌ Неправильный формат. Используйте: !probability <число 0-100>")
		return
	}

	if err := s.settings.SetProbabilityPercent(percent); err != nil {
		s.reply(msg, "❌ Вероятность должна быть от 0 до 100")
		return
	}

	s.reply(msg, fmt.Sprintf("✅ Вероятность ответа установлена: %d%%", percent))
}

func (s *Service) statusText(chatID int64) string {
	snapshot := s.settings.Snapshot()

	return fmt.Sprintf(
		"🤖 Статус бота:\n"+
			"📊 Сообщений в контексте: %d (~%d токенов)\n"+
			"🎲 Вероятность ответа: %.1f%%\n"+
			"🧠 Модель: %s\n"+
			"👁 Vision модель: %s\n"+
			"🔗 Ollama хост: %s",
		s.historySvc.Len(chatID),
		s.historySvc.TotalTokens(chatID),
		snapshot.Probability*100,
		snapshot.Model,
		snapshot.VisionModel,
		s.cfg.Ollama.Host,
	)
}

func (s *Service) reply(msg queue.Message, text string) {
	if _, err := s.sender.Reply(msg.ChatID, msg.MessageID, text); err != nil {
		slog.Error("Failed to send command reply",
			"chat_id", msg.ChatID,
			"error", err)
	}
}
