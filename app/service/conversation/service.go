package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"valera/app/client/ollama"
	"valera/app/client/telegram"
	"valera/app/config"
	"valera/app/service/history"
	"valera/app/service/queue"
	"valera/app/service/settings"

	_ "embed"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/tmc/langchaingo/llms"
)

//go:embed prompt_main.txt
var mainPrompt string

//go:embed prompt_interject.txt
var interjectPrompt string

//go:embed prompt_informal.txt
var informalPrompt string

//go:embed prompt_image.txt
var imagePrompt string

//go:embed prompt_image_caption.txt
var imageCaptionPrompt string

const (
	// random replies are suppressed until a chat accumulates some context
	minContextForRandom = 5

	apologyText = "Что-то я призадумался и не смог ответить. Попробуй ещё раз позже."
)

// Service decides response eligibility, maintains per-chat context and
// produces outbound replies.
type Service struct {
	cfg        *config.Config
	settings   *settings.Service
	historySvc *history.Service
	gen        Generator
	sender     Sender

	sent      *sentRing
	randFloat func() float64
}

func New(di *do.Injector) (*Service, error) {
	return newService(
		do.MustInvoke[*config.Config](di),
		do.MustInvoke[*settings.Service](di),
		do.MustInvoke[*history.Service](di),
		do.MustInvoke[*ollama.Client](di),
		do.MustInvoke[*telegram.Client](di),
	), nil
}

func newService(
	cfg *config.Config,
	settingsSvc *settings.Service,
	historySvc *history.Service,
	gen Generator,
	sender Sender,
) *Service {
	return &Service{
		cfg:        cfg,
		settings:   settingsSvc,
		historySvc: historySvc,
		gen:        gen,
		sender:     sender,
		sent:       &sentRing{},
		randFloat:  rand.Float64,
	}
}

// HandleMessage is the per-message entry point. It never returns an error:
// every failure is logged (errors reach the service chat through the log
// router) and at worst answered with a generic apology.
func (s *Service) HandleMessage(ctx context.Context, msg queue.Message) {
	if count, ok := parseSummaryCommand(msg.Text); ok {
		s.handleSummary(ctx, msg, count)
		return
	}

	switch {
	case msg.PhotoFileID != "":
		s.handleImageMessage(ctx, msg)
	case msg.HasMedia:
		s.historySvc.Append(msg.ChatID, history.RoleUser,
			fmt.Sprintf("%s: [медиа файл] %s", msg.Username, msg.Text))
	default:
		s.handleTextMessage(ctx, msg)
	}
}

func (s *Service) handleTextMessage(ctx context.Context, msg queue.Message) {
	s.historySvc.Append(msg.ChatID, history.RoleUser,
		fmt.Sprintf("%s: %s", msg.Username, msg.Text))

	switch {
	case msg.Private:
		s.respond(ctx, msg, false)
	case s.shouldRespond(msg, msg.Text):
		s.respond(ctx, msg, false)
	case s.shouldRespondRandomly(msg):
		s.respond(ctx, msg, true)
	}
}

func (s *Service) handleImageMessage(ctx context.Context, msg queue.Message) {
	image, err := s.sender.DownloadFile(ctx, msg.PhotoFileID)
	if err != nil {
		slog.Error("Failed to download image",
			"chat_id", msg.ChatID,
			"username", msg.Username,
			"error", err)
		s.historySvc.Append(msg.ChatID, history.RoleUser,
			fmt.Sprintf("%s: [изображение, не удалось обработать] %s", msg.Username, msg.Text))
		return
	}

	description, err := s.gen.DescribeImage(ctx, s.settings.VisionModel(), imageAnalysisPrompt(msg.Text), image)
	if err != nil {
		slog.Error("Failed to analyze image",
			"chat_id", msg.ChatID,
			"username", msg.Username,
			"error", err)
		s.historySvc.Append(msg.ChatID, history.RoleUser,
			fmt.Sprintf("%s: [изображение, ошибка анализа] %s", msg.Username, msg.Text))
		return
	}

	s.historySvc.Append(msg.ChatID, history.RoleUser,
		fmt.Sprintf("%s: [изображение] %s\nОписание изображения: %s", msg.Username, msg.Text, description))

	switch {
	case msg.Private:
		s.respond(ctx, msg, false)
	case s.shouldRespond(msg, msg.Text+" "+description):
		s.respond(ctx, msg, false)
	case s.shouldRespondRandomly(msg):
		s.respond(ctx, msg, true)
	}
}

func (s *Service) shouldRespond(msg queue.Message, text string) bool {
	if s.sent.contains(msg.ReplyToMessageID) {
		return true
	}

	lower := strings.ToLower(text)

	return pie.Any(s.cfg.Bot.Keywords, func(keyword string) bool {
		return strings.Contains(lower, strings.ToLower(keyword))
	})
}

func (s *Service) shouldRespondRandomly(msg queue.Message) bool {
	return s.randFloat() < s.settings.Probability() &&
		s.historySvc.Len(msg.ChatID) > minContextForRandom
}

func (s *Service) respond(ctx context.Context, msg queue.Message, interject bool) {
	messages := s.buildMessages(msg.ChatID, interject)

	slog.Info("Generating response",
		"chat_id", msg.ChatID,
		"interject", interject)

	reply, err := s.gen.GenerateText(ctx, s.settings.Model(), messages)
	if err != nil {
		slog.Error("Failed to generate response",
			"chat_id", msg.ChatID,
			"username", msg.Username,
			"error", err)
		s.apologize(msg)
		return
	}

	sentID, err := s.sender.Reply(msg.ChatID, msg.MessageID, reply)
	if err != nil {
		slog.Error("Failed to send response",
			"chat_id", msg.ChatID,
			"error", err)
		return
	}

	s.sent.add(sentID)
	s.historySvc.Append(msg.ChatID, history.RoleAssistant, reply)
}

func (s *Service) buildMessages(chatID int64, interject bool) []llms.MessageContent {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(s.systemPrompt(chatID, interject))},
		},
	}

	for _, entry := range s.historySvc.Entries(chatID) {
		role := llms.ChatMessageTypeHuman
		if entry.Role == history.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}

		messages = append(messages, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(entry.Content)},
		})
	}

	return messages
}

func (s *Service) systemPrompt(chatID int64, interject bool) string {
	if chatID == s.cfg.Bot.MainChatID {
		if interject {
			return interjectPrompt
		}

		return mainPrompt
	}

	return informalPrompt
}

func (s *Service) apologize(msg queue.Message) {
	if _, err := s.sender.Reply(msg.ChatID, msg.MessageID, apologyText); err != nil {
		slog.Error("Failed to send apology",
			"chat_id", msg.ChatID,
			"error", err)
	}
}

func imageAnalysisPrompt(caption string) string {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return imagePrompt
	}

	return strings.ReplaceAll(imageCaptionPrompt, "{text}", caption)
}
