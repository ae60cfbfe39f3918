package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"valera/app/service/history"
	"valera/app/service/queue"

	_ "embed"

	"github.com/tmc/langchaingo/llms"
)

//go:embed prompt_summary.txt
var summaryPrompt string

const maxSummaryMessages = 1000

// "!5 messages" and the legacy russian form; any user may invoke it.
var summaryPattern = regexp.MustCompile(`^!(\d+)\s+(?:messages?|сообщени[йяе])`)

func parseSummaryCommand(text string) (int, bool) {
	match := summaryPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(text)))
	if match == nil {
		return 0, false
	}

	count, err := strconv.Atoi(match[1])
	if err != nil {
		// matched digits too large for int, reject downstream
		return 0, true
	}

	return count, true
}

func (s *Service) handleSummary(ctx context.Context, msg queue.Message, count int) {
	if count <= 0 || count > maxSummaryMessages {
		s.replyText(msg, fmt.Sprintf("❌ Количество сообщений должно быть от 1 до %d", maxSummaryMessages))
		return
	}

	slog.Info("Summary requested",
		"chat_id", msg.ChatID,
		"username", msg.Username,
		"count", count,
		"telegram", true)

	entries := s.historySvc.LastN(msg.ChatID, count)

	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Role != history.RoleUser || !summaryWorthy(entry.Content) {
			continue
		}
		lines = append(lines, entry.Content)
	}

	if len(lines) == 0 {
		s.replyText(msg, "❌ Нет сообщений для анализа")
		return
	}

	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(strings.ReplaceAll(summaryPrompt, "{count}", strconv.Itoa(count))),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart("Сообщения для анализа:\n\n" + strings.Join(lines, "\n")),
			},
		},
	}

	summary, err := s.gen.GenerateText(ctx, s.settings.Model(), messages)
	if err != nil {
		slog.Error("Failed to generate summary",
			"chat_id", msg.ChatID,
			"username", msg.Username,
			"error", err)
		s.apologize(msg)
		return
	}

	s.replyText(msg, fmt.Sprintf("📝 Саммари по %d сообщениям:\n\n%s", len(lines), summary))
}

// summaryWorthy skips commands and messages too short to carry meaning.
// Context entries are stored as "@user: text", the filter applies to the
// text part.
func summaryWorthy(content string) bool {
	text := content
	if _, after, ok := strings.Cut(content, ": "); ok {
		text = after
	}
	text = strings.TrimSpace(text)

	return utf8.RuneCountInString(text) >= 3 && !strings.HasPrefix(text, "!")
}

func (s *Service) replyText(msg queue.Message, text string) {
	if _, err := s.sender.Reply(msg.ChatID, msg.MessageID, text); err != nil {
		slog.Error("Failed to send reply",
			"chat_id", msg.ChatID,
			"error", err)
	}
}
