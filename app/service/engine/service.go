package engine

import (
	"context"
	"log/slog"
	"time"

	"valera/app/client/telegram"
	"valera/app/config"
	"valera/app/service/command"
	"valera/app/service/conversation"
	"valera/app/service/queue"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

// maxWorkers caps concurrent message handling; per-chat ordering is
// serialized by the history locks, so a slow generation in one chat never
// blocks ingestion for others.
const maxWorkers = 16

// Service owns the update loop: telegram updates go through the bounded
// queue and are dispatched to the command interpreter or the conversation
// handler.
type Service struct {
	cfg             *config.Config
	tgClient        *telegram.Client
	queueSvc        *queue.Service
	commandSvc      *command.Service
	conversationSvc *conversation.Service
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		cfg:             do.MustInvoke[*config.Config](di),
		tgClient:        do.MustInvoke[*telegram.Client](di),
		queueSvc:        do.MustInvoke[*queue.Service](di),
		commandSvc:      do.MustInvoke[*command.Service](di),
		conversationSvc: do.MustInvoke[*conversation.Service](di),
	}, nil
}

func (s *Service) Run(ctx context.Context) {
	go s.ingest(ctx, s.tgClient.Updates())

	group := new(errgroup.Group)
	group.SetLimit(maxWorkers)
	defer group.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.queueSvc.Channel():
			if !ok {
				return
			}

			group.Go(func() error {
				s.process(ctx, msg)
				return nil
			})
		}
	}
}

func (s *Service) ingest(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}

			msg, ok := convert(update)
			if !ok {
				continue
			}

			s.queueSvc.Add(msg)
		}
	}
}

func (s *Service) process(ctx context.Context, msg queue.Message) {
	start := time.Now()

	slog.Info("Received message",
		"chat_id", msg.ChatID,
		"username", msg.Username)

	if s.commandSvc.Handle(msg) {
		slog.Info("Processed command",
			"chat_id", msg.ChatID,
			"username", msg.Username,
			"duration", time.Since(start))
		return
	}

	s.conversationSvc.HandleMessage(ctx, msg)

	slog.Info("Processed message",
		"chat_id", msg.ChatID,
		"username", msg.Username,
		"duration", time.Since(start))
}

func convert(update tgbotapi.Update) (queue.Message, bool) {
	m := update.Message
	if m == nil || m.Chat == nil {
		return queue.Message{}, false
	}

	if m.From != nil && m.From.IsBot {
		return queue.Message{}, false
	}

	msg := queue.Message{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Username:  formatUsername(m.From),
		Text:      m.Text,
		Private:   m.Chat.IsPrivate(),
	}

	if m.ReplyToMessage != nil {
		msg.ReplyToMessageID = m.ReplyToMessage.MessageID
	}

	switch {
	case len(m.Photo) > 0:
		// sizes are ordered smallest to largest
		msg.PhotoFileID = m.Photo[len(m.Photo)-1].FileID
		msg.Text = m.Caption
	case m.Sticker != nil || m.Video != nil || m.Document != nil || m.Audio != nil || m.Voice != nil || m.VideoNote != nil:
		msg.HasMedia = true
		if msg.Text == "" {
			msg.Text = m.Caption
		}
	}

	return msg, true
}

func formatUsername(user *tgbotapi.User) string {
	if user == nil {
		return "Unknown"
	}

	if user.UserName != "" {
		return "@" + user.UserName
	}

	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}

	if name == "" {
		return "Unknown"
	}

	return name
}
