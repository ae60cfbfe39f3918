package queue

import (
	"log/slog"

	"github.com/samber/do"
)

const bufferSize = 64

var _ do.Shutdownable = (*Service)(nil)

// Service is the bounded inbound buffer between the Telegram update stream
// and the engine. When it overflows the message is dropped with a warning,
// there is no further admission control.
type Service struct {
	queue chan Message
}

// Message is an inbound chat message, reduced to what the handlers need.
type Message struct {
	ChatID    int64
	MessageID int
	Username  string
	Text      string
	Private   bool

	// ID of the message this one replies to, 0 if none
	ReplyToMessageID int

	// File ID of the largest attached photo, empty if none
	PhotoFileID string
	// Set for non-photo attachments (stickers, video, documents)
	HasMedia bool
}

func New(_ *do.Injector) (*Service, error) {
	return &Service{
		queue: make(chan Message, bufferSize),
	}, nil
}

func (s *Service) Add(msg Message) {
	defer func() {
		if r := recover(); r != nil {

		}
	}()

	select {
	case s.queue <- msg:
	default:
		slog.Warn("message queue is full",
			"chat_id", msg.ChatID)
	}
}

func (s *Service) Channel() <-chan Message {
	return s.queue
}

func (s *Service) Shutdown() error {
	close(s.queue)

	return nil
}
