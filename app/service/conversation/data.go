package conversation

import (
	"context"
	"sync"

	"github.com/elliotchance/pie/v2"
	"github.com/tmc/langchaingo/llms"
)

// Generator is the inference surface the handler needs, implemented by the
// ollama client.
type Generator interface {
	GenerateText(ctx context.Context, model string, messages []llms.MessageContent) (string, error)
	DescribeImage(ctx context.Context, model, prompt string, image []byte) (string, error)
}

// Sender is the outbound surface of the telegram client.
type Sender interface {
	Reply(chatID int64, replyTo int, text string) (int, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

const sentHistorySize = 100

// sentRing remembers the last messages the bot sent, so replies to them can
// be detected.
type sentRing struct {
	mu  sync.Mutex
	ids []int
}

func (r *sentRing) add(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ids) >= sentHistorySize {
		r.ids = append(r.ids[1:], id)
	} else {
		r.ids = append(r.ids, id)
	}
}

func (r *sentRing) contains(id int) bool {
	if id == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return pie.Contains(r.ids, id)
}
