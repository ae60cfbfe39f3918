package tokens

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// Estimator approximates token counts for context budgeting. It uses the
// cl100k_base BPE when available and falls back to a runes/4 heuristic, which
// keeps the count monotonic in content length either way.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) Count(text string) int {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			slog.Warn("Failed to load token encoding, using rune estimate",
				"encoding", encodingName,
				"error", err)
			return
		}

		e.enc = enc
	})

	if e.enc == nil {
		return utf8.RuneCountInString(text)/4 + 1
	}

	return len(e.enc.Encode(text, nil, nil))
}
