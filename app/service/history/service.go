package history

import (
	"sync"

	"valera/app/config"
	"valera/app/util/tokens"

	"github.com/samber/do"
)

const maxEntries = 100

// Counter estimates token counts, implemented by tokens.Estimator.
type Counter interface {
	Count(text string) int
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Entry struct {
	Role    string
	Content string
	Tokens  int
}

// Service keeps the rolling conversation context for every chat. Each chat
// gets its own lock, so a slow append in one chat never blocks another, and
// interleaved handlers for the same chat cannot corrupt the eviction order.
//
// Invariant: after every Append the total token estimate of a chat stays
// within the configured ceiling, oldest entries evicted first. An entry
// bigger than the whole ceiling is evicted immediately.
type Service struct {
	tokenLimit int
	estimator  Counter

	mu    sync.RWMutex
	chats map[int64]*chatContext
}

type chatContext struct {
	mu      sync.Mutex
	entries []Entry
	total   int
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return newService(cfg.Bot.TokenLimit, tokens.NewEstimator()), nil
}

func newService(tokenLimit int, estimator Counter) *Service {
	return &Service{
		tokenLimit: tokenLimit,
		estimator:  estimator,
		chats:      make(map[int64]*chatContext),
	}
}

func (s *Service) chat(chatID int64) *chatContext {
	s.mu.RLock()
	ctx, ok := s.chats[chatID]
	s.mu.RUnlock()

	if ok {
		return ctx
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx, ok = s.chats[chatID]; !ok {
		ctx = &chatContext{}
		s.chats[chatID] = ctx
	}

	return ctx
}

func (s *Service) Append(chatID int64, role, content string) {
	entry := Entry{
		Role:    role,
		Content: content,
		Tokens:  s.estimator.Count(content),
	}

	ctx := s.chat(chatID)

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.entries = append(ctx.entries, entry)
	ctx.total += entry.Tokens

	for len(ctx.entries) > 0 && (ctx.total > s.tokenLimit || len(ctx.entries) > maxEntries) {
		ctx.total -= ctx.entries[0].Tokens
		ctx.entries = ctx.entries[1:]
	}
}

// Entries returns a copy of the chat's context in chronological order.
func (s *Service) Entries(chatID int64) []Entry {
	ctx := s.chat(chatID)

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	result := make([]Entry, len(ctx.entries))
	copy(result, ctx.entries)

	return result
}

// LastN returns up to n newest entries, all of them if fewer exist.
func (s *Service) LastN(chatID int64, n int) []Entry {
	entries := s.Entries(chatID)

	if n >= len(entries) {
		return entries
	}

	return entries[len(entries)-n:]
}

func (s *Service) Len(chatID int64) int {
	ctx := s.chat(chatID)

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	return len(ctx.entries)
}

func (s *Service) TotalTokens(chatID int64) int {
	ctx := s.chat(chatID)

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	return ctx.total
}

func (s *Service) Clear(chatID int64) {
	ctx := s.chat(chatID)

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ctx.entries = nil
	ctx.total = 0
}
