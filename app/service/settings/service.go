package settings

import (
	"fmt"
	"sync"

	"valera/app/config"

	"github.com/samber/do"
)

// Service holds the runtime-mutable bot settings. It is seeded from config
// and mutated only through validated admin commands; nothing here persists
// across restarts.
type Service struct {
	mu sync.RWMutex

	model       string
	visionModel string
	probability float64
}

type Snapshot struct {
	Model       string
	VisionModel string
	Probability float64
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return newService(cfg), nil
}

func newService(cfg *config.Config) *Service {
	return &Service{
		model:       cfg.Ollama.Model,
		visionModel: cfg.Ollama.VisionModel,
		probability: cfg.Bot.MessageProbability,
	}
}

func (s *Service) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.model
}

func (s *Service) VisionModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.visionModel
}

func (s *Service) Probability() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.probability
}

func (s *Service) SetModel(name string) error {
	if name == "" {
		return fmt.Errorf("model name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.model = name
	return nil
}

func (s *Service) SetVisionModel(name string) error {
	if name == "" {
		return fmt.Errorf("vision model name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.visionModel = name
	return nil
}

// SetProbabilityPercent accepts the admin-facing 0-100 scale.
func (s *Service) SetProbabilityPercent(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("probability must be between 0 and 100, got %d", percent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.probability = float64(percent) / 100
	return nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Model:       s.model,
		VisionModel: s.visionModel,
		Probability: s.probability,
	}
}
