package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      Log      `yaml:"log"`
	Telegram Telegram `yaml:"telegram"`
	Ollama   Ollama   `yaml:"ollama"`
	Bot      Bot      `yaml:"bot"`
}

type Telegram struct {
	// Bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789" validate:"required"`
}

type Ollama struct {
	// Ollama server base url
	Host string `yaml:"host" example:"http://localhost:11434" validate:"required"`
	// Default text generation model
	Model string `yaml:"model" example:"gemma3:12b" validate:"required"`
	// Default vision model for image description
	VisionModel string `yaml:"vision_model" example:"qwen2.5vl:7b" validate:"required"`
	// Max connection / generation retry attempts
	MaxRetryAttempts int `yaml:"max_retry_attempts" example:"30" validate:"min=1"`
	// Delay between retry attempts, seconds
	RetryDelaySeconds int `yaml:"retry_delay" example:"1" validate:"min=0"`
}

type Bot struct {
	// Approximate token ceiling for per-chat context
	TokenLimit int `yaml:"token_limit" example:"4096" validate:"min=1"`
	// Default probability of a random reply in group chats, 0..1.
	// A yaml value of 0 is indistinguishable from unset and falls back to
	// the default; set MESSAGE_PROBABILITY=0 to disable random replies.
	MessageProbability float64 `yaml:"message_probability" example:"0.1" validate:"min=0,max=1"`
	// Keywords that always trigger a reply, matched case-insensitively
	Keywords []string `yaml:"keywords" validate:"required,min=1"`
	// Chat ID of the main chat (gets the full persona prompt)
	MainChatID int64 `yaml:"main_chat_id" example:"-1001234567890"`
	// Username of the bot administrator, with @
	AdminUsername string `yaml:"admin_username" example:"@admin" validate:"required"`
	// Chat ID for service notifications and error reports; alert log
	// records are routed here unless log.telegram.chat_id overrides it
	ServiceChatID int64 `yaml:"service_chat_id" example:"-1009876543210"`
}

type Log struct {
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Separate bot token used only for log delivery
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send log messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

// Load reads config.yaml if present, overlays environment variables on top
// and validates the result.
func Load() (*Config, error) {
	var result Config

	data, err := os.ReadFile("config.yaml")
	switch {
	case err == nil:
		if err = yaml.Unmarshal(data, &result); err != nil {
			return nil, oops.Errorf("failed to parse YAML config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// env-only setup
	default:
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if result.Ollama.Host == "" {
		result.Ollama.Host = "http://localhost:11434"
	}
	if result.Ollama.MaxRetryAttempts == 0 {
		result.Ollama.MaxRetryAttempts = 30
	}
	if result.Ollama.RetryDelaySeconds == 0 {
		result.Ollama.RetryDelaySeconds = 1
	}
	if result.Bot.TokenLimit == 0 {
		result.Bot.TokenLimit = 4096
	}
	if result.Bot.MessageProbability == 0 {
		result.Bot.MessageProbability = 0.1
	}
	if len(result.Bot.Keywords) == 0 {
		result.Bot.Keywords = []string{"валер", "@ai_valera"}
	}

	if err := applyEnv(&result); err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Telegram.Token, "TELEGRAM_TOKEN")
	setString(&cfg.Ollama.Host, "OLLAMA_HOST")
	setString(&cfg.Ollama.Model, "OLLAMA_MODEL")
	setString(&cfg.Ollama.VisionModel, "OLLAMA_VISION_MODEL")
	setString(&cfg.Bot.AdminUsername, "ADMIN_USERNAME")
	setString(&cfg.Log.Telegram.Token, "LOG_TELEGRAM_TOKEN")
	setString(&cfg.Log.Telegram.ChatID, "LOG_TELEGRAM_CHAT_ID")

	if err := setInt(&cfg.Ollama.MaxRetryAttempts, "MAX_RETRY_ATTEMPTS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Ollama.RetryDelaySeconds, "RETRY_DELAY"); err != nil {
		return err
	}
	if err := setInt(&cfg.Bot.TokenLimit, "TOKEN_LIMIT"); err != nil {
		return err
	}
	if err := setInt64(&cfg.Bot.MainChatID, "MAIN_CHAT_ID"); err != nil {
		return err
	}
	if err := setInt64(&cfg.Bot.ServiceChatID, "SERVICE_CHAT_ID"); err != nil {
		return err
	}
	if err := setFloat(&cfg.Bot.MessageProbability, "MESSAGE_PROBABILITY"); err != nil {
		return err
	}

	if value := os.Getenv("KEYWORDS"); value != "" {
		var keywords []string
		for _, kw := range strings.Split(value, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				keywords = append(keywords, strings.ToLower(kw))
			}
		}
		cfg.Bot.Keywords = keywords
	}

	return nil
}

func setString(target *string, name string) {
	if value := os.Getenv(name); value != "" {
		*target = value
	}
}

func setInt(target *int, name string) error {
	value := os.Getenv(name)
	if value == "" {
		return nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return oops.Errorf("invalid %s value %q: %w", name, value, err)
	}

	*target = parsed
	return nil
}

func setInt64(target *int64, name string) error {
	value := os.Getenv(name)
	if value == "" {
		return nil
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return oops.Errorf("invalid %s value %q: %w", name, value, err)
	}

	*target = parsed
	return nil
}

func setFloat(target *float64, name string) error {
	value := os.Getenv(name)
	if value == "" {
		return nil
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return oops.Errorf("invalid %s value %q: %w", name, value, err)
	}

	*target = parsed
	return nil
}
