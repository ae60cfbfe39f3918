package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"valera/app/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/do"
)

const (
	pollTimeoutSeconds = 30
	downloadTimeout    = time.Minute
)

var _ do.Shutdownable = (*Client)(nil)

// Client wraps the Telegram Bot API: update stream, send/reply primitives
// and attachment download. Session and wire protocol are owned by the
// library.
type Client struct {
	cfg *config.Config
	api *tgbotapi.BotAPI

	httpClient *http.Client
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}

	slog.Info("Connected to Telegram",
		"username", api.Self.UserName)

	return &Client{
		cfg: cfg,
		api: api,
		httpClient: &http.Client{
			Timeout: downloadTimeout,
		},
	}, nil
}

func (c *Client) Username() string {
	return c.api.Self.UserName
}

// Updates starts long polling and returns the update stream.
func (c *Client) Updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds

	return c.api.GetUpdatesChan(u)
}

// Send posts a plain message and returns the sent message ID.
func (c *Client) Send(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)

	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}

	return sent.MessageID, nil
}

// Reply posts a message addressed as a reply to replyTo and returns the
// sent message ID.
func (c *Client) Reply(chatID int64, replyTo int, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo

	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to reply in chat %d: %w", chatID, err)
	}

	return sent.MessageID, nil
}

// DownloadFile fetches an attachment by its file ID.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d downloading file %s", resp.StatusCode, fileID)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}

	return data, nil
}

func (c *Client) Shutdown() error {
	c.api.StopReceivingUpdates()

	return nil
}
