package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"readinghabits/internal/reconcile"
)

// DefaultMaxUploadBytes caps documents accepted for import
const DefaultMaxUploadBytes = 10 << 20

// Option configures a Bot
type Option func(*Bot)

// WithMaxUploadBytes overrides DefaultMaxUploadBytes
func WithMaxUploadBytes(n int64) Option {
	return func(b *Bot) {
		if n > 0 {
			b.maxUpload = n
		}
	}
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(b *Bot) { b.clock = clock }
}

// NewBot creates a new Telegram bot
func NewBot(token string, registry *reconcile.Registry, allowedUserIDs []int64, logger *zap.Logger, opts ...Option) (*Bot, error) {
	client, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", client.Self.UserName))

	b := newBot(client, registry, allowedUserIDs, logger, opts...)
	b.client = client
	return b, nil
}

func newBot(api telegramAPI, registry *reconcile.Registry, allowedUserIDs []int64, logger *zap.Logger, opts ...Option) *Bot {
	allowedUsers := make(map[int64]bool)
	for _, id := range allowedUserIDs {
		allowedUsers[id] = true
	}

	b := &Bot{
		api:          api,
		registry:     registry,
		allowedUsers: allowedUsers,
		states:       make(map[int64]*ConversationState),
		logger:       logger,
		download:     httpDownload,
		maxUpload:    DefaultMaxUploadBytes,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// httpDownload fetches a file from the Telegram file endpoint
func httpDownload(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
