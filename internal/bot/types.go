package bot

import (
	"context"
	"io"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"readinghabits/internal/reconcile"
)

// telegramAPI is the subset of the Bot API used by handlers
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// downloadFunc fetches an uploaded document
type downloadFunc func(ctx context.Context, url string) (io.ReadCloser, error)

// Bot represents the Telegram bot wrapper
type Bot struct {
	client       *tgbotapi.BotAPI
	api          telegramAPI
	registry     *reconcile.Registry
	allowedUsers map[int64]bool
	states       map[int64]*ConversationState
	statesMu     sync.Mutex
	logger       *zap.Logger
	download     downloadFunc
	maxUpload    int64
	clock        func() time.Time
}

// ConversationState tracks the state of multi-step commands
type ConversationState struct {
	Command string
	Step    int
	Data    map[string]interface{}
}
