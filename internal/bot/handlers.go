package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"readinghabits/internal/reconcile"
	"readinghabits/internal/storage"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage", zap.Any("panic", r))
			b.reply(message.Chat.ID, "An error occurred while processing your request. Please try again.")
		}
	}()

	userID := message.From.ID

	// Check if user is in a conversation
	if state, ok := b.getState(userID); ok {
		switch {
		case state.Step == -1:
			b.clearState(userID)
		case message.IsCommand() || message.Document != nil:
			// Any command or upload cancels an ongoing conversation
			b.clearState(userID)
		default:
			b.handleConversation(ctx, message, state)
			return
		}
	}

	if message.Document != nil {
		b.handleDocument(ctx, message)
		return
	}

	if !message.IsCommand() {
		b.reply(message.Chat.ID, "Send your Goodreads CSV export as a file, or use /start to see available commands.")
		return
	}

	switch message.Command() {
	case "start", "help":
		b.handleStart(message)
	case "stats":
		b.handleStats(ctx, message)
	case "goals":
		b.handleGoals(ctx, message)
	case "setgoals":
		b.handleSetGoalsStart(ctx, message)
	case "authors":
		b.handleAuthors(ctx, message)
	case "recalculate":
		b.handleRecalculate(ctx, message)
	case "export":
		b.handleExport(ctx, message)
	case "clear":
		b.handleClearStart(message)
	default:
		b.reply(message.Chat.ID, "Unknown command. Use /start to see available commands.")
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery", zap.Any("panic", r))
		}
	}()

	// Answer the callback query to remove loading state
	if b.api != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
			b.logger.Debug("Failed to answer callback query", zap.Error(err))
		}
	}

	if query.Message == nil {
		return
	}

	data := query.Data
	switch {
	case strings.HasPrefix(data, clearPrefix):
		b.handleClearCallback(ctx, query)
	case strings.HasPrefix(data, goalsPrefix):
		b.handleSuggestedGoalsCallback(ctx, query)
	}
}

// session returns the reconciliation session of a Telegram user. A load
// failure is logged; the session still reports it through its view.
func (b *Bot) session(ctx context.Context, userID int64) *reconcile.Session {
	id := storage.TelegramIdentity(userID)
	s, err := b.registry.Get(ctx, id)
	if err != nil {
		b.logger.Error("Failed to load session", zap.String("identity", id.Key), zap.Error(err))
	}
	return s
}
