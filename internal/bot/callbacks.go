package bot

import (
	"context"
	"math"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"readinghabits/internal/goals"
)

// Callback data prefixes
const (
	clearPrefix = "clear:"
	goalsPrefix = "goals:"
)

// handleClearCallback processes the /clear confirmation
func (b *Bot) handleClearCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chatID := query.Message.Chat.ID

	if strings.TrimPrefix(query.Data, clearPrefix) != "yes" {
		b.reply(chatID, "Clear cancelled. Your data is unchanged.")
		return
	}

	if err := b.session(ctx, query.From.ID).ClearAll(ctx); err != nil {
		b.reply(chatID, formatError(err))
		return
	}
	b.reply(chatID, "🗑 All reading data deleted and goals reset.")
}

// handleSuggestedGoalsCallback applies a suggested yearly goal from /goals
func (b *Bot) handleSuggestedGoalsCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	chatID := query.Message.Chat.ID

	yearly, ok := parseTarget(strings.TrimPrefix(query.Data, goalsPrefix))
	if !ok {
		b.reply(chatID, "Error: Invalid goal selection")
		return
	}
	monthly := int(math.Max(1, math.Round(float64(yearly)/12)))

	view, err := b.session(ctx, query.From.ID).UpdateGoals(ctx, yearly, monthly)
	if err != nil {
		b.reply(chatID, formatError(err))
		return
	}
	b.reply(chatID, "✅ Goals updated.\n\n"+formatGoals(view.GoalProgress, goals.Project(view.Stats, b.clock())))
}
