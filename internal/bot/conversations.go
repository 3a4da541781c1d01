package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"readinghabits/internal/goals"
)

// handleSetGoalsStart initiates the goal setting conversation
func (b *Bot) handleSetGoalsStart(ctx context.Context, message *tgbotapi.Message) {
	current := b.session(ctx, message.From.ID).Targets()

	b.setState(message.From.ID, &ConversationState{
		Command: "setgoals",
		Step:    1,
		Data:    make(map[string]interface{}),
	})

	b.reply(message.Chat.ID, "How many books do you want to read this year? (currently "+
		strconv.Itoa(current.Yearly)+")")
}

// handleConversation processes multi-step conversations
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	switch state.Command {
	case "setgoals":
		b.handleSetGoalsConversation(ctx, message, state)
	}

	// Clean up completed conversations
	if state.Step == -1 {
		b.clearState(message.From.ID)
	}
}

// handleSetGoalsConversation handles the goal setting multi-step process
func (b *Bot) handleSetGoalsConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	target, ok := parseTarget(message.Text)
	if !ok {
		b.reply(message.Chat.ID, "❌ Please enter a positive whole number:")
		return
	}

	switch state.Step {
	case 1: // Waiting for yearly goal
		state.Data["yearly"] = target
		state.Step = 2
		b.reply(message.Chat.ID, "And how many books per month?")

	case 2: // Waiting for monthly goal
		yearly := state.Data["yearly"].(int)
		state.Step = -1 // Mark conversation as complete

		session := b.session(ctx, message.From.ID)
		view, err := session.UpdateGoals(ctx, yearly, target)
		if err != nil {
			b.reply(message.Chat.ID, formatError(err))
			return
		}
		b.reply(message.Chat.ID, "✅ Goals updated.\n\n"+formatGoals(view.GoalProgress, goals.Project(view.Stats, b.clock())))
	}
}

// parseTarget accepts a positive integer goal
func parseTarget(text string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
