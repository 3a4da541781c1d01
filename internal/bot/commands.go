package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"readinghabits/internal/goals"
	"readinghabits/internal/goodreads"
	"readinghabits/internal/models"
	"readinghabits/internal/reconcile"
	"readinghabits/internal/shelf"
)

const topAuthorsLimit = 15

// handleStart shows welcome message and available commands
func (b *Bot) handleStart(message *tgbotapi.Message) {
	text := `Welcome to the Reading Habits Tracker! 📚

Send your Goodreads library export (.csv) or a tracker backup (.json) as a file to import it.

Available commands:
/stats - View reading statistics
/goals - Show goal progress and suggestions
/setgoals - Set yearly and monthly goals
/authors - List authors by books read
/recalculate - Rebuild statistics from your books
/export - Download a backup of your data
/clear - Delete all your reading data`

	b.reply(message.Chat.ID, text)
}

// handleStats shows statistics for the user's collection
func (b *Bot) handleStats(ctx context.Context, message *tgbotapi.Message) {
	view := b.session(ctx, message.From.ID).View()

	text := formatStats(view, b.clock())
	if view.Error != nil {
		text = formatErrorInfo(view.Error) + "\n\n" + text
	}
	b.reply(message.Chat.ID, text)
}

// handleGoals shows goal progress with one-tap suggested targets
func (b *Bot) handleGoals(ctx context.Context, message *tgbotapi.Message) {
	view := b.session(ctx, message.From.ID).View()
	projection := goals.Project(view.Stats, b.clock())

	text := formatGoals(view.GoalProgress, projection)
	keyboard, ok := suggestionKeyboard(projection)
	if !ok {
		b.reply(message.Chat.ID, text)
		return
	}
	b.replyWithMarkup(message.Chat.ID, text+"\nPick a suggested yearly goal or use /setgoals:", keyboard)
}

// suggestionKeyboard offers the distinct positive suggested goals
func suggestionKeyboard(projection models.Projection) (tgbotapi.InlineKeyboardMarkup, bool) {
	options := []struct {
		label  string
		target int
	}{
		{"🙂 Easy", projection.Suggested.Easy},
		{"💪 Moderate", projection.Suggested.Moderate},
		{"🔥 Challenging", projection.Suggested.Challenging},
	}

	var row []tgbotapi.InlineKeyboardButton
	seen := make(map[int]bool)
	for _, o := range options {
		if o.target <= 0 || seen[o.target] {
			continue
		}
		seen[o.target] = true
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%s (%d)", o.label, o.target),
			fmt.Sprintf("%s%d", goalsPrefix, o.target),
		))
	}
	if len(row) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(row), true
}

// handleAuthors lists authors by the number of books read
func (b *Bot) handleAuthors(ctx context.Context, message *tgbotapi.Message) {
	view := b.session(ctx, message.From.ID).View()
	b.reply(message.Chat.ID, formatAuthors(shelf.Authors(view.ReadingData), topAuthorsLimit))
}

// handleRecalculate rebuilds statistics from the stored books
func (b *Bot) handleRecalculate(ctx context.Context, message *tgbotapi.Message) {
	view, err := b.session(ctx, message.From.ID).Recalculate(ctx)
	if err != nil {
		b.reply(message.Chat.ID, formatError(err))
		return
	}
	b.reply(message.Chat.ID, "🔄 Statistics recalculated.\n\n"+formatStats(view, b.clock()))
}

// handleExport sends the user's data as a backup file that can be sent back to import it
func (b *Bot) handleExport(ctx context.Context, message *tgbotapi.Message) {
	view := b.session(ctx, message.From.ID).View()
	if len(view.ReadingData) == 0 {
		b.reply(message.Chat.ID, noDataText)
		return
	}

	export := reconcile.NewExport(view, b.clock())
	data, err := export.Encode()
	if err != nil {
		b.logger.Error("Failed to encode export", zap.Int64("user_id", message.From.ID), zap.Error(err))
		b.reply(message.Chat.ID, formatError(err))
		return
	}

	doc := tgbotapi.NewDocument(message.Chat.ID, tgbotapi.FileBytes{Name: export.FileName(), Bytes: data})
	doc.Caption = fmt.Sprintf("📦 Backup of %d books. Send this file back to restore it.", len(view.ReadingData))
	b.sendMessage(doc)
}

// handleClearStart asks for confirmation before deleting data
func (b *Bot) handleClearStart(message *tgbotapi.Message) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Yes, delete everything", clearPrefix+"yes"),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", clearPrefix+"no"),
		),
	)
	b.replyWithMarkup(message.Chat.ID, "This deletes all your reading data and resets your goals. Continue?", keyboard)
}

// handleDocument imports a Goodreads CSV export or a JSON backup
func (b *Bot) handleDocument(ctx context.Context, message *tgbotapi.Message) {
	doc := message.Document
	ext := strings.ToLower(path.Ext(doc.FileName))
	if ext != ".csv" && ext != ".json" {
		b.reply(message.Chat.ID, "Please send a Goodreads export (.csv) or a tracker backup (.json).")
		return
	}
	if int64(doc.FileSize) > b.maxUpload {
		b.reply(message.Chat.ID, fmt.Sprintf("❌ File is too large (limit %d MB).", b.maxUpload>>20))
		return
	}

	logger := b.logger.With(
		zap.Int64("user_id", message.From.ID),
		zap.String("file_name", doc.FileName),
	)

	body, err := b.fetchDocument(ctx, doc.FileID)
	if err != nil {
		logger.Error("Failed to fetch document", zap.Error(err))
		b.reply(message.Chat.ID, "❌ Could not download the file from Telegram. Please try again.")
		return
	}
	// FileSize is reported by the client, so the limit is enforced while reading
	source := http.MaxBytesReader(nil, body, b.maxUpload)
	defer source.Close()

	var payload reconcile.Payload = reconcile.CSVUpload{Source: source}
	if ext == ".json" {
		data, err := io.ReadAll(source)
		if err != nil {
			logger.Error("Failed to read document", zap.Error(err))
			b.reply(message.Chat.ID, formatError(&goodreads.SourceReadError{Source: doc.FileName, Err: err}))
			return
		}
		payload = reconcile.JSONImport{Data: data}
	}

	view, err := b.session(ctx, message.From.ID).ProcessNewData(ctx, payload)
	if err != nil {
		b.reply(message.Chat.ID, formatError(err))
		return
	}

	logger.Info("Imported document", zap.Int("books", view.Stats.TotalBooks))
	b.reply(message.Chat.ID, fmt.Sprintf("✅ Imported %d books.\n\n%s", view.Stats.TotalBooks, formatStats(view, b.clock())))
}

func (b *Bot) fetchDocument(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if b.api == nil {
		return nil, fmt.Errorf("bot api is not configured")
	}
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file url: %w", err)
	}
	return b.download(ctx, url)
}

func formatErrorInfo(info *reconcile.ErrorInfo) string {
	return fmt.Sprintf("⚠️ The last operation failed (%s): %s", info.Kind, info.Message)
}
