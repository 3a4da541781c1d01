package bot

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"readinghabits/internal/goodreads"
	"readinghabits/internal/models"
	"readinghabits/internal/reconcile"
	"readinghabits/internal/storage"
	"readinghabits/internal/storage/stubs"
)

// Note: tgbotapi.BotAPI is replaced by fakeAPI, which records outgoing
// messages instead of sending them to Telegram

const (
	userID = int64(123)
	chatID = int64(456)
)

var fixedNow = time.Date(2024, time.March, 20, 10, 0, 0, 0, time.UTC)

const sampleCSV = "Title,Author,My Rating,Number of Pages,Date Read,Exclusive Shelf\n" +
	"Kindred,Octavia E. Butler,5,264,2024/01/03,read\n" +
	"Dawn,Octavia E. Butler,0,248,,to-read\n" +
	"Piranesi,Susanna Clarke,4,272,2023-10-01,read\n"

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	docs     []tgbotapi.DocumentConfig
	requests int
	fileErr  error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		f.sent = append(f.sent, msg)
	case tgbotapi.DocumentConfig:
		f.docs = append(f.docs, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	if f.fileErr != nil {
		return "", f.fileErr
	}
	return "https://files.example/" + fileID, nil
}

func (f *fakeAPI) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("Expected a message to be sent")
	}
	return f.sent[len(f.sent)-1]
}

type testBot struct {
	*Bot
	api   *fakeAPI
	local *stubs.MockStore
	files map[string]string
}

func newTestBot() *testBot {
	local := stubs.NewMockStore()
	registry := reconcile.NewRegistry(storage.NewPersistence(local, nil, zap.NewNop()), zap.NewNop(),
		reconcile.WithClock(func() time.Time { return fixedNow }),
		reconcile.WithLocation(time.UTC),
	)
	api := &fakeAPI{}
	tb := &testBot{
		Bot:   newBot(api, registry, []int64{userID}, zap.NewNop(), WithClock(func() time.Time { return fixedNow })),
		api:   api,
		local: local,
		files: make(map[string]string),
	}
	tb.download = func(ctx context.Context, url string) (io.ReadCloser, error) {
		body, ok := tb.files[strings.TrimPrefix(url, "https://files.example/")]
		if !ok {
			return nil, errors.New("not found")
		}
		return io.NopCloser(strings.NewReader(body)), nil
	}
	return tb
}

func command(text string) *tgbotapi.Message {
	cmd := strings.Fields(text)[0]
	return &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func text(s string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: s,
	}
}

func document(fileID, name string, size int) *tgbotapi.Message {
	return &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: chatID},
		Document: &tgbotapi.Document{FileID: fileID, FileName: name, FileSize: size},
	}
}

func callback(data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}
}

func (tb *testBot) uploadSample(t *testing.T) {
	t.Helper()
	tb.files["export"] = sampleCSV
	tb.handleMessage(context.Background(), document("export", "goodreads_library_export.csv", len(sampleCSV)))
	if !strings.Contains(tb.api.last(t).Text, "Imported 2 books") {
		t.Fatalf("Expected upload to succeed, got %q", tb.api.last(t).Text)
	}
}

func (tb *testBot) targets(t *testing.T) models.Targets {
	t.Helper()
	s, err := tb.registry.Get(context.Background(), storage.TelegramIdentity(userID))
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	return s.Targets()
}

func TestBot_UnauthorizedUser(t *testing.T) {
	tb := newTestBot()

	msg := command("/stats")
	msg.From.ID = 999
	tb.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg})

	if got := tb.api.last(t).Text; !strings.Contains(got, "not authorized") {
		t.Errorf("Expected unauthorized reply, got %q", got)
	}
	if tb.registry.Len() != 0 {
		t.Errorf("Expected no session for unauthorized user, got %d", tb.registry.Len())
	}

	tb.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		From: &tgbotapi.User{ID: 999},
		Data: clearPrefix + "yes",
	}})
	if tb.api.requests != 0 {
		t.Errorf("Expected unauthorized callback to be ignored")
	}
}

func TestBot_DocumentUpload(t *testing.T) {
	tb := newTestBot()
	tb.uploadSample(t)

	assert.Equal(t, []string{"tg:123"}, tb.local.Keys())

	tb.handleMessage(context.Background(), command("/stats"))
	got := tb.api.last(t).Text
	assert.Contains(t, got, "Books read: 2")
	assert.Contains(t, got, "This year: 1")
	assert.Contains(t, got, "Octavia E. Butler (1)")
}

func TestBot_DocumentJSONBackup(t *testing.T) {
	tb := newTestBot()
	tb.files["backup"] = `{"readingData": [{"title": "Kindred", "author": "Octavia E. Butler", "dateRead": "2024-01-03"}],
		"goalProgress": {"yearly": {"target": 20}, "monthly": {"target": 2}}}`

	tb.handleMessage(context.Background(), document("backup", "reading-backup.json", 120))

	assert.Contains(t, tb.api.last(t).Text, "Imported 1 books")
	assert.Equal(t, models.Targets{Yearly: 20, Monthly: 2}, tb.targets(t))
}

func TestBot_DocumentRejected(t *testing.T) {
	testCases := []struct {
		name     string
		message  *tgbotapi.Message
		fileErr  error
		contains string
	}{
		{"wrong extension", document("x", "notes.txt", 10), nil, "Please send a Goodreads export"},
		{"too large", document("x", "export.csv", DefaultMaxUploadBytes+1), nil, "too large"},
		{"file url failure", document("x", "export.csv", 10), errors.New("bad request"), "Could not download"},
		{"download failure", document("missing", "export.csv", 10), nil, "Could not download"},
		{"empty export", document("empty", "export.csv", 0), nil, "Could not read that file"},
		{"bad backup", document("bad", "backup.json", 5), nil, "unrecognized import format"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tb := newTestBot()
			tb.api.fileErr = tc.fileErr
			tb.files["empty"] = ""
			tb.files["bad"] = `{"nope": 1}`

			tb.handleMessage(context.Background(), tc.message)

			assert.Contains(t, tb.api.last(t).Text, tc.contains)
			assert.Empty(t, tb.local.Keys())
		})
	}
}

func TestBot_DocumentOverLimit(t *testing.T) {
	for _, name := range []string{"export.csv", "backup.json"} {
		t.Run(name, func(t *testing.T) {
			tb := newTestBot()
			tb.maxUpload = 64
			tb.files["big"] = sampleCSV

			// the reported size is below the limit, the content is not
			tb.handleMessage(context.Background(), document("big", name, 10))

			assert.Contains(t, tb.api.last(t).Text, "File is too large")
			assert.Empty(t, tb.local.Keys())
			assert.Empty(t, tb.session(context.Background(), userID).View().ReadingData)
		})
	}
}

func TestBot_SetGoalsConversation(t *testing.T) {
	tb := newTestBot()
	ctx := context.Background()

	tb.handleMessage(ctx, command("/setgoals"))

	state, ok := tb.getState(userID)
	if !ok {
		t.Fatal("Expected conversation state to be created")
	}
	if state.Command != "setgoals" || state.Step != 1 {
		t.Errorf("Expected setgoals step 1, got %s step %d", state.Command, state.Step)
	}
	if got := tb.api.last(t).Text; !strings.Contains(got, "currently 52") {
		t.Errorf("Expected current yearly goal in prompt, got %q", got)
	}

	tb.handleMessage(ctx, text("lots"))
	if state.Step != 1 {
		t.Errorf("Expected invalid input to keep step 1, got %d", state.Step)
	}

	tb.handleMessage(ctx, text("24"))
	if state.Step != 2 {
		t.Errorf("Expected step 2, got %d", state.Step)
	}

	tb.handleMessage(ctx, text(" 2 "))
	if _, ok := tb.getState(userID); ok {
		t.Error("Expected conversation to be cleaned up")
	}
	if got := tb.targets(t); got != (models.Targets{Yearly: 24, Monthly: 2}) {
		t.Errorf("Expected targets 24/2, got %+v", got)
	}
	if got := tb.api.last(t).Text; !strings.Contains(got, "Goals updated") {
		t.Errorf("Expected confirmation, got %q", got)
	}
}

func TestBot_CommandInterruptsConversation(t *testing.T) {
	tb := newTestBot()
	ctx := context.Background()

	tb.handleMessage(ctx, command("/setgoals"))
	tb.handleMessage(ctx, command("/stats"))

	if _, ok := tb.getState(userID); ok {
		t.Error("Expected command to cancel the conversation")
	}
	if got := tb.api.last(t).Text; got != noDataText {
		t.Errorf("Expected empty stats reply, got %q", got)
	}
	if got := tb.targets(t); got != goalsDefaults() {
		t.Errorf("Expected default targets, got %+v", got)
	}
}

func goalsDefaults() models.Targets {
	return models.Targets{Yearly: 52, Monthly: 4}
}

func TestBot_ClearCallback(t *testing.T) {
	tb := newTestBot()
	ctx := context.Background()
	tb.uploadSample(t)

	tb.handleMessage(ctx, command("/clear"))
	markup, ok := tb.api.last(t).ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "expected an inline keyboard")
	require.Len(t, markup.InlineKeyboard[0], 2)

	tb.handleCallbackQuery(ctx, callback(clearPrefix+"no"))
	assert.Contains(t, tb.api.last(t).Text, "cancelled")
	assert.Equal(t, []string{"tg:123"}, tb.local.Keys())

	tb.handleCallbackQuery(ctx, callback(clearPrefix+"yes"))
	assert.Contains(t, tb.api.last(t).Text, "deleted")
	assert.Empty(t, tb.local.Keys())
	assert.Equal(t, 2, tb.api.requests)
}

func TestBot_GoalsSuggestions(t *testing.T) {
	tb := newTestBot()
	ctx := context.Background()
	tb.uploadSample(t)

	tb.handleMessage(ctx, command("/goals"))
	msg := tb.api.last(t)
	assert.Contains(t, msg.Text, "Yearly: 1/52 (2%)")
	assert.Contains(t, msg.Text, "finish 4 books")

	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "expected suggested goals keyboard")
	require.Len(t, markup.InlineKeyboard[0], 1)
	require.NotNil(t, markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, goalsPrefix+"2", *markup.InlineKeyboard[0][0].CallbackData)

	tb.handleCallbackQuery(ctx, callback(goalsPrefix+"24"))
	assert.Equal(t, models.Targets{Yearly: 24, Monthly: 2}, tb.targets(t))

	tb.handleCallbackQuery(ctx, callback(goalsPrefix+"-3"))
	assert.Contains(t, tb.api.last(t).Text, "Invalid goal selection")
}

func TestBot_AuthorsAndRecalculate(t *testing.T) {
	tb := newTestBot()
	ctx := context.Background()
	tb.uploadSample(t)

	tb.handleMessage(ctx, command("/authors"))
	got := tb.api.last(t).Text
	assert.Contains(t, got, "1. Octavia E. Butler (1)")
	assert.Contains(t, got, "2. Susanna Clarke (1)")

	tb.handleMessage(ctx, command("/recalculate"))
	assert.Contains(t, tb.api.last(t).Text, "recalculated")
	assert.Zero(t, tb.local.Calls(storage.OpClear))
	assert.Equal(t, 2, tb.local.Calls(storage.OpSave))
}

func TestBot_Export(t *testing.T) {
	tb := newTestBot()
	ctx := context.Background()

	tb.handleMessage(ctx, command("/export"))
	assert.Equal(t, noDataText, tb.api.last(t).Text)
	assert.Empty(t, tb.api.docs)

	tb.uploadSample(t)
	tb.handleMessage(ctx, command("/export"))
	require.Len(t, tb.api.docs, 1)

	doc := tb.api.docs[0]
	assert.Equal(t, chatID, doc.ChatID)
	assert.Contains(t, doc.Caption, "Backup of 2 books")
	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok, "expected in-memory file, got %T", doc.File)
	assert.Equal(t, "reading-tracker-export-2024-03-20.json", file.Name)

	// Sending the backup to a fresh bot restores it
	restored := newTestBot()
	restored.files["backup"] = string(file.Bytes)
	restored.handleMessage(ctx, document("backup", file.Name, len(file.Bytes)))
	assert.Contains(t, restored.api.last(t).Text, "Imported 2 books")

	want := tb.session(ctx, userID).View().ReadingData
	got := restored.session(ctx, userID).View().ReadingData
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Title, got[i].Title)
		assert.Equal(t, want[i].MyRating, got[i].MyRating)
		assert.True(t, want[i].DateRead.Equal(*got[i].DateRead))
	}
}

func TestBot_PersistenceFailureReply(t *testing.T) {
	tb := newTestBot()
	tb.local.FailOn(storage.OpSave, errors.New("disk full"))
	tb.files["export"] = sampleCSV

	tb.handleMessage(context.Background(), document("export", "export.csv", len(sampleCSV)))

	assert.Contains(t, tb.api.last(t).Text, "could not be saved")

	tb.local.FailOn(storage.OpSave, nil)
	tb.handleMessage(context.Background(), command("/stats"))
	assert.Contains(t, tb.api.last(t).Text, "The last operation failed (persistence)")
}

func TestBot_RecoversFromPanic(t *testing.T) {
	tb := newTestBot()
	tb.registry = nil

	tb.handleMessage(context.Background(), command("/stats"))

	if got := tb.api.last(t).Text; !strings.Contains(got, "An error occurred") {
		t.Errorf("Expected panic reply, got %q", got)
	}
}

func TestBot_UnknownInput(t *testing.T) {
	tb := newTestBot()

	tb.handleMessage(context.Background(), command("/dance"))
	assert.Contains(t, tb.api.last(t).Text, "Unknown command")

	tb.handleMessage(context.Background(), text("hello"))
	assert.Contains(t, tb.api.last(t).Text, "Goodreads CSV export")
}

func TestBot_NilAPI(t *testing.T) {
	b := newBot(nil, nil, []int64{userID}, zap.NewNop())

	// must not panic without a Telegram client
	b.reply(chatID, "hello")
	b.handleStart(command("/start"))
}

func TestSuggestionKeyboard(t *testing.T) {
	_, ok := suggestionKeyboard(models.Projection{})
	assert.False(t, ok)

	markup, ok := suggestionKeyboard(models.Projection{Suggested: models.SuggestedGoals{Easy: 8, Moderate: 10, Challenging: 12}})
	require.True(t, ok)
	assert.Len(t, markup.InlineKeyboard[0], 3)
}

func TestFormatError(t *testing.T) {
	testCases := []struct {
		err      error
		contains string
	}{
		{&goodreads.SourceReadError{Source: "csv export", Err: goodreads.ErrNoHeader}, "Could not read that file"},
		{&storage.PersistenceError{Tier: storage.TierLocal, Op: storage.OpSave, Err: errors.New("x")}, "could not be saved"},
		{&reconcile.ComputeError{Err: errors.New("nan")}, "could not be computed"},
		{reconcile.ErrSuperseded, "newer upload"},
		{&goodreads.SourceReadError{Source: "csv export", Err: &http.MaxBytesError{Limit: 64}}, "too large (limit 64 bytes)"},
		{reconcile.ErrInvalidTargets, "goal targets must not be negative"},
		{errors.New("boom"), "Error: boom"},
	}

	for _, tc := range testCases {
		assert.Contains(t, formatError(tc.err), tc.contains)
	}
}

func TestWebhookHandler(t *testing.T) {
	tb := newTestBot()
	mux := http.NewServeMux()
	tb.RegisterWebhook(context.Background(), mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(`{"update_id": 1}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
}
