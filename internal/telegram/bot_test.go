package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGSpeechBot/internal/config"
	"github.com/digkill/TGSpeechBot/internal/media"
	"github.com/digkill/TGSpeechBot/internal/models"
	"github.com/digkill/TGSpeechBot/internal/service"
	"github.com/digkill/TGSpeechBot/internal/worker"
)

const (
	testChat  int64 = 500
	testUser  int64 = 42
	testAdmin int64 = 9000
)

type harness struct {
	bot      *Bot
	api      *fakeAPI
	model    *fakeModel
	keys     *service.KeyStore
	registry *service.TranscriptRegistry
	tracker  *service.RotationTracker
	menus    *MenuStates
	dir      string
}

func newHarness(t *testing.T, jobs Runner) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		MaxUploadMB:     1,
		MaxMessageChunk: DefaultChunkLimit,
		SummaryMinChars: 1500,
		AdminID:         testAdmin,
		DownloadsDir:    dir,
	}
	log := testLogger()
	api := newFakeAPI()
	model := &fakeModel{}
	tracker := service.NewRotationTracker("gemini-primary", "gemini-fallback")
	keys := service.NewKeyStore(nil, log)
	registry := service.NewTranscriptRegistry()
	menus := NewMenuStates()
	if jobs == nil {
		jobs = syncRunner{}
	}

	bot := NewBot(cfg, api, log, Dependencies{
		Keys:       keys,
		Speech:     service.NewSpeechService(model, tracker, time.Minute, log),
		Registry:   registry,
		Modes:      service.NewDisplayModes(),
		Menus:      menus,
		Limiter:    NewUserLimiter(0),
		Transcoder: media.NewTranscoder("/nonexistent/ffmpeg", log),
		Updates:    syncRunner{},
		Jobs:       jobs,
	})
	return &harness{bot: bot, api: api, model: model, keys: keys, registry: registry, tracker: tracker, menus: menus, dir: dir}
}

func textMessage(id int, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: id,
		From:      &tgbotapi.User{ID: testUser, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: testChat},
		Text:      text,
	}
}

func voiceMessage(id int, size int) *tgbotapi.Message {
	msg := textMessage(id, "")
	msg.Voice = &tgbotapi.Voice{FileID: "file-1", FileUniqueID: "u1", MimeType: "audio/ogg", FileSize: size}
	return msg
}

func callback(messageID int, data string, replyTo *tgbotapi.Message) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: testUser},
		Message: &tgbotapi.Message{
			MessageID:      messageID,
			Chat:           &tgbotapi.Chat{ID: testChat},
			ReplyToMessage: replyTo,
		},
		Data: data,
	}
}

func TestBot_KeySavedThenUpdated(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.bot.HandleUpdate(ctx, tgbotapi.Update{Message: textMessage(1, "AIzaFirst extra words")})
	h.bot.HandleUpdate(ctx, tgbotapi.Update{Message: textMessage(2, "AIzaSecond")})

	key, ok := h.keys.Get(ctx, testUser)
	require.True(t, ok)
	assert.Equal(t, "AIzaSecond", key)

	texts := h.api.texts()
	assert.Contains(t, texts, "API key saved. Now send audio or video")
	assert.Contains(t, texts, "API key updated.")

	adminNotes := 0
	for _, m := range h.api.messages() {
		if m.ChatID == testAdmin {
			adminNotes++
			assert.Contains(t, m.Text, "@alice")
			assert.Contains(t, m.Text, "42")
		}
	}
	assert.Equal(t, 1, adminNotes)
}

func TestBot_OversizedFileRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.keys.Set(context.Background(), testUser, "AIzaKey")

	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: voiceMessage(3, 2*1024*1024)})

	assert.Equal(t, []string{"File too large. Limit is 1MB."}, h.api.texts())
	assert.Zero(t, h.model.transcribeCalls)
	assert.Equal(t, models.ModelUsage{UserID: testUser, CurrentTier: models.TierPrimary}, h.tracker.Snapshot(testUser))
}

func TestBot_MediaWithoutKeyForwardsPinned(t *testing.T) {
	h := newHarness(t, nil)
	h.bot.cfg.RequiredChannel = "speechnews"
	h.api.chat = tgbotapi.Chat{PinnedMessage: &tgbotapi.Message{MessageID: 77}}

	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: voiceMessage(3, 100)})

	assert.Equal(t, []string{noKeyText}, h.api.texts())
	require.NotNil(t, h.api.chatCfg)
	assert.Equal(t, "@speechnews", h.api.chatCfg.SuperGroupUsername)

	var fwd *tgbotapi.ForwardConfig
	for _, c := range h.api.sent {
		if f, ok := c.(tgbotapi.ForwardConfig); ok {
			fwd = &f
		}
	}
	require.NotNil(t, fwd)
	assert.Equal(t, 77, fwd.MessageID)
	assert.Equal(t, testChat, fwd.ChatID)
	assert.Equal(t, "@speechnews", fwd.FromChannelUsername)
	assert.Zero(t, h.model.transcribeCalls)
}

func TestBot_TranscribesAndAttachesMenu(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OggS fake voice payload"))
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	h.api.fileURL = srv.URL + "/voice.oga"
	h.keys.Set(context.Background(), testUser, "AIzaKey")
	h.model.transcript = strings.Repeat("word ", 400)

	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: voiceMessage(10, 100)})

	require.Equal(t, 1, h.model.transcribeCalls)
	assert.Equal(t, []string{"gemini-primary"}, h.model.models)

	msgs := h.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, 10, msgs[0].ReplyToMessageID)
	deliveredID := 1001

	entry, ok := h.registry.Resolve(testChat, deliveredID)
	require.True(t, ok)
	assert.Equal(t, 10, entry.OriginMessageID)
	assert.Equal(t, strings.TrimSpace(h.model.transcript), entry.Text)

	edits := h.api.keyboardEdits()
	require.Len(t, edits, 1)
	assert.Equal(t, deliveredID, edits[0].MessageID)
	require.Len(t, edits[0].ReplyMarkup.InlineKeyboard, 1)
	assert.Equal(t, MenuCollapsed, h.menus.Get(testChat, deliveredID))

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "downloaded files are cleaned up")
}

func TestBot_ShortTranscriptHasNoMenu(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	h.api.fileURL = srv.URL
	h.keys.Set(context.Background(), testUser, "AIzaKey")
	h.model.transcript = "hello there"

	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: voiceMessage(10, 100)})

	assert.Equal(t, []string{"hello there"}, h.api.texts())
	assert.Empty(t, h.api.keyboardEdits())
}

func TestBot_EmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	h.api.fileURL = srv.URL
	h.keys.Set(context.Background(), testUser, "AIzaKey")
	h.model.transcript = "   "

	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: voiceMessage(10, 100)})

	assert.Equal(t, []string{"Empty transcription received."}, h.api.texts())
	assert.Zero(t, h.registry.Len())
}

func TestBot_DownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h := newHarness(t, nil)
	h.api.fileURL = srv.URL
	h.keys.Set(context.Background(), testUser, "AIzaKey")

	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: voiceMessage(10, 100)})

	assert.Equal(t, []string{"Failed to download file from Telegram."}, h.api.texts())
	assert.Zero(t, h.model.transcribeCalls)
}

func TestBot_BusyPool(t *testing.T) {
	h := newHarness(t, syncRunner{err: worker.ErrOverloaded})
	h.keys.Set(context.Background(), testUser, "AIzaKey")

	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: voiceMessage(10, 100)})

	assert.Equal(t, []string{busyText}, h.api.texts())
}

func TestBot_ExpandIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.menus.Attach(testChat, 555)

	for i := 0; i < 2; i++ {
		h.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: callback(555, ExpandData(testChat, 555), nil)})
	}

	edits := h.api.keyboardEdits()
	require.Len(t, edits, 2)
	for _, e := range edits {
		assert.Len(t, e.ReplyMarkup.InlineKeyboard, 3)
	}
	assert.Equal(t, MenuExpanded, h.menus.Get(testChat, 555))
}

func TestBot_SummaryResolvesThroughReplyChain(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.keys.Set(ctx, testUser, "AIzaKey")
	h.model.summary = "short summary"
	h.registry.Register(testChat, 555, "the long transcript", 10)

	q := callback(777, SummarizeData(models.SummaryShort, testChat, 777), &tgbotapi.Message{MessageID: 555})
	h.bot.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: q})

	require.Equal(t, 1, h.model.generateCalls)
	assert.Equal(t, []string{"gemini-primary"}, h.model.models)
	assert.Equal(t, models.SummaryShort.Instruction()+"\n\nthe long transcript", h.model.prompts[0])

	edits := h.api.keyboardEdits()
	require.Len(t, edits, 1)
	assert.Equal(t, 777, edits[0].MessageID)
	assert.Empty(t, edits[0].ReplyMarkup.InlineKeyboard)

	msgs := h.api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "short summary", msgs[0].Text)
	assert.Equal(t, 10, msgs[0].ReplyToMessageID)

	entry, ok := h.registry.Resolve(testChat, 1001)
	require.True(t, ok)
	assert.Equal(t, "short summary", entry.Text)
	assert.Equal(t, 10, entry.OriginMessageID)
}

func TestBot_SummaryOnlyOncePerMenu(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.keys.Set(ctx, testUser, "AIzaKey")
	h.model.summary = "s"
	h.registry.Register(testChat, 555, "text", 10)

	for i := 0; i < 2; i++ {
		h.bot.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(555, SummarizeData(models.SummaryDetailed, testChat, 555), nil)})
	}

	assert.Equal(t, 1, h.model.generateCalls)
	cbs := h.api.callbacks()
	require.Len(t, cbs, 2)
	assert.Equal(t, "Summary already requested.", cbs[1].Text)
}

func TestBot_SummaryExpiredData(t *testing.T) {
	h := newHarness(t, nil)
	h.keys.Set(context.Background(), testUser, "AIzaKey")

	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: callback(555, SummarizeData(models.SummaryBulleted, testChat, 555), nil)})

	cbs := h.api.callbacks()
	require.Len(t, cbs, 1)
	assert.Equal(t, "Data expired. Resend file.", cbs[0].Text)
	assert.True(t, cbs[0].ShowAlert)

	edits := h.api.keyboardEdits()
	require.Len(t, edits, 1)
	assert.Empty(t, edits[0].ReplyMarkup.InlineKeyboard)
	assert.Zero(t, h.model.generateCalls)
}

func TestBot_SummaryUpstreamErrorIsLabeled(t *testing.T) {
	h := newHarness(t, nil)
	h.keys.Set(context.Background(), testUser, "AIzaKey")
	h.model.err = errors.New("quota exceeded")
	h.registry.Register(testChat, 555, "text", 10)

	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: callback(555, SummarizeData(models.SummaryShort, testChat, 555), nil)})

	assert.Equal(t, []string{"Error (Summarize (Short)): quota exceeded"}, h.api.texts())
}

func TestBot_InvalidCallback(t *testing.T) {
	h := newHarness(t, nil)

	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: callback(1, "summopt|Short|5", nil)})
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: callback(1, SummarizeData(models.SummaryShort, testChat+1, 1), nil)})

	cbs := h.api.callbacks()
	require.Len(t, cbs, 2)
	for _, cb := range cbs {
		assert.Equal(t, "Invalid option", cb.Text)
		assert.True(t, cb.ShowAlert)
	}
}

func TestBot_ModeCallback(t *testing.T) {
	h := newHarness(t, nil)

	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: callback(3, ModeData(models.DisplayTextFile), nil)})

	assert.Equal(t, models.DisplayTextFile, h.bot.modes.Get(testUser))
	cbs := h.api.callbacks()
	require.Len(t, cbs, 1)
	assert.Equal(t, "Mode set to: Text File", cbs[0].Text)

	var edited bool
	for _, c := range h.api.requests {
		if e, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			edited = true
			assert.Equal(t, "You chose: Text File", e.Text)
		}
	}
	assert.True(t, edited)
}

func TestBot_UserMessage(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "Request timed out. Please try again.",
		h.bot.userMessage(&service.UpstreamError{Label: "Transcript", Err: context.DeadlineExceeded}))
	assert.Equal(t, "Error (Transcript): boom",
		h.bot.userMessage(&service.UpstreamError{Label: "Transcript", Err: errors.New("boom")}))
	assert.Equal(t, "Error: other", h.bot.userMessage(errors.New("other")))
}

type chanSource struct {
	ch      chan tgbotapi.Update
	stopped bool
}

func (s *chanSource) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return s.ch }

func (s *chanSource) StopReceivingUpdates() { s.stopped = true }

func TestBot_RunPollsUntilClosed(t *testing.T) {
	h := newHarness(t, nil)
	src := &chanSource{ch: make(chan tgbotapi.Update, 1)}
	start := textMessage(1, "/start")
	start.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len("/start")}}
	src.ch <- tgbotapi.Update{Message: start}
	close(src.ch)

	require.NoError(t, h.bot.Run(context.Background(), src))
	require.NotEmpty(t, h.api.texts())
	assert.True(t, strings.HasPrefix(h.api.texts()[0], "Salaam!"))
}

func TestBot_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	src := &chanSource{ch: make(chan tgbotapi.Update)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.bot.Run(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, src.stopped)
}

func TestBot_ConcurrentKeysNotifyAdminOnce(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			h.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: textMessage(id, "AIzaSame")})
		}(i)
	}
	wg.Wait()

	adminNotes := 0
	saved := 0
	for _, m := range h.api.messages() {
		if m.ChatID == testAdmin {
			adminNotes++
		}
		if m.Text == "API key saved. Now send audio or video" {
			saved++
		}
	}
	assert.Equal(t, 1, adminNotes)
	assert.Equal(t, 1, saved)
}

func TestBot_SummaryWithoutKeyKeepsMenu(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.registry.Register(testChat, 555, "text", 10)
	h.menus.Attach(testChat, 555)

	h.bot.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(555, SummarizeData(models.SummaryShort, testChat, 555), nil)})

	cbs := h.api.callbacks()
	require.Len(t, cbs, 1)
	assert.Equal(t, noKeyAlert, cbs[0].Text)
	assert.Equal(t, MenuCollapsed, h.menus.Get(testChat, 555))
	edits := h.api.keyboardEdits()
	require.Len(t, edits, 2)
	require.Len(t, edits[1].ReplyMarkup.InlineKeyboard, 1)
	assert.Equal(t, "Get Summary", edits[1].ReplyMarkup.InlineKeyboard[0][0].Text)

	h.keys.Set(ctx, testUser, "AIzaKey")
	h.model.summary = "s"
	h.bot.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(555, SummarizeData(models.SummaryShort, testChat, 555), nil)})
	assert.Equal(t, 1, h.model.generateCalls)
}

func TestBot_SummaryBusyKeepsMenu(t *testing.T) {
	h := newHarness(t, syncRunner{err: worker.ErrOverloaded})
	ctx := context.Background()
	h.keys.Set(ctx, testUser, "AIzaKey")
	h.registry.Register(testChat, 555, "text", 10)

	h.bot.HandleUpdate(ctx, tgbotapi.Update{CallbackQuery: callback(555, SummarizeData(models.SummaryShort, testChat, 555), nil)})

	assert.Equal(t, []string{busyText}, h.api.texts())
	assert.Equal(t, MenuCollapsed, h.menus.Get(testChat, 555))
	assert.Zero(t, h.model.generateCalls)
}
