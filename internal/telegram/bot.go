package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGSpeechBot/internal/config"
	"github.com/digkill/TGSpeechBot/internal/media"
	"github.com/digkill/TGSpeechBot/internal/metrics"
	"github.com/digkill/TGSpeechBot/internal/service"
	"github.com/digkill/TGSpeechBot/internal/worker"
)

const (
	keyPrefix    = "AIz"
	welcomeText  = "Salaam! Send me a voice message, audio file, video, or document to transcribe. If you have your Gemini API key, send it as a message starting with AIz"
	mediaHint    = "Send me a voice message, audio file, video, or document to transcribe."
	noKeyText    = "First send me your Gemini API key. It should start with AIz"
	noKeyAlert   = "No Gemini key found. Send your key starting with AIz."
	busyText     = "The bot is busy right now. Please try again in a minute."
	throttleText = "Too many requests. Please wait a moment."
)

// Dependencies groups the collaborators the bot is built from.
type Dependencies struct {
	Keys       *service.KeyStore
	Speech     *service.SpeechService
	Registry   *service.TranscriptRegistry
	Modes      *service.DisplayModes
	Menus      *MenuStates
	Limiter    *UserLimiter
	Transcoder *media.Transcoder
	Updates    Runner
	Jobs       Runner
	// Archive is optional.
	Archive Archiver
}

type Bot struct {
	cfg        config.Config
	api        API
	log        *slog.Logger
	keys       *service.KeyStore
	speech     *service.SpeechService
	registry   *service.TranscriptRegistry
	modes      *service.DisplayModes
	menus      *MenuStates
	limiter    *UserLimiter
	transcoder *media.Transcoder
	updates    Runner
	jobs       Runner
	archive    Archiver
	delivery   *Deliverer
	httpClient *http.Client
}

func NewBot(cfg config.Config, api API, log *slog.Logger, deps Dependencies) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		keys:       deps.Keys,
		speech:     deps.Speech,
		registry:   deps.Registry,
		modes:      deps.Modes,
		menus:      deps.Menus,
		limiter:    deps.Limiter,
		transcoder: deps.Transcoder,
		updates:    deps.Updates,
		jobs:       deps.Jobs,
		archive:    deps.Archive,
		delivery:   NewDeliverer(api, deps.Modes, cfg.MaxMessageChunk, cfg.DownloadsDir, log),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Dispatch hands an update to the update pool and returns immediately.
func (b *Bot) Dispatch(ctx context.Context, update tgbotapi.Update) error {
	return b.updates.Submit(ctx, "update", func(ctx context.Context) error {
		b.HandleUpdate(ctx, update)
		return nil
	})
}

// Run long-polls Telegram until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, src UpdateSource) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := src.GetUpdatesChan(u)
	b.log.Info("telegram bot polling")

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := b.Dispatch(ctx, update); err != nil {
				b.log.Warn("dispatch update inline", "update_id", update.UpdateID, "err", err)
				b.HandleUpdate(ctx, update)
			}
		case <-ctx.Done():
			src.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		metrics.Updates.WithLabelValues("message").Inc()
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		metrics.Updates.WithLabelValues("callback").Inc()
		b.handleCallback(ctx, update.CallbackQuery)
	default:
		metrics.Updates.WithLabelValues("other").Inc()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if msg.IsCommand() {
		b.handleCommand(msg)
		return
	}
	if file, ok := mediaOf(msg); ok {
		b.handleMedia(ctx, msg, file)
		return
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, keyPrefix):
		b.handleKey(ctx, msg, strings.Fields(text)[0])
	case text != "":
		b.reply(msg, mediaHint)
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		b.reply(msg, welcomeText)
	case "mode":
		out := tgbotapi.NewMessage(msg.Chat.ID, "How should I send long transcripts?")
		out.ReplyToMessageID = msg.MessageID
		out.ReplyMarkup = modeKeyboard()
		if _, err := b.api.Send(out); err != nil {
			b.log.Error("send mode menu", "chat_id", msg.Chat.ID, "err", err)
		}
	default:
		b.reply(msg, mediaHint)
	}
}

func (b *Bot) handleKey(ctx context.Context, msg *tgbotapi.Message, key string) {
	userID := msg.From.ID
	if b.keys.Set(ctx, userID, key) {
		b.reply(msg, "API key updated.")
		return
	}
	b.reply(msg, "API key saved. Now send audio or video")
	b.log.Info("api key stored", "user_id", userID)

	if b.cfg.AdminID == 0 {
		return
	}
	username := msg.From.UserName
	if username == "" {
		username = "N/A"
	}
	if err := b.SendText(b.cfg.AdminID, fmt.Sprintf("New user provided Gemini key\nUsername: @%s\nId: %d", username, userID)); err != nil {
		b.log.Warn("notify admin", "user_id", userID, "err", err)
	}
}

type mediaFile struct {
	fileID   string
	uniqueID string
	size     int64
	mimeType string
}

func mediaOf(msg *tgbotapi.Message) (mediaFile, bool) {
	switch {
	case msg.Voice != nil:
		return mediaFile{msg.Voice.FileID, msg.Voice.FileUniqueID, int64(msg.Voice.FileSize), msg.Voice.MimeType}, true
	case msg.Audio != nil:
		return mediaFile{msg.Audio.FileID, msg.Audio.FileUniqueID, int64(msg.Audio.FileSize), msg.Audio.MimeType}, true
	case msg.Video != nil:
		return mediaFile{msg.Video.FileID, msg.Video.FileUniqueID, int64(msg.Video.FileSize), msg.Video.MimeType}, true
	case msg.Document != nil:
		return mediaFile{msg.Document.FileID, msg.Document.FileUniqueID, int64(msg.Document.FileSize), msg.Document.MimeType}, true
	}
	return mediaFile{}, false
}

func (b *Bot) handleMedia(ctx context.Context, msg *tgbotapi.Message, file mediaFile) {
	if file.size > b.cfg.MaxUploadBytes() {
		b.reply(msg, b.userMessage(service.ErrFileTooLarge))
		return
	}
	userID := msg.From.ID
	apiKey, ok := b.keys.Get(ctx, userID)
	if !ok {
		b.reply(msg, b.userMessage(service.ErrNoAPIKey))
		b.forwardPinned(msg.Chat.ID)
		return
	}
	if !b.limiter.Allow(userID) {
		b.reply(msg, throttleText)
		return
	}

	b.typing(msg.Chat.ID)
	err := b.jobs.Submit(context.WithoutCancel(ctx), "transcribe", func(ctx context.Context) error {
		return b.transcribe(ctx, msg, file, apiKey)
	})
	if err != nil {
		b.log.Warn("submit transcription", "chat_id", msg.Chat.ID, "err", err)
		b.reply(msg, b.userMessage(err))
	}
}

func (b *Bot) transcribe(ctx context.Context, msg *tgbotapi.Message, file mediaFile, apiKey string) error {
	chatID := msg.Chat.ID
	userID := msg.From.ID

	path, err := b.download(ctx, msg.MessageID, file)
	if err != nil {
		b.reply(msg, b.userMessage(err))
		return err
	}
	defer os.Remove(path)

	prepared := b.transcoder.Prepare(ctx, path, file.mimeType)
	if prepared.Converted {
		defer os.Remove(prepared.Path)
	}

	text, err := b.speech.Transcribe(ctx, userID, apiKey, prepared.Path, prepared.MimeType)
	if err != nil {
		b.reply(msg, b.userMessage(err))
		return err
	}

	sentID, err := b.delivery.Deliver(chatID, text, msg.MessageID, userID, "Transcript")
	if err != nil {
		return fmt.Errorf("deliver transcript: %w", err)
	}
	b.registry.Register(chatID, sentID, text, msg.MessageID)

	if utf8.RuneCountInString(text) > b.cfg.SummaryMinChars {
		b.menus.Attach(chatID, sentID)
		b.setKeyboard(chatID, sentID, collapsedKeyboard(chatID, sentID))
	}
	b.store(ctx, chatID, "Transcript", text)
	return nil
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.Message == nil || q.Message.Chat == nil || q.From == nil {
		b.answer(q.ID, b.userMessage(service.ErrInvalidCallback), true)
		return
	}
	cb, err := ParseCallback(q.Data)
	if err == nil && cb.Kind != CallbackMode && cb.ChatID != q.Message.Chat.ID {
		err = fmt.Errorf("%w: chat mismatch", service.ErrInvalidCallback)
	}
	if err != nil {
		b.log.Warn("bad callback", "chat_id", q.Message.Chat.ID, "data", q.Data, "err", err)
		b.answer(q.ID, b.userMessage(err), true)
		return
	}

	switch cb.Kind {
	case CallbackMode:
		b.modes.Set(q.From.ID, cb.Mode)
		edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, "You chose: "+cb.Mode.Label())
		if _, err := b.api.Request(edit); err != nil {
			b.log.Warn("edit mode menu", "chat_id", q.Message.Chat.ID, "err", err)
		}
		b.answer(q.ID, "Mode set to: "+cb.Mode.Label(), false)
	case CallbackExpand:
		b.expandMenu(q, cb)
	case CallbackSummarize:
		b.summarize(ctx, q, cb)
	}
}

func (b *Bot) expandMenu(q *tgbotapi.CallbackQuery, cb Callback) {
	chatID, messageID := q.Message.Chat.ID, q.Message.MessageID
	if !b.menus.Expand(chatID, messageID) {
		b.answer(q.ID, b.userMessage(service.ErrMenuConsumed), false)
		return
	}
	b.setKeyboard(chatID, messageID, expandedKeyboard(cb.ChatID, cb.MessageID))
	b.answer(q.ID, "", false)
}

func (b *Bot) summarize(ctx context.Context, q *tgbotapi.CallbackQuery, cb Callback) {
	chatID, messageID := q.Message.Chat.ID, q.Message.MessageID
	if !b.menus.Consume(chatID, messageID) {
		b.answer(q.ID, b.userMessage(service.ErrMenuConsumed), false)
		return
	}
	// Controls go before the lookup so an expired entry leaves no stale menu.
	b.setKeyboard(chatID, messageID, emptyKeyboard())

	replyTo := 0
	if q.Message.ReplyToMessage != nil {
		replyTo = q.Message.ReplyToMessage.MessageID
	}
	entry, ok := b.registry.ResolveAny(chatID, cb.MessageID, messageID, replyTo)
	if !ok {
		b.answer(q.ID, b.userMessage(service.ErrTranscriptExpired), true)
		return
	}

	userID := q.From.ID
	apiKey, ok := b.keys.Get(ctx, userID)
	if !ok {
		b.reopenMenu(chatID, messageID, cb)
		b.answer(q.ID, noKeyAlert, true)
		return
	}
	b.answer(q.ID, "", false)
	b.typing(chatID)

	label := service.SummaryLabel(cb.Style)
	err := b.jobs.Submit(context.WithoutCancel(ctx), "summarize", func(ctx context.Context) error {
		summary, err := b.speech.Summarize(ctx, userID, apiKey, entry.Text, cb.Style)
		if err != nil {
			b.replyTo(chatID, entry.OriginMessageID, b.userMessage(err))
			return err
		}
		sentID, err := b.delivery.Deliver(chatID, summary, entry.OriginMessageID, userID, label)
		if err != nil {
			return fmt.Errorf("deliver summary: %w", err)
		}
		b.registry.Register(chatID, sentID, summary, entry.OriginMessageID)
		b.store(ctx, chatID, label, summary)
		return nil
	})
	if err != nil {
		b.log.Warn("submit summary", "chat_id", chatID, "err", err)
		b.reopenMenu(chatID, messageID, cb)
		b.replyTo(chatID, entry.OriginMessageID, b.userMessage(err))
	}
}

// reopenMenu gives the transcript its Get Summary button back.
func (b *Bot) reopenMenu(chatID int64, messageID int, cb Callback) {
	b.menus.Reopen(chatID, messageID)
	b.setKeyboard(chatID, messageID, collapsedKeyboard(cb.ChatID, cb.MessageID))
}

// download streams the Telegram file into the downloads dir. The caller
// removes the returned path.
func (b *Bot) download(ctx context.Context, messageID int, file mediaFile) (string, error) {
	url, err := b.api.GetFileDirectURL(file.fileID)
	if err != nil {
		return "", fmt.Errorf("%w: resolve url: %v", service.ErrDownload, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", service.ErrDownload, err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", service.ErrDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: telegram file status %d", service.ErrDownload, resp.StatusCode)
	}

	if err := os.MkdirAll(b.cfg.DownloadsDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create downloads dir: %v", service.ErrDownload, err)
	}
	path := filepath.Join(b.cfg.DownloadsDir, fmt.Sprintf("temp_%d_%s", messageID, file.uniqueID))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: create file: %v", service.ErrDownload, err)
	}
	limit := b.cfg.MaxUploadBytes()
	n, err := io.Copy(out, io.LimitReader(resp.Body, limit+1))
	closeErr := out.Close()
	switch {
	case err != nil:
		err = fmt.Errorf("%w: read body: %v", service.ErrDownload, err)
	case closeErr != nil:
		err = fmt.Errorf("%w: close file: %v", service.ErrDownload, closeErr)
	case n > limit:
		err = service.ErrFileTooLarge
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (b *Bot) forwardPinned(chatID int64) {
	channel := b.cfg.RequiredChannel
	if channel == "" {
		return
	}
	chatCfg := channelConfig(channel)
	chat, err := b.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: chatCfg})
	if err != nil {
		b.log.Warn("get required channel", "channel", channel, "err", err)
		return
	}
	if chat.PinnedMessage == nil {
		return
	}
	fwd := tgbotapi.ForwardConfig{
		BaseChat:            tgbotapi.BaseChat{ChatID: chatID},
		FromChatID:          chatCfg.ChatID,
		FromChannelUsername: chatCfg.SuperGroupUsername,
		MessageID:           chat.PinnedMessage.MessageID,
	}
	if _, err := b.api.Send(fwd); err != nil {
		b.log.Warn("forward pinned message", "chat_id", chatID, "err", err)
	}
}

func channelConfig(channel string) tgbotapi.ChatConfig {
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil && id != 0 {
		return tgbotapi.ChatConfig{ChatID: id}
	}
	return tgbotapi.ChatConfig{SuperGroupUsername: "@" + strings.TrimPrefix(channel, "@")}
}

func (b *Bot) store(ctx context.Context, chatID int64, label, text string) {
	if b.archive == nil {
		return
	}
	loc, err := b.archive.Store(ctx, chatID, label, text)
	if err != nil {
		b.log.Warn("archive text", "chat_id", chatID, "label", label, "err", err)
		return
	}
	b.log.Debug("archived text", "chat_id", chatID, "location", loc)
}

// userMessage maps an error to the text shown in the chat.
func (b *Bot) userMessage(err error) string {
	var upstream *service.UpstreamError
	switch {
	case errors.Is(err, service.ErrFileTooLarge):
		return fmt.Sprintf("File too large. Limit is %dMB.", b.cfg.MaxUploadMB)
	case errors.Is(err, service.ErrNoAPIKey):
		return noKeyText
	case errors.Is(err, service.ErrEmptyTranscript):
		return "Empty transcription received."
	case errors.Is(err, service.ErrTranscriptExpired):
		return "Data expired. Resend file."
	case errors.Is(err, service.ErrInvalidCallback):
		return "Invalid option"
	case errors.Is(err, service.ErrMenuConsumed):
		return "Summary already requested."
	case errors.Is(err, service.ErrDownload):
		return "Failed to download file from Telegram."
	case errors.Is(err, worker.ErrOverloaded):
		return busyText
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out. Please try again."
	case errors.As(err, &upstream):
		return fmt.Sprintf("Error (%s): %v", upstream.Label, upstream.Err)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

func (b *Bot) setKeyboard(chatID int64, messageID int, markup tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, markup)
	if _, err := b.api.Request(edit); err != nil {
		b.log.Warn("edit keyboard", "chat_id", chatID, "message_id", messageID, "err", err)
	}
}

func (b *Bot) answer(callbackID, text string, alert bool) {
	cfg := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := b.api.Request(cfg); err != nil {
		b.log.Warn("answer callback", "err", err)
	}
}

func (b *Bot) typing(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.log.Debug("chat action", "chat_id", chatID, "err", err)
	}
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	b.replyTo(msg.Chat.ID, msg.MessageID, text)
}

func (b *Bot) replyTo(chatID int64, messageID int, text string) {
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyToMessageID = messageID
	if _, err := b.api.Send(out); err != nil {
		b.log.Error("send reply", "chat_id", chatID, "err", err)
	}
}

// SendText sends a plain message; the broadcast endpoint goes through it.
func (b *Bot) SendText(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (b *Bot) UserIDs() []int64 {
	return b.keys.UserIDs()
}
