package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGSpeechBot/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAPI struct {
	mu       sync.Mutex
	nextID   int
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	docs     map[string]string
	failSend func(n int, c tgbotapi.Chattable) error
	sendN    int
	fileURL  string
	chat     tgbotapi.Chat
	chatCfg  *tgbotapi.ChatInfoConfig
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextID: 1000, docs: make(map[string]string)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendN++
	if f.failSend != nil {
		if err := f.failSend(f.sendN, c); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	if doc, ok := c.(tgbotapi.DocumentConfig); ok {
		if fr, ok := doc.File.(tgbotapi.FileReader); ok {
			data, _ := io.ReadAll(fr.Reader)
			f.docs[fr.Name] = string(data)
		}
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(string) (string, error) {
	if f.fileURL == "" {
		return "", errors.New("no file")
	}
	return f.fileURL, nil
}

func (f *fakeAPI) GetChat(cfg tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCfg = &cfg
	return f.chat, nil
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) texts() []string {
	var out []string
	for _, m := range f.messages() {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeAPI) callbacks() []tgbotapi.CallbackConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.CallbackConfig
	for _, c := range f.requests {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb)
		}
	}
	return out
}

func (f *fakeAPI) keyboardEdits() []tgbotapi.EditMessageReplyMarkupConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.EditMessageReplyMarkupConfig
	for _, c := range f.requests {
		if e, ok := c.(tgbotapi.EditMessageReplyMarkupConfig); ok {
			out = append(out, e)
		}
	}
	return out
}

// syncRunner runs tasks on the calling goroutine.
type syncRunner struct {
	err error
}

func (r syncRunner) Submit(ctx context.Context, _ string, task worker.Task) error {
	if r.err != nil {
		return r.err
	}
	_ = task(ctx)
	return nil
}

type fakeModel struct {
	mu              sync.Mutex
	transcript      string
	summary         string
	err             error
	transcribeCalls int
	generateCalls   int
	models          []string
	prompts         []string
}

func (m *fakeModel) TranscribeFile(_ context.Context, _, model, _, _, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcribeCalls++
	m.models = append(m.models, model)
	m.prompts = append(m.prompts, prompt)
	return m.transcript, m.err
}

func (m *fakeModel) GenerateText(_ context.Context, _, model, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateCalls++
	m.models = append(m.models, model)
	m.prompts = append(m.prompts, prompt)
	return m.summary, m.err
}
