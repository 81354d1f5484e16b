package telegram

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGSpeechBot/internal/metrics"
	"github.com/digkill/TGSpeechBot/internal/models"
	"github.com/digkill/TGSpeechBot/internal/service"
)

const (
	DefaultChunkLimit = 4095
	fileCaption       = "Open this file and copy the text inside"
)

var errNotDelivered = errors.New("nothing delivered")

// Deliverer sends results that may exceed Telegram's message size, honoring
// each user's display mode.
type Deliverer struct {
	api   API
	modes *service.DisplayModes
	limit int
	dir   string
	log   *slog.Logger
}

func NewDeliverer(api API, modes *service.DisplayModes, limit int, dir string, log *slog.Logger) *Deliverer {
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	return &Deliverer{api: api, modes: modes, limit: limit, dir: dir, log: log}
}

// Deliver sends text as a reply to replyTo and returns the id of the message
// later lookups should key on: the only message, the last chunk, or the file.
func (d *Deliverer) Deliver(chatID int64, text string, replyTo int, userID int64, label string) (int, error) {
	if utf8.RuneCountInString(text) <= d.limit {
		metrics.Deliveries.WithLabelValues("single").Inc()
		return d.sendText(chatID, text, replyTo)
	}

	mode := d.modes.Get(userID)
	metrics.Deliveries.WithLabelValues(string(mode)).Inc()
	if mode == models.DisplayTextFile {
		return d.sendFile(chatID, text, replyTo, label)
	}

	lastID := 0
	for i, chunk := range SplitText(text, d.limit) {
		id, err := d.sendText(chatID, chunk, replyTo)
		if err != nil {
			d.log.Warn("send chunk failed", "chat_id", chatID, "chunk", i, "err", err)
			continue
		}
		lastID = id
	}
	if lastID == 0 {
		return 0, errNotDelivered
	}
	return lastID, nil
}

func (d *Deliverer) sendText(chatID int64, text string, replyTo int) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	sent, err := d.api.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

func (d *Deliverer) sendFile(chatID int64, text string, replyTo int, label string) (int, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create downloads dir: %w", err)
	}
	file, err := os.CreateTemp(d.dir, "result-*.txt")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if _, err := file.WriteString(text); err != nil {
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return 0, fmt.Errorf("rewind temp file: %w", err)
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: label + ".txt", Reader: file})
	doc.Caption = fileCaption
	doc.ReplyToMessageID = replyTo
	sent, err := d.api.Send(doc)
	if err != nil {
		return 0, fmt.Errorf("send document: %w", err)
	}
	return sent.MessageID, nil
}

// SplitText cuts text into pieces of at most limit characters. Cuts fall on
// rune boundaries and ignore word boundaries.
func SplitText(text string, limit int) []string {
	if limit <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
