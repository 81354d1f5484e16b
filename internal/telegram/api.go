package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGSpeechBot/internal/worker"
)

// API is the subset of *tgbotapi.BotAPI the bot talks to.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

// UpdateSource delivers updates by long polling.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Runner schedules work off the calling goroutine.
type Runner interface {
	Submit(ctx context.Context, name string, task worker.Task) error
}

// Archiver stores a copy of delivered text.
type Archiver interface {
	Store(ctx context.Context, chatID int64, label, text string) (string, error)
}
