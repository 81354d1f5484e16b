package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGSpeechBot/internal/models"
	"github.com/digkill/TGSpeechBot/internal/service"
)

const (
	prefixSummaryMenu = "summarize_menu"
	prefixSummarize   = "summarize"
	prefixMode        = "mode"
)

type CallbackKind int

const (
	CallbackExpand CallbackKind = iota + 1
	CallbackSummarize
	CallbackMode
)

// Callback is a decoded inline button payload. ChatID and MessageID name the
// delivered transcript message the button belongs to.
type Callback struct {
	Kind      CallbackKind
	Style     models.SummaryStyle
	Mode      models.DisplayMode
	ChatID    int64
	MessageID int
}

func ExpandData(chatID int64, messageID int) string {
	return fmt.Sprintf("%s|%d|%d", prefixSummaryMenu, chatID, messageID)
}

func SummarizeData(style models.SummaryStyle, chatID int64, messageID int) string {
	return fmt.Sprintf("%s|%s|%d|%d", prefixSummarize, style, chatID, messageID)
}

func ModeData(mode models.DisplayMode) string {
	return prefixMode + "|" + string(mode)
}

// ParseCallback decodes button data. Anything it does not recognise wraps
// service.ErrInvalidCallback.
func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(data, "|")
	invalid := fmt.Errorf("%w: %q", service.ErrInvalidCallback, data)

	switch parts[0] {
	case prefixSummaryMenu:
		if len(parts) != 3 {
			return Callback{}, invalid
		}
		chatID, messageID, ok := parseTarget(parts[1], parts[2])
		if !ok {
			return Callback{}, invalid
		}
		return Callback{Kind: CallbackExpand, ChatID: chatID, MessageID: messageID}, nil
	case prefixSummarize:
		if len(parts) != 4 {
			return Callback{}, invalid
		}
		style, ok := models.ParseSummaryStyle(parts[1])
		if !ok {
			return Callback{}, invalid
		}
		chatID, messageID, ok := parseTarget(parts[2], parts[3])
		if !ok {
			return Callback{}, invalid
		}
		return Callback{Kind: CallbackSummarize, Style: style, ChatID: chatID, MessageID: messageID}, nil
	case prefixMode:
		if len(parts) != 2 {
			return Callback{}, invalid
		}
		switch mode := models.DisplayMode(parts[1]); mode {
		case models.DisplaySplitMessages, models.DisplayTextFile:
			return Callback{Kind: CallbackMode, Mode: mode}, nil
		}
	}
	return Callback{}, invalid
}

func parseTarget(rawChat, rawMessage string) (int64, int, bool) {
	chatID, err := strconv.ParseInt(rawChat, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	messageID, err := strconv.Atoi(rawMessage)
	if err != nil || messageID <= 0 {
		return 0, 0, false
	}
	return chatID, messageID, true
}

func collapsedKeyboard(chatID int64, messageID int) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Get Summary", ExpandData(chatID, messageID))),
	)
}

// expandedKeyboard has one row per summary style.
func expandedKeyboard(chatID int64, messageID int) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(models.SummaryStyles))
	for _, style := range models.SummaryStyles {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(string(style), SummarizeData(style, chatID, messageID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func emptyKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
}

func modeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(models.DisplaySplitMessages.Label(), ModeData(models.DisplaySplitMessages))),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(models.DisplayTextFile.Label(), ModeData(models.DisplayTextFile))),
	)
}
