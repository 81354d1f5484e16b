package models

import "time"

type Tier string

const (
	TierPrimary  Tier = "primary"
	TierFallback Tier = "fallback"
)

type DisplayMode string

const (
	DisplaySplitMessages DisplayMode = "split"
	DisplayTextFile      DisplayMode = "file"
)

// Label is the human readable name shown in the /mode menu.
func (m DisplayMode) Label() string {
	switch m {
	case DisplayTextFile:
		return "Text File"
	default:
		return "Split messages"
	}
}

type SummaryStyle string

const (
	SummaryShort    SummaryStyle = "Short"
	SummaryDetailed SummaryStyle = "Detailed"
	SummaryBulleted SummaryStyle = "Bulleted"
)

var SummaryStyles = []SummaryStyle{SummaryShort, SummaryDetailed, SummaryBulleted}

func ParseSummaryStyle(raw string) (SummaryStyle, bool) {
	for _, s := range SummaryStyles {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

// Instruction is the prompt prefix sent to the model for this style.
func (s SummaryStyle) Instruction() string {
	switch s {
	case SummaryShort:
		return "Summarize this text in 1-2 concise sentences. Return only the summary."
	case SummaryDetailed:
		return "Summarize this text in a detailed paragraph preserving key points. Return only the summary."
	default:
		return "Summarize this text as a bulleted list of main points. Return only the summary."
	}
}

type UserCredential struct {
	UserID    int64     `bson:"user_id"`
	APIKey    string    `bson:"api_key"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type ModelUsage struct {
	UserID        int64
	CurrentTier   Tier
	PrimaryCount  int
	FallbackCount int
}

type TranscriptEntry struct {
	ChatID          int64
	MessageID       int
	Text            string
	OriginMessageID int
	CreatedAt       time.Time
}
