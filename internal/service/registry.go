package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/digkill/TGSpeechBot/internal/metrics"
	"github.com/digkill/TGSpeechBot/internal/models"
)

const (
	TranscriptTTL = 15 * time.Minute
	SweepInterval = 60 * time.Second
)

// TranscriptRegistry maps a delivered message to the transcript it carries.
// Entries expire after the TTL; Sweep is the only thing that removes them.
type TranscriptRegistry struct {
	mu      sync.Mutex
	entries map[int64]map[int]models.TranscriptEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewTranscriptRegistry() *TranscriptRegistry {
	return &TranscriptRegistry{
		entries: make(map[int64]map[int]models.TranscriptEntry),
		ttl:     TranscriptTTL,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (r *TranscriptRegistry) WithClock(now func() time.Time) *TranscriptRegistry {
	r.now = now
	return r
}

func (r *TranscriptRegistry) Register(chatID int64, messageID int, text string, originMessageID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.entries[chatID]
	if !ok {
		chat = make(map[int]models.TranscriptEntry)
		r.entries[chatID] = chat
	}
	if _, exists := chat[messageID]; !exists {
		metrics.RegistrySize.Inc()
	}
	chat[messageID] = models.TranscriptEntry{
		ChatID:          chatID,
		MessageID:       messageID,
		Text:            text,
		OriginMessageID: originMessageID,
		CreatedAt:       r.now(),
	}
}

func (r *TranscriptRegistry) Resolve(chatID int64, messageID int) (models.TranscriptEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[chatID][messageID]
	if !ok || r.expired(entry) {
		return models.TranscriptEntry{}, false
	}
	return entry, true
}

// ResolveAny returns the first live entry among the candidate message ids.
// Zero ids are skipped.
func (r *TranscriptRegistry) ResolveAny(chatID int64, messageIDs ...int) (models.TranscriptEntry, bool) {
	for _, id := range messageIDs {
		if id == 0 {
			continue
		}
		if entry, ok := r.Resolve(chatID, id); ok {
			return entry, true
		}
	}
	return models.TranscriptEntry{}, false
}

// Sweep drops expired entries and empty chats, returning how many entries went.
func (r *TranscriptRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for chatID, chat := range r.entries {
		for id, entry := range chat {
			if r.expired(entry) {
				delete(chat, id)
				removed++
			}
		}
		if len(chat) == 0 {
			delete(r.entries, chatID)
		}
	}
	metrics.RegistrySize.Sub(float64(removed))
	return removed
}

func (r *TranscriptRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, chat := range r.entries {
		n += len(chat)
	}
	return n
}

func (r *TranscriptRegistry) chats() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *TranscriptRegistry) expired(entry models.TranscriptEntry) bool {
	return r.now().Sub(entry.CreatedAt) > r.ttl
}

// Sweeper is anything that wants the periodic cleanup tick.
type Sweeper interface {
	Sweep() int
}

// RunSweeper calls Sweep on every sweeper each interval until ctx is done.
func RunSweeper(ctx context.Context, log *slog.Logger, interval time.Duration, sweepers ...Sweeper) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range sweepers {
				if n := s.Sweep(); n > 0 {
					log.Debug("swept expired entries", "count", n)
				}
			}
		}
	}
}
