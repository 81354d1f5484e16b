package service

import (
	"sync"

	"github.com/digkill/TGSpeechBot/internal/models"
)

// MaxUsageCount is the length of one block of requests served by a tier.
const MaxUsageCount = 18

// RotationTracker alternates each user between the primary and fallback
// model tiers in blocks of MaxUsageCount requests. State lives in memory only.
type RotationTracker struct {
	mu       sync.Mutex
	usage    map[int64]*models.ModelUsage
	primary  string
	fallback string
}

func NewRotationTracker(primaryModel, fallbackModel string) *RotationTracker {
	return &RotationTracker{
		usage:    make(map[int64]*models.ModelUsage),
		primary:  primaryModel,
		fallback: fallbackModel,
	}
}

// Next advances the user's rotation by one request and returns the tier to use.
func (t *RotationTracker) Next(userID int64) models.Tier {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.usage[userID]
	if !ok {
		u = &models.ModelUsage{UserID: userID, CurrentTier: models.TierPrimary}
		t.usage[userID] = u
	}

	switch u.CurrentTier {
	case models.TierFallback:
		if u.FallbackCount < MaxUsageCount {
			u.FallbackCount++
			return models.TierFallback
		}
		u.CurrentTier = models.TierPrimary
		u.FallbackCount = 0
		u.PrimaryCount = 1
		return models.TierPrimary
	default:
		if u.PrimaryCount < MaxUsageCount {
			u.PrimaryCount++
			return models.TierPrimary
		}
		u.CurrentTier = models.TierFallback
		u.PrimaryCount = 0
		u.FallbackCount = 1
		return models.TierFallback
	}
}

// NextModel is Next followed by the tier's model name.
func (t *RotationTracker) NextModel(userID int64) (models.Tier, string) {
	tier := t.Next(userID)
	return tier, t.ModelName(tier)
}

func (t *RotationTracker) ModelName(tier models.Tier) string {
	if tier == models.TierFallback {
		return t.fallback
	}
	return t.primary
}

// Snapshot returns a copy of the user's state, or the initial state if unseen.
func (t *RotationTracker) Snapshot(userID int64) models.ModelUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.usage[userID]; ok {
		return *u
	}
	return models.ModelUsage{UserID: userID, CurrentTier: models.TierPrimary}
}
