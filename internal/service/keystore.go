package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/digkill/TGSpeechBot/internal/models"
)

const storeTimeout = 5 * time.Second

type KeyRepository interface {
	FindByUserID(ctx context.Context, userID int64) (*models.UserCredential, error)
	Upsert(ctx context.Context, userID int64, apiKey string) error
	ListAll(ctx context.Context) ([]models.UserCredential, error)
}

// KeyStore keeps user API keys in memory on top of a persistent repository.
// Repository failures are logged and never surface to callers: the cache
// keeps serving whatever it already holds.
type KeyStore struct {
	repo KeyRepository
	log  *slog.Logger

	mu    sync.RWMutex
	cache map[int64]string

	// setMu serializes writers so only one of them sees a first-time key.
	setMu sync.Mutex
}

// NewKeyStore builds a store; repo may be nil for cache-only operation.
func NewKeyStore(repo KeyRepository, log *slog.Logger) *KeyStore {
	return &KeyStore{
		repo:  repo,
		log:   log,
		cache: make(map[int64]string),
	}
}

// Preload copies every stored key into the cache.
func (s *KeyStore) Preload(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	creds, err := s.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, c := range creds {
		if c.APIKey != "" {
			s.cache[c.UserID] = c.APIKey
		}
	}
	s.mu.Unlock()
	s.log.Info("api keys preloaded", "count", len(creds))
	return nil
}

func (s *KeyStore) Get(ctx context.Context, userID int64) (string, bool) {
	s.mu.RLock()
	key, ok := s.cache[userID]
	s.mu.RUnlock()
	if ok {
		return key, true
	}
	if s.repo == nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	cred, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		s.log.Warn("load api key", "user_id", userID, "err", err)
		return "", false
	}
	if cred == nil || cred.APIKey == "" {
		return "", false
	}

	s.mu.Lock()
	s.cache[userID] = cred.APIKey
	s.mu.Unlock()
	return cred.APIKey, true
}

// Set stores the key and reports whether the user already had one. The cache
// is updated even when the repository write fails.
func (s *KeyStore) Set(ctx context.Context, userID int64, apiKey string) (existed bool) {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	_, existed = s.Get(ctx, userID)
	if s.repo != nil {
		ctx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := s.repo.Upsert(ctx, userID, apiKey); err != nil {
			s.log.Warn("persist api key", "user_id", userID, "err", err)
		}
	}
	s.mu.Lock()
	s.cache[userID] = apiKey
	s.mu.Unlock()
	return existed
}

// UserIDs lists every user with a cached key, in ascending order.
func (s *KeyStore) UserIDs() []int64 {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
