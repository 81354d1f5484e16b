package service

import (
	"sync"

	"github.com/digkill/TGSpeechBot/internal/models"
)

// DisplayModes holds how each user wants oversized results delivered.
type DisplayModes struct {
	mu    sync.RWMutex
	modes map[int64]models.DisplayMode
}

func NewDisplayModes() *DisplayModes {
	return &DisplayModes{modes: make(map[int64]models.DisplayMode)}
}

func (d *DisplayModes) Get(userID int64) models.DisplayMode {
	d.mu.RLock()
	mode, ok := d.modes[userID]
	d.mu.RUnlock()
	if !ok {
		return models.DisplaySplitMessages
	}
	return mode
}

func (d *DisplayModes) Set(userID int64, mode models.DisplayMode) {
	d.mu.Lock()
	d.modes[userID] = mode
	d.mu.Unlock()
}
