package telegram

import (
	"sync"
	"time"

	"github.com/digkill/TGSpeechBot/internal/service"
)

type MenuState int

const (
	MenuCollapsed MenuState = iota
	MenuExpanded
	MenuConsumed
)

func (s MenuState) String() string {
	switch s {
	case MenuExpanded:
		return "expanded"
	case MenuConsumed:
		return "consumed"
	default:
		return "collapsed"
	}
}

type menuKey struct {
	chatID    int64
	messageID int
}

type menu struct {
	state     MenuState
	updatedAt time.Time
}

// MenuStates tracks the summary menu attached to each delivered transcript.
// Menus are forgotten after the same TTL as the transcripts they point at.
type MenuStates struct {
	mu    sync.RWMutex
	menus map[menuKey]*menu
	ttl   time.Duration
	now   func() time.Time
}

func NewMenuStates() *MenuStates {
	return &MenuStates{
		menus: make(map[menuKey]*menu),
		ttl:   service.TranscriptTTL,
		now:   time.Now,
	}
}

func (m *MenuStates) Get(chatID int64, messageID int) MenuState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.menus[menuKey{chatID, messageID}]; ok {
		return entry.state
	}
	return MenuCollapsed
}

// Attach records a fresh collapsed menu.
func (m *MenuStates) Attach(chatID int64, messageID int) {
	m.set(chatID, messageID, MenuCollapsed)
}

// Expand moves a menu to Expanded. Repeated taps keep it there; a consumed
// menu stays consumed and false is returned.
func (m *MenuStates) Expand(chatID int64, messageID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := menuKey{chatID, messageID}
	if entry, ok := m.menus[key]; ok && entry.state == MenuConsumed {
		return false
	}
	m.menus[key] = &menu{state: MenuExpanded, updatedAt: m.now()}
	return true
}

// Consume marks the menu used. Only the first caller gets true.
func (m *MenuStates) Consume(chatID int64, messageID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := menuKey{chatID, messageID}
	if entry, ok := m.menus[key]; ok && entry.state == MenuConsumed {
		return false
	}
	m.menus[key] = &menu{state: MenuConsumed, updatedAt: m.now()}
	return true
}

// Reopen puts a consumed menu back to Collapsed, for taps that failed before
// any summary work started.
func (m *MenuStates) Reopen(chatID int64, messageID int) {
	m.set(chatID, messageID, MenuCollapsed)
}

func (m *MenuStates) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, entry := range m.menus {
		if now.Sub(entry.updatedAt) > m.ttl {
			delete(m.menus, key)
			removed++
		}
	}
	return removed
}

func (m *MenuStates) set(chatID int64, messageID int, state MenuState) {
	m.mu.Lock()
	m.menus[menuKey{chatID, messageID}] = &menu{state: state, updatedAt: m.now()}
	m.mu.Unlock()
}
