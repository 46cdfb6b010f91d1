// Package imagectx remembers which image later text questions refer to.
//
// Only the most recent image is kept. A new photo replaces whatever was
// stored before; nothing is ever cleared. Whether the remembered file still
// exists is decided at read time by Resolve, never by the store.
package imagectx

import (
	"os"
	"sync"
)

// Store holds the latest image path. chatID is the opaque conversation key
// handed through by the channel; implementations may ignore it.
type Store interface {
	Get(chatID string) (string, bool)
	Set(chatID, path string)
}

// Slot is the process-wide single slot: every chat shares one image.
type Slot struct {
	mu   sync.Mutex
	path string
}

func NewSlot() *Slot { return &Slot{} }

func (s *Slot) Get(string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.path != ""
}

func (s *Slot) Set(_ string, path string) {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
}

// PerChat keeps one slot per chat ID.
type PerChat struct {
	mu    sync.Mutex
	paths map[string]string
}

func NewPerChat() *PerChat {
	return &PerChat{paths: make(map[string]string)}
}

func (p *PerChat) Get(chatID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, ok := p.paths[chatID]
	return path, ok && path != ""
}

func (p *PerChat) Set(chatID, path string) {
	p.mu.Lock()
	p.paths[chatID] = path
	p.mu.Unlock()
}

const (
	ScopeGlobal = "global"
	ScopeChat   = "chat"
)

// New returns the store for the configured scope. Unknown scopes fall back
// to the global slot.
func New(scope string) Store {
	if scope == ScopeChat {
		return NewPerChat()
	}
	return NewSlot()
}

// State is the resolved image context for one read.
type State int

const (
	None  State = iota // nothing was ever stored
	Stale              // a path is stored but the file is gone
	Valid              // a path is stored and the file exists
)

func (s State) String() string {
	switch s {
	case Stale:
		return "stale"
	case Valid:
		return "valid"
	default:
		return "none"
	}
}

// Context is the result of Resolve.
type Context struct {
	State State
	Path  string
}

// Resolve reads the store and checks the remembered file on disk.
func Resolve(s Store, chatID string) Context {
	path, ok := s.Get(chatID)
	if !ok {
		return Context{State: None}
	}
	// Any stat failure counts as gone: the vision call could not read it either.
	if _, err := os.Stat(path); err != nil {
		return Context{State: Stale, Path: path}
	}
	return Context{State: Valid, Path: path}
}
