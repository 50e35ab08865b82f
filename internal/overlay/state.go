package overlay

import (
	"sync"
	"time"

	"github.com/loqalabs/readaloud/internal/ocr"
)

// Surface receives the boxes of one recognition cycle.
type Surface interface {
	Clear()
	Add(tok ocr.Token)
}

// Committer is implemented by surfaces that stage Clear/Add calls and
// publish them in one step.
type Committer interface {
	Commit()
}

// Snapshot is the overlay as last committed.
type Snapshot struct {
	Version   uint64
	Tokens    []ocr.Token
	UpdatedAt time.Time
}

// State is the displayed set of bounding boxes. Clear and Add stage the next
// overlay; readers only ever observe whole committed overlays.
type State struct {
	mu          sync.RWMutex
	staged      []ocr.Token
	current     Snapshot
	subscribers []func(Snapshot)
	clock       func() time.Time
}

func NewState() *State {
	return &State{clock: time.Now}
}

func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = nil
}

func (s *State) Add(tok ocr.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = append(s.staged, tok)
}

// Commit replaces the displayed overlay with the staged boxes and notifies
// subscribers.
func (s *State) Commit() {
	s.mu.Lock()
	s.current = Snapshot{
		Version:   s.current.Version + 1,
		Tokens:    append([]ocr.Token(nil), s.staged...),
		UpdatedAt: s.clock().UTC(),
	}
	snap := s.snapshotLocked()
	subs := append([]func(Snapshot){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// Snapshot returns a copy of the committed overlay.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to be called after every Commit.
func (s *State) Subscribe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *State) snapshotLocked() Snapshot {
	snap := s.current
	snap.Tokens = append([]ocr.Token(nil), s.current.Tokens...)
	return snap
}
