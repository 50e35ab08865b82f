package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/loqalabs/readaloud/internal/frame"
)

// Device is a still camera with a live preview.
type Device interface {
	RequestFrame(ctx context.Context) (frame.RawFrame, error)
	StartPreview(ctx context.Context) error
	StopPreview(ctx context.Context) error
	Release() error
}

var ErrReleased = errors.New("device released")

// Error reports a device that could not deliver a frame.
type Error struct {
	Device string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Device, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// lifecycle tracks preview/release state; every transition is idempotent.
type lifecycle struct {
	mu         sync.Mutex
	previewing bool
	released   bool
}

func (l *lifecycle) startPreview() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ErrReleased
	}
	l.previewing = true
	return nil
}

func (l *lifecycle) stopPreview() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.previewing = false
}

func (l *lifecycle) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.previewing = false
	l.released = true
}

func (l *lifecycle) usable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ErrReleased
	}
	return nil
}

// Previewing reports whether the preview is running.
func (l *lifecycle) Previewing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.previewing
}
