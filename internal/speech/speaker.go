package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Mode selects how new words interact with the pending queue.
type Mode int

const (
	// Append adds words after whatever is still queued.
	Append Mode = iota
	// Flush drops queued words and interrupts the current utterance first.
	Flush
)

func (m Mode) String() string {
	if m == Flush {
		return "flush"
	}
	return "append"
}

// Speaker is the contract the capture loop relies on.
type Speaker interface {
	Enqueue(words []string, mode Mode) error
	IsSpeaking() bool
	Stop()
}

// Voice utters a single piece of text and returns once playback has ended or
// ctx is cancelled.
type Voice interface {
	Say(ctx context.Context, text string) error
}

var ErrClosed = errors.New("speech queue closed")

// Queue serializes utterances onto one Voice.
type Queue struct {
	voice  Voice
	logger *slog.Logger

	mu            sync.Mutex
	pending       []string
	active        bool
	cancelCurrent context.CancelFunc
	closed        bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(parent context.Context, voice Voice, log *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		voice:  voice,
		logger: log.With(slog.String("component", "speech-queue")),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) Enqueue(words []string, mode Mode) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if mode == Flush {
		q.flushLocked()
	}
	for _, w := range words {
		if w != "" {
			q.pending = append(q.pending, w)
		}
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// IsSpeaking reports whether an utterance is playing or queued. It never
// blocks on the voice.
func (q *Queue) IsSpeaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active || len(q.pending) > 0
}

// Stop drops queued words and interrupts the current utterance.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.flushLocked()
}

// Pending returns a copy of the words not yet spoken.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.pending...)
}

func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.flushLocked()
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) flushLocked() {
	q.pending = nil
	if q.cancelCurrent != nil {
		q.cancelCurrent()
		q.cancelCurrent = nil
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		text, ctx, ok := q.next()
		if !ok {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}
		err := q.voice.Say(ctx, text)
		q.mu.Lock()
		q.active = false
		if q.cancelCurrent != nil {
			q.cancelCurrent()
			q.cancelCurrent = nil
		}
		q.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			q.logger.Warn("utterance failed", slog.String("text", text), slogError(err))
		}
	}
}

func (q *Queue) next() (string, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 || q.ctx.Err() != nil {
		return "", nil, false
	}
	text := q.pending[0]
	q.pending = q.pending[1:]
	ctx, cancel := context.WithCancel(q.ctx)
	q.cancelCurrent = cancel
	q.active = true
	return text, ctx, true
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
