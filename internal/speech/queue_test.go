package speech

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeVoice struct {
	started chan string
	release chan struct{}

	mu        sync.Mutex
	finished  []string
	cancelled []string
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{started: make(chan string, 16), release: make(chan struct{})}
}

func (f *fakeVoice) Say(ctx context.Context, text string) error {
	f.started <- text
	select {
	case <-f.release:
		f.mu.Lock()
		f.finished = append(f.finished, text)
		f.mu.Unlock()
		return nil
	case <-ctx.Done():
		f.mu.Lock()
		f.cancelled = append(f.cancelled, text)
		f.mu.Unlock()
		return ctx.Err()
	}
}

func (f *fakeVoice) snapshot() (finished, cancelled []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finished...), append([]string(nil), f.cancelled...)
}

func nextStarted(t *testing.T, v *fakeVoice) string {
	t.Helper()
	select {
	case text := <-v.started:
		return text
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for utterance")
		return ""
	}
}

func TestQueueSpeaksInOrder(t *testing.T) {
	voice := newFakeVoice()
	q := NewQueue(context.Background(), voice, newLogger())
	t.Cleanup(q.Close)

	require.False(t, q.IsSpeaking())
	require.NoError(t, q.Enqueue([]string{"Cat", "Dog"}, Append))
	require.True(t, q.IsSpeaking())

	require.Equal(t, "Cat", nextStarted(t, voice))
	voice.release <- struct{}{}
	require.Equal(t, "Dog", nextStarted(t, voice))
	voice.release <- struct{}{}

	require.Eventually(t, func() bool { return !q.IsSpeaking() }, 2*time.Second, 5*time.Millisecond)
	finished, cancelled := voice.snapshot()
	require.Equal(t, []string{"Cat", "Dog"}, finished)
	require.Empty(t, cancelled)
}

func TestQueueFlushInterruptsCurrentUtterance(t *testing.T) {
	voice := newFakeVoice()
	q := NewQueue(context.Background(), voice, newLogger())
	t.Cleanup(q.Close)

	require.NoError(t, q.Enqueue([]string{"old", "stale"}, Append))
	require.Equal(t, "old", nextStarted(t, voice))
	require.Equal(t, []string{"stale"}, q.Pending())

	require.NoError(t, q.Enqueue([]string{"new", "words"}, Flush))
	require.Equal(t, "new", nextStarted(t, voice))
	require.Equal(t, []string{"words"}, q.Pending())
	voice.release <- struct{}{}
	require.Equal(t, "words", nextStarted(t, voice))
	voice.release <- struct{}{}

	require.Eventually(t, func() bool { return !q.IsSpeaking() }, 2*time.Second, 5*time.Millisecond)
	finished, cancelled := voice.snapshot()
	require.Equal(t, []string{"new", "words"}, finished)
	require.Equal(t, []string{"old"}, cancelled)
}

func TestQueueAppendKeepsPending(t *testing.T) {
	voice := newFakeVoice()
	q := NewQueue(context.Background(), voice, newLogger())
	t.Cleanup(q.Close)

	require.NoError(t, q.Enqueue([]string{"one", "two"}, Append))
	require.Equal(t, "one", nextStarted(t, voice))
	require.NoError(t, q.Enqueue([]string{"three"}, Append))
	require.Equal(t, []string{"two", "three"}, q.Pending())
}

func TestQueueStop(t *testing.T) {
	voice := newFakeVoice()
	q := NewQueue(context.Background(), voice, newLogger())
	t.Cleanup(q.Close)

	require.NoError(t, q.Enqueue([]string{"a", "b", "c"}, Append))
	require.Equal(t, "a", nextStarted(t, voice))
	q.Stop()
	require.Empty(t, q.Pending())
	require.Eventually(t, func() bool { return !q.IsSpeaking() }, 2*time.Second, 5*time.Millisecond)
	_, cancelled := voice.snapshot()
	require.Equal(t, []string{"a"}, cancelled)
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(context.Background(), newFakeVoice(), newLogger())
	q.Close()
	require.ErrorIs(t, q.Enqueue([]string{"late"}, Flush), ErrClosed)
}

func TestMockVoiceRespectsCancel(t *testing.T) {
	v := NewMockVoice(time.Hour, 1.5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, v.Say(ctx, "word"), context.Canceled)
}

func TestModeString(t *testing.T) {
	require.Equal(t, "flush", Flush.String())
	require.Equal(t, "append", Append.String())
}
