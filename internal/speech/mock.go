package speech

import (
	"context"
	"time"
)

type mockVoice struct {
	perWord time.Duration
}

// NewMockVoice simulates playback by waiting perWord scaled down by rate.
func NewMockVoice(perWord time.Duration, rate float64) Voice {
	if rate > 0 {
		perWord = time.Duration(float64(perWord) / rate)
	}
	return &mockVoice{perWord: perWord}
}

func (m *mockVoice) Say(ctx context.Context, _ string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.perWord):
		return nil
	}
}
