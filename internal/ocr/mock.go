package ocr

import (
	"context"
	"strings"
	"time"

	"github.com/loqalabs/readaloud/internal/frame"
)

type mockRecognizer struct {
	words []string
}

// NewMockRecognizer returns a recognizer that "reads" text laid out on a
// single line across the top of every frame.
func NewMockRecognizer(text string) Recognizer {
	return &mockRecognizer{words: strings.Fields(text)}
}

func (m *mockRecognizer) Recognize(ctx context.Context, f frame.Normalized) ([]Token, error) {
	select {
	case <-ctx.Done():
		return nil, &RecognitionError{Engine: "mock", Err: ctx.Err()}
	case <-time.After(20 * time.Millisecond):
	}
	if len(m.words) == 0 {
		return nil, nil
	}
	cell := f.Width / len(m.words)
	height := max(f.Height/20, 1)
	tokens := make([]Token, 0, len(m.words))
	for i, w := range m.words {
		tokens = append(tokens, Token{
			Text:   w,
			Bounds: Box{X: i * cell, Y: 0, Width: cell, Height: height},
		})
	}
	return tokens, nil
}
