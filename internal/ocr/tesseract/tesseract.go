//go:build tesseract

// Package tesseract provides the Tesseract backed recognizer. It needs cgo and
// the tesseract/leptonica libraries at build time.
package tesseract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/loqalabs/readaloud/internal/frame"
	"github.com/loqalabs/readaloud/internal/ocr"
	"github.com/otiai10/gosseract/v2"
)

// Recognizer runs word-level Tesseract recognition on normalized frames.
type Recognizer struct {
	languages     []string
	clientFactory func() *gosseract.Client
	mu            sync.Mutex
}

func New(languages []string) *Recognizer {
	return &Recognizer{languages: languages, clientFactory: gosseract.NewClient}
}

func (r *Recognizer) Recognize(ctx context.Context, f frame.Normalized) ([]ocr.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &ocr.RecognitionError{Engine: "tesseract", Err: err}
	}
	data, err := f.PNG()
	if err != nil {
		return nil, &ocr.RecognitionError{Engine: "tesseract", Err: err}
	}

	c := r.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(data); err != nil {
		return nil, &ocr.RecognitionError{Engine: "tesseract", Err: fmt.Errorf("set image: %w", err)}
	}
	if len(r.languages) > 0 {
		if err := c.SetLanguage(r.languages...); err != nil {
			return nil, &ocr.RecognitionError{Engine: "tesseract", Err: fmt.Errorf("set languages: %w", err)}
		}
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, &ocr.RecognitionError{Engine: "tesseract", Err: fmt.Errorf("recognize words: %w", err)}
	}
	return toTokens(boxes), nil
}

func toTokens(boxes []gosseract.BoundingBox) []ocr.Token {
	tokens := make([]ocr.Token, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		tokens = append(tokens, ocr.Token{
			Text: text,
			Bounds: ocr.Box{
				X:      b.Box.Min.X,
				Y:      b.Box.Min.Y,
				Width:  b.Box.Dx(),
				Height: b.Box.Dy(),
			},
		})
	}
	return tokens
}
