package ocr

import (
	"context"
	"fmt"

	"github.com/loqalabs/readaloud/internal/frame"
)

// Box is an axis-aligned rectangle in normalized frame pixels.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Token is one located run of text.
type Token struct {
	Text   string `json:"text"`
	Bounds Box    `json:"bounds"`
}

// Recognizer abstracts OCR backends. Tokens are returned in reading order.
type Recognizer interface {
	Recognize(ctx context.Context, f frame.Normalized) ([]Token, error)
}

// RecognitionError wraps a backend failure.
type RecognitionError struct {
	Engine string
	Err    error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("%s recognition failed: %v", e.Engine, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }
