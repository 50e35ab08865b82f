package ocr

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/loqalabs/readaloud/internal/frame"
)

func TestMockRecognizerLaysOutWords(t *testing.T) {
	r := NewMockRecognizer("the quick fox")
	f := frame.Normalized{Image: image.NewRGBA(image.Rect(0, 0, 300, 400)), Width: 300, Height: 400}
	tokens, err := r.Recognize(context.Background(), f)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(tokens))
	}
	if tokens[1].Text != "quick" || tokens[1].Bounds.X != 100 || tokens[1].Bounds.Width != 100 {
		t.Fatalf("unexpected token %+v", tokens[1])
	}
}

func TestMockRecognizerEmpty(t *testing.T) {
	tokens, err := NewMockRecognizer("").Recognize(context.Background(), frame.Normalized{Width: 10, Height: 10})
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("expected no tokens, got %d", len(tokens))
	}
}

func TestMockRecognizerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockRecognizer("a").Recognize(ctx, frame.Normalized{Width: 10, Height: 10})
	var rerr *RecognitionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RecognitionError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled cause, got %v", err)
	}
}

func TestDecodeTokens(t *testing.T) {
	payload := []byte(`{"tokens":[{"text":"Cat","bounds":{"x":1,"y":2,"width":3,"height":4}},{"text":""},{"text":"Dog","bounds":{"x":5,"y":2,"width":3,"height":4}}]}`)
	tokens, err := decodeTokens(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tokens) != 2 || tokens[0].Text != "Cat" || tokens[1].Bounds.X != 5 {
		t.Fatalf("unexpected tokens %+v", tokens)
	}
	if _, err := decodeTokens([]byte("nope")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewExecRecognizerRejectsEmpty(t *testing.T) {
	if _, err := NewExecRecognizer("   ", nil); err == nil {
		t.Fatal("expected error for empty command")
	}
}
