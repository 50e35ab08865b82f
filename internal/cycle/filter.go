package cycle

import "github.com/loqalabs/readaloud/internal/ocr"

// Lexicon answers whether a recognized word may be spoken.
type Lexicon interface {
	Contains(word string) bool
}

// Batch is one recognition result split for rendering and speech.
type Batch struct {
	// All holds every token in recognizer order; every one is drawn.
	All []ocr.Token
	// Spoken holds the tokens found in the lexicon, in the same relative order.
	Spoken []ocr.Token
}

// Empty reports a frame in which no text was found.
func (b Batch) Empty() bool { return len(b.All) == 0 }

// SpokenText returns the text of the spoken tokens.
func (b Batch) SpokenText() []string {
	words := make([]string, 0, len(b.Spoken))
	for _, tok := range b.Spoken {
		words = append(words, tok.Text)
	}
	return words
}

// Filter partitions tokens against words without reordering them.
func Filter(tokens []ocr.Token, words Lexicon) Batch {
	batch := Batch{All: append([]ocr.Token(nil), tokens...)}
	for _, tok := range tokens {
		if words != nil && words.Contains(tok.Text) {
			batch.Spoken = append(batch.Spoken, tok)
		}
	}
	return batch
}
