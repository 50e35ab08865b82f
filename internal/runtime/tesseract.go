//go:build tesseract

package runtime

import (
	"github.com/loqalabs/readaloud/internal/ocr"
	"github.com/loqalabs/readaloud/internal/ocr/tesseract"
)

func newTesseract(languages []string) (ocr.Recognizer, error) {
	return tesseract.New(languages), nil
}
