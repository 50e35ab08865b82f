//go:build !tesseract

package runtime

import (
	"errors"

	"github.com/loqalabs/readaloud/internal/ocr"
)

func newTesseract([]string) (ocr.Recognizer, error) {
	return nil, errors.New("ocr mode tesseract needs a build with -tags tesseract")
}
