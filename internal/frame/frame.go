package frame

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// RawFrame is an encoded still as delivered by a capture device.
type RawFrame struct {
	Data       []byte
	CapturedAt time.Time
	Source     string
}

// Normalized is a decoded, rotated and scaled frame. Token geometry reported
// by recognizers is expressed in its coordinate space.
type Normalized struct {
	Image  *image.RGBA
	Width  int
	Height int
	Scale  float64
}

// PNG encodes the frame for recognizers that take encoded input.
func (n Normalized) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, n.Image); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// PreprocessError reports a frame that cannot be handed to recognition.
type PreprocessError struct {
	Reason string
	Err    error
}

func (e *PreprocessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("preprocess frame: %s: %v", e.Reason, e.Err)
	}
	return "preprocess frame: " + e.Reason
}

func (e *PreprocessError) Unwrap() error { return e.Err }

// Normalize decodes raw, rotates it clockwise by rotationDegrees and scales it
// uniformly so it fits inside targetWidth x targetHeight.
func Normalize(raw RawFrame, targetWidth, targetHeight, rotationDegrees int) (Normalized, error) {
	if targetWidth <= 0 || targetHeight <= 0 {
		return Normalized{}, &PreprocessError{Reason: fmt.Sprintf("target size %dx%d is not laid out", targetWidth, targetHeight)}
	}
	if rotationDegrees%90 != 0 {
		return Normalized{}, &PreprocessError{Reason: fmt.Sprintf("rotation %d is not a multiple of 90", rotationDegrees)}
	}
	if len(raw.Data) == 0 {
		return Normalized{}, &PreprocessError{Reason: "empty frame"}
	}
	img, _, err := image.Decode(bytes.NewReader(raw.Data))
	if err != nil {
		return Normalized{}, &PreprocessError{Reason: "decode", Err: err}
	}
	return NormalizeImage(img, targetWidth, targetHeight, rotationDegrees)
}

// NormalizeImage is Normalize for an already decoded image.
func NormalizeImage(img image.Image, targetWidth, targetHeight, rotationDegrees int) (Normalized, error) {
	if targetWidth <= 0 || targetHeight <= 0 {
		return Normalized{}, &PreprocessError{Reason: fmt.Sprintf("target size %dx%d is not laid out", targetWidth, targetHeight)}
	}
	rotated, err := rotate(img, rotationDegrees)
	if err != nil {
		return Normalized{}, err
	}
	srcW := rotated.Bounds().Dx()
	srcH := rotated.Bounds().Dy()
	if srcW == 0 || srcH == 0 {
		return Normalized{}, &PreprocessError{Reason: "zero sized frame"}
	}

	scale := max(float64(srcW)/float64(targetWidth), float64(srcH)/float64(targetHeight))
	dstW := max(int(float64(srcW)/scale), 1)
	dstH := max(int(float64(srcH)/scale), 1)

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), rotated, rotated.Bounds(), draw.Src, nil)
	return Normalized{Image: dst, Width: dstW, Height: dstH, Scale: scale}, nil
}

// rotate turns img clockwise by a multiple of 90 degrees. imaging counts
// angles counter-clockwise.
func rotate(img image.Image, degrees int) (image.Image, error) {
	if degrees%90 != 0 {
		return nil, &PreprocessError{Reason: fmt.Sprintf("rotation %d is not a multiple of 90", degrees)}
	}
	switch ((degrees/90)%4 + 4) % 4 {
	case 1:
		return imaging.Rotate270(img), nil
	case 2:
		return imaging.Rotate180(img), nil
	case 3:
		return imaging.Rotate90(img), nil
	}
	return img, nil
}

// Preprocessor carries the preview size and the fixed device rotation. The
// preview size may change when the display surface is laid out again.
type Preprocessor struct {
	mu       sync.RWMutex
	width    int
	height   int
	rotation int
}

func NewPreprocessor(targetWidth, targetHeight, rotationDegrees int) *Preprocessor {
	return &Preprocessor{width: targetWidth, height: targetHeight, rotation: rotationDegrees}
}

// Resize records a new preview size.
func (p *Preprocessor) Resize(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width = width
	p.height = height
}

// Target returns the current preview size.
func (p *Preprocessor) Target() (int, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.width, p.height
}

func (p *Preprocessor) Normalize(raw RawFrame) (Normalized, error) {
	p.mu.RLock()
	w, h, rot := p.width, p.height, p.rotation
	p.mu.RUnlock()
	return Normalize(raw, w, h, rot)
}
