package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"time"

	"github.com/loqalabs/readaloud/internal/frame"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// MockDevice produces a synthetic landscape frame with text printed on it.
type MockDevice struct {
	lifecycle
	text          string
	width, height int
}

func NewMockDevice(text string, width, height int) *MockDevice {
	return &MockDevice{text: text, width: width, height: height}
}

func (m *MockDevice) RequestFrame(ctx context.Context) (frame.RawFrame, error) {
	if err := m.usable(); err != nil {
		return frame.RawFrame{}, &Error{Device: "mock", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return frame.RawFrame{}, &Error{Device: "mock", Err: err}
	}
	img := image.NewRGBA(image.Rect(0, 0, m.width, m.height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, m.height/2),
	}
	d.DrawString(m.text)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return frame.RawFrame{}, &Error{Device: "mock", Err: err}
	}
	return frame.RawFrame{Data: buf.Bytes(), CapturedAt: time.Now().UTC(), Source: "mock"}, nil
}

func (m *MockDevice) StartPreview(context.Context) error { return m.startPreview() }

func (m *MockDevice) StopPreview(context.Context) error {
	m.stopPreview()
	return nil
}

func (m *MockDevice) Release() error {
	m.release()
	return nil
}
