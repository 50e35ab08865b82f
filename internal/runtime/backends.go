package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/capture"
	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/ocr"
	"github.com/loqalabs/readaloud/internal/speech"
)

func newDevice(cfg config.CaptureConfig, mockText string) (capture.Device, error) {
	switch cfg.Mode {
	case "directory":
		return capture.NewDirectoryDevice(cfg.Directory), nil
	case "exec":
		return capture.NewExecDevice(cfg.Command)
	default:
		// A landscape sensor, like the phone camera the preview is rotated for.
		return capture.NewMockDevice(mockText, 1280, 720), nil
	}
}

func newRecognizer(cfg config.OCRConfig) (ocr.Recognizer, error) {
	switch cfg.Mode {
	case "tesseract":
		return newTesseract(cfg.Languages)
	case "exec":
		return ocr.NewExecRecognizer(cfg.Command, cfg.Languages)
	default:
		return ocr.NewMockRecognizer(cfg.MockText), nil
	}
}

// newVoice returns the voice for cfg and, for voices that hold resources, a
// close function.
func newVoice(cfg config.SpeechConfig, busClient *bus.Client, log *slog.Logger) (speech.Voice, func(), error) {
	switch cfg.Mode {
	case "exec":
		voice, err := speech.NewExecVoice(speech.ExecOptions{
			Command:    cfg.Command,
			Player:     cfg.Player,
			SpoolDir:   cfg.SpoolDir,
			SpoolKeep:  cfg.SpoolKeep,
			Voice:      cfg.Voice,
			Rate:       cfg.Rate,
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		})
		return voice, func() {}, err
	case "bus":
		if busClient == nil {
			return nil, nil, fmt.Errorf("speech mode bus requires the message bus")
		}
		voice, err := speech.NewBusVoice(busClient, speech.BusOptions{
			Voice:   cfg.Voice,
			Rate:    cfg.Rate,
			Target:  cfg.Target,
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return voice, voice.Close, nil
	default:
		return speech.NewMockVoice(time.Duration(cfg.WordDurationMS)*time.Millisecond, cfg.Rate), func() {}, nil
	}
}

func releaseDevice(ctx context.Context, device capture.Device, log *slog.Logger) {
	if err := device.StopPreview(ctx); err != nil {
		log.Warn("failed to stop preview", slog.String("error", err.Error()))
	}
	if err := device.Release(); err != nil {
		log.Warn("failed to release camera", slog.String("error", err.Error()))
	}
}
