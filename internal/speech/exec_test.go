package speech

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

func TestWriteWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utt.wav")
	pcm := []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x10, 0x00}
	if err := writeWAV(path, pcm, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("expected valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buf.Data) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(buf.Data))
	}
	if buf.Data[1] != 32767 || buf.Data[2] != -32768 {
		t.Fatalf("unexpected samples %v", buf.Data)
	}
	if buf.Format.SampleRate != 16000 {
		t.Fatalf("unexpected sample rate %d", buf.Format.SampleRate)
	}
}

func TestWriteWAVRejectsOddPayload(t *testing.T) {
	if err := writeWAV(filepath.Join(t.TempDir(), "bad.wav"), []byte{1}, 16000, 1); err == nil {
		t.Fatal("expected alignment error")
	}
}

func TestPlaybackDuration(t *testing.T) {
	// one second of 16-bit stereo at 8kHz
	if got := playbackDuration(8000*2*2, 8000, 2); got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}
	if got := playbackDuration(100, 0, 1); got != 0 {
		t.Fatalf("expected 0 for invalid rate, got %v", got)
	}
}

func TestNewExecVoiceRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecVoice(ExecOptions{Command: "", SpoolDir: t.TempDir()}); err == nil {
		t.Fatal("expected error")
	}
}

// fakeSynth writes a shell script that swallows the request and answers with
// two samples of silence.
func fakeSynth(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synth.sh")
	script := "#!/bin/sh\ncat >/dev/null\necho '{\"pcm_base64\":\"AAAAAA==\",\"final\":true}'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return "sh " + path
}

func spooled(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, spoolPattern))
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestExecVoiceRemovesSpoolWithoutPlayer(t *testing.T) {
	spool := t.TempDir()
	voice, err := NewExecVoice(ExecOptions{Command: fakeSynth(t), SpoolDir: spool, SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("exec voice: %v", err)
	}
	for _, w := range []string{"cat", "dog", "fox"} {
		if err := voice.Say(context.Background(), w); err != nil {
			t.Fatalf("say %q: %v", w, err)
		}
	}
	if files := spooled(t, spool); len(files) != 0 {
		t.Fatalf("expected empty spool, found %v", files)
	}
}

func TestExecVoiceKeepsNewestSpoolFiles(t *testing.T) {
	spool := t.TempDir()
	voice, err := NewExecVoice(ExecOptions{Command: fakeSynth(t), SpoolDir: spool, SampleRate: 16000, Channels: 1, SpoolKeep: 2})
	if err != nil {
		t.Fatalf("exec voice: %v", err)
	}
	for _, w := range []string{"cat", "dog", "fox", "owl"} {
		if err := voice.Say(context.Background(), w); err != nil {
			t.Fatalf("say %q: %v", w, err)
		}
	}
	if files := spooled(t, spool); len(files) != 2 {
		t.Fatalf("expected 2 spooled files, found %v", files)
	}
}
