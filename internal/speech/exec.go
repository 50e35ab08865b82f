package speech

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"github.com/oklog/ulid/v2"
)

// ExecOptions configures the command backed voice.
type ExecOptions struct {
	Command    string
	Player     string
	SpoolDir   string
	Voice      string
	Rate       float64
	SampleRate int
	Channels   int
	// SpoolKeep is how many WAV files to leave in SpoolDir when no player
	// is configured. Zero removes each file once its playback time is over.
	SpoolKeep int
}

const spoolPattern = "utterance-*.wav"

type execVoice struct {
	synth  []string
	player []string
	opts   ExecOptions
}

type execRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice"`
	Rate       float64 `json:"rate"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecVoice synthesizes through an external command that reads one JSON
// request on stdin and streams JSON lines of base64 PCM on stdout. The audio
// is written to a WAV file in the spool directory; when a player command is
// configured it is run with the file path and the utterance lasts as long as
// the player does, otherwise playback time is simulated from the sample count
// and the newest SpoolKeep files are left for an external sink.
func NewExecVoice(opts ExecOptions) (Voice, error) {
	parser := shellwords.NewParser()
	synth, err := parser.Parse(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("parse speech command: %w", err)
	}
	if len(synth) == 0 {
		return nil, fmt.Errorf("speech command empty")
	}
	var player []string
	if opts.Player != "" {
		player, err = shellwords.NewParser().Parse(opts.Player)
		if err != nil {
			return nil, fmt.Errorf("parse player command: %w", err)
		}
	}
	if opts.SpoolKeep < 0 {
		opts.SpoolKeep = 0
	}
	if opts.SpoolDir == "" {
		opts.SpoolDir = os.TempDir()
	}
	if err := os.MkdirAll(opts.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &execVoice{synth: synth, player: player, opts: opts}, nil
}

func (e *execVoice) Say(ctx context.Context, text string) error {
	pcm, err := e.synthesize(ctx, text)
	if err != nil {
		return err
	}
	path := filepath.Join(e.opts.SpoolDir, "utterance-"+ulid.Make().String()+".wav")
	if err := writeWAV(path, pcm, e.opts.SampleRate, e.opts.Channels); err != nil {
		return err
	}

	if len(e.player) == 0 {
		err := waitPlayback(ctx, playbackDuration(len(pcm), e.opts.SampleRate, e.opts.Channels))
		e.pruneSpool()
		return err
	}
	defer os.Remove(path)
	args := append(append([]string{}, e.player[1:]...), path)
	cmd := exec.CommandContext(ctx, e.player[0], args...)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player failed: %w", err)
	}
	return nil
}

// pruneSpool removes all but the newest SpoolKeep utterances. ULID names
// sort by creation time.
func (e *execVoice) pruneSpool() {
	files, err := filepath.Glob(filepath.Join(e.opts.SpoolDir, spoolPattern))
	if err != nil || len(files) <= e.opts.SpoolKeep {
		return
	}
	sort.Strings(files)
	for _, f := range files[:len(files)-e.opts.SpoolKeep] {
		_ = os.Remove(f)
	}
}

func (e *execVoice) synthesize(ctx context.Context, text string) ([]byte, error) {
	data, err := json.Marshal(execRequest{
		Text:       text,
		Voice:      e.opts.Voice,
		Rate:       e.opts.Rate,
		SampleRate: e.opts.SampleRate,
		Channels:   e.opts.Channels,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.synth[0], e.synth[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start speech command: %w", err)
	}
	if _, err := stdin.Write(data); err != nil {
		_ = cmd.Wait()
		return nil, err
	}
	stdin.Close()

	var pcm []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode speech chunk: %w", err)
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode speech pcm: %w", err)
		}
		pcm = append(pcm, chunk...)
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("speech command failed: %w", err)
	}
	return pcm, nil
}

// writeWAV stores 16-bit little endian PCM as a WAV file.
func writeWAV(path string, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer file.Close()

	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}, SourceBitDepth: 16}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

func playbackDuration(pcmBytes, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := pcmBytes / 2 / channels
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

func waitPlayback(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
