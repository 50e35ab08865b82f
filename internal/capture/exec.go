package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/loqalabs/readaloud/internal/frame"
	"github.com/mattn/go-shellwords"
)

// ExecDevice grabs a still by running a command that writes one encoded
// image to stdout (for example `fswebcam --no-banner -`).
type ExecDevice struct {
	lifecycle
	cmd []string
	mu  sync.Mutex
}

func NewExecDevice(command string) (*ExecDevice, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command empty")
	}
	return &ExecDevice{cmd: args}, nil
}

func (d *ExecDevice) RequestFrame(ctx context.Context) (frame.RawFrame, error) {
	if err := d.usable(); err != nil {
		return frame.RawFrame{}, &Error{Device: "exec", Err: err}
	}
	// The camera serves one still at a time.
	d.mu.Lock()
	defer d.mu.Unlock()

	command := exec.CommandContext(ctx, d.cmd[0], d.cmd[1:]...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return frame.RawFrame{}, &Error{Device: "exec", Err: fmt.Errorf("capture command failed: %w: %s", err, stderr.String())}
	}
	if stdout.Len() == 0 {
		return frame.RawFrame{}, &Error{Device: "exec", Err: fmt.Errorf("capture command produced no image")}
	}
	return frame.RawFrame{Data: stdout.Bytes(), CapturedAt: time.Now().UTC(), Source: d.cmd[0]}, nil
}

func (d *ExecDevice) StartPreview(context.Context) error { return d.startPreview() }

func (d *ExecDevice) StopPreview(context.Context) error {
	d.stopPreview()
	return nil
}

func (d *ExecDevice) Release() error {
	d.release()
	return nil
}
