package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/loqalabs/readaloud/internal/frame"
	"github.com/mattn/go-shellwords"
)

type execRecognizer struct {
	cmd       []string
	languages []string
	mu        sync.Mutex
}

type execResult struct {
	Tokens []Token `json:"tokens"`
}

// NewExecRecognizer runs an external OCR command per frame. The command
// receives `--image <png>` (and `--language <lang>` per configured language)
// and must print {"tokens":[{"text":..,"bounds":{..}}]} on stdout.
func NewExecRecognizer(command string, languages []string) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse ocr command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("ocr command is empty")
	}
	return &execRecognizer{cmd: args, languages: languages}, nil
}

func (r *execRecognizer) Recognize(ctx context.Context, f frame.Normalized) ([]Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := f.PNG()
	if err != nil {
		return nil, &RecognitionError{Engine: "exec", Err: err}
	}
	file, err := os.CreateTemp("", "readaloud_ocr_*.png")
	if err != nil {
		return nil, &RecognitionError{Engine: "exec", Err: fmt.Errorf("temp file: %w", err)}
	}
	defer os.Remove(file.Name())
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return nil, &RecognitionError{Engine: "exec", Err: fmt.Errorf("write frame: %w", err)}
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--image", file.Name())
	for _, lang := range r.languages {
		cmdArgs = append(cmdArgs, "--language", lang)
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return nil, &RecognitionError{Engine: "exec", Err: fmt.Errorf("ocr command failed: %w: %s", err, stderr.String())}
	}

	tokens, err := decodeTokens(stdout.Bytes())
	if err != nil {
		return nil, &RecognitionError{Engine: "exec", Err: err}
	}
	return tokens, nil
}

func decodeTokens(data []byte) ([]Token, error) {
	var resp execResult
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	tokens := resp.Tokens[:0]
	for _, tok := range resp.Tokens {
		if tok.Text == "" {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}
