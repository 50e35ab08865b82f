package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/natsserver"
	"github.com/loqalabs/readaloud/internal/protocol"
	"github.com/nats-io/nats.go"
)

// startResponder runs an embedded server with a node that answers control
// requests and records them.
func startResponder(t *testing.T, nodeID string) (string, chan protocol.ControlRequest) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), "node", config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	seen := make(chan protocol.ControlRequest, 4)
	_, err = client.Conn().Subscribe(protocol.ControlSubject(nodeID), func(msg *nats.Msg) {
		var req protocol.ControlRequest
		_ = json.Unmarshal(msg.Data, &req)
		seen <- req
		reply := protocol.ControlReply{OK: true, State: "idle", Started: req.Action == "capture"}
		if req.Enabled != nil {
			reply.AutoCapture = *req.Enabled
		}
		data, _ := json.Marshal(reply)
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return srv.ClientURL(), seen
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newCLIApp(&out).Run(append([]string{"readaloudctl"}, args...))
	return out.String(), err
}

func TestCaptureCommand(t *testing.T) {
	url, seen := startResponder(t, "kitchen")

	out, err := run(t, "--server", url, "--node", "kitchen", "capture")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if req := <-seen; req.Action != "capture" {
		t.Fatalf("unexpected action %q", req.Action)
	}
	var reply protocol.ControlReply
	if err := json.Unmarshal([]byte(out), &reply); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if !reply.Started {
		t.Fatal("expected started in output")
	}
}

func TestAutoCommand(t *testing.T) {
	url, seen := startResponder(t, "kitchen")

	if _, err := run(t, "--server", url, "--node", "kitchen", "auto", "on"); err != nil {
		t.Fatalf("auto: %v", err)
	}
	req := <-seen
	if req.Action != "auto" || req.Enabled == nil || !*req.Enabled {
		t.Fatalf("unexpected request %+v", req)
	}

	if _, err := run(t, "--server", url, "--node", "kitchen", "auto", "sometimes"); err == nil {
		t.Fatal("expected error for bad argument")
	}
}

func TestWordsCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.txt")
	if err := os.WriteFile(path, []byte("Cat\ndog\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "words", "check", "--path", path, "CAT", "xzq")
	if err != nil {
		t.Fatalf("words check: %v", err)
	}
	var result struct {
		Words  int             `json:"words"`
		Checks map[string]bool `json:"checks"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if result.Words != 2 || !result.Checks["CAT"] || result.Checks["xzq"] {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestWordsCheckMissingFile(t *testing.T) {
	if _, err := run(t, "words", "check", "--path", filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("expected error for missing word list")
	}
}
