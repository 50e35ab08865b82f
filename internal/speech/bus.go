package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"
)

// BusOptions configures the bus voice.
type BusOptions struct {
	Voice   string
	Rate    float64
	Target  string
	Timeout time.Duration
	// CancelGrace bounds how long an interrupted Say waits for the remote
	// synthesizer to confirm it stopped. Defaults to one second.
	CancelGrace time.Duration
}

const defaultCancelGrace = time.Second

// BusVoice hands utterances to a synthesizer listening on the message bus
// and waits for its completion status.
type BusVoice struct {
	bus    *bus.Client
	opts   BusOptions
	sub    *nats.Subscription
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string]chan protocol.TTSStatus
}

func NewBusVoice(busClient *bus.Client, opts BusOptions, log *slog.Logger) (*BusVoice, error) {
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = defaultCancelGrace
	}
	v := &BusVoice{
		bus:     busClient,
		opts:    opts,
		logger:  log.With(slog.String("component", "speech-bus")),
		waiters: make(map[string]chan protocol.TTSStatus),
	}
	sub, err := busClient.Conn().Subscribe(protocol.SubjectTTSDone, v.handleStatus)
	if err != nil {
		return nil, fmt.Errorf("subscribe tts status: %w", err)
	}
	v.sub = sub
	return v, nil
}

func (v *BusVoice) Close() {
	if v.sub != nil {
		_ = v.sub.Drain()
	}
}

func (v *BusVoice) Say(ctx context.Context, text string) error {
	id := ulid.Make().String()
	done := make(chan protocol.TTSStatus, 1)
	v.mu.Lock()
	v.waiters[id] = done
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		delete(v.waiters, id)
		v.mu.Unlock()
	}()

	req := protocol.TTSRequest{
		SessionID: id,
		Text:      text,
		Voice:     v.opts.Voice,
		Rate:      v.opts.Rate,
		Target:    v.opts.Target,
	}
	if err := v.bus.PublishJSON(protocol.SubjectTTSRequest, req); err != nil {
		return fmt.Errorf("publish tts request: %w", err)
	}

	if v.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.opts.Timeout)
		defer cancel()
	}
	select {
	case status := <-done:
		if status.Error != "" {
			return errors.New(status.Error)
		}
		return nil
	case <-ctx.Done():
	}

	// Interrupted: the remote synthesizer may still be talking. Stay busy
	// until it confirms or the grace period runs out.
	if err := v.bus.PublishJSON(protocol.SubjectTTSCancel, protocol.TTSCancel{SessionID: id, Target: v.opts.Target}); err != nil {
		v.logger.Warn("failed to publish tts cancel", slog.String("session_id", id), slogError(err))
		return ctx.Err()
	}
	grace := time.NewTimer(v.opts.CancelGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		v.logger.Warn("tts cancel not confirmed", slog.String("session_id", id))
	}
	return ctx.Err()
}

func (v *BusVoice) handleStatus(msg *nats.Msg) {
	var status protocol.TTSStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		v.logger.Warn("failed to decode tts status", slogError(err))
		return
	}
	v.mu.Lock()
	done := v.waiters[status.SessionID]
	v.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case done <- status:
	default:
	}
}
