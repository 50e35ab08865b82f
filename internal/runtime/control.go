package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/cycle"
	"github.com/loqalabs/readaloud/internal/protocol"
	"github.com/nats-io/nats.go"
)

// loop is the part of the capture controller remote control needs.
type loop interface {
	Trigger(ctx context.Context) (bool, error)
	Toggle(ctx context.Context) (bool, error)
	SetAutoCapture(ctx context.Context, enabled bool) error
	Status(ctx context.Context) (cycle.Status, error)
}

// control applies one remote request to the loop.
func control(ctx context.Context, l loop, req protocol.ControlRequest) protocol.ControlReply {
	var (
		reply protocol.ControlReply
		err   error
	)
	switch req.Action {
	case "capture":
		reply.Started, err = l.Trigger(ctx)
	case "toggle":
		_, err = l.Toggle(ctx)
	case "auto":
		if req.Enabled == nil {
			err = fmt.Errorf("auto requires enabled")
		} else {
			err = l.SetAutoCapture(ctx, *req.Enabled)
		}
	case "status":
	default:
		err = fmt.Errorf("unknown action %q", req.Action)
	}
	if err != nil {
		reply.Error = err.Error()
		return reply
	}

	status, err := l.Status(ctx)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	reply.State = status.State.String()
	reply.AutoCapture = status.AutoCapture
	reply.Speaking = status.Speaking
	reply.Cycles = status.Cycles
	reply.LastOutcome = string(status.LastOutcome)
	return reply
}

// subscribeControl answers ControlRequests addressed to nodeID.
func subscribeControl(ctx context.Context, client *bus.Client, nodeID string, l loop, log *slog.Logger) (*nats.Subscription, error) {
	log = log.With(slog.String("component", "control"))
	return client.Conn().Subscribe(protocol.ControlSubject(nodeID), func(msg *nats.Msg) {
		var req protocol.ControlRequest
		var reply protocol.ControlReply
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			reply.Error = fmt.Sprintf("invalid request: %v", err)
		} else {
			reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			reply = control(reqCtx, l, req)
			cancel()
		}
		log.Debug("control request", slog.String("action", req.Action), slog.Bool("ok", reply.OK))
		data, err := json.Marshal(reply)
		if err != nil {
			log.Warn("failed to encode control reply", slog.String("error", err.Error()))
			return
		}
		if err := msg.Respond(data); err != nil {
			log.Warn("failed to send control reply", slog.String("error", err.Error()))
		}
	})
}
