package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/readaloud/internal/cycle"
)

type outcomePayload struct {
	Message   string   `json:"message"`
	Error     string   `json:"error,omitempty"`
	Tokens    int      `json:"tokens"`
	Spoken    []string `json:"spoken,omitempty"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

// Recorder journals cycle outcomes off the capture loop goroutine.
type Recorder struct {
	store  *Store
	runID  string
	logger *slog.Logger
	events chan Event
	wg     sync.WaitGroup
}

// NewRecorder starts a writer that runs until ctx is done and then flushes
// its backlog.
func NewRecorder(ctx context.Context, store *Store, runID string, log *slog.Logger) *Recorder {
	r := &Recorder{
		store:  store,
		runID:  runID,
		logger: log.With(slog.String("component", "cycle-journal")),
		events: make(chan Event, 64),
	}
	r.wg.Add(1)
	go r.run(ctx)
	return r
}

// Notify implements cycle.Notifier. Outcomes are dropped when the writer
// falls behind.
func (r *Recorder) Notify(o cycle.Outcome) {
	p := outcomePayload{
		Message:   o.Message(),
		Tokens:    len(o.Tokens),
		Spoken:    o.Spoken,
		ElapsedMS: o.Duration().Milliseconds(),
	}
	if o.Err != nil {
		p.Error = o.Err.Error()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		r.logger.Warn("failed to encode outcome", slog.String("error", err.Error()))
		return
	}
	evt := Event{
		RunID:     r.runID,
		CycleID:   o.CycleID,
		Trigger:   string(o.Trigger),
		Kind:      string(o.Kind),
		Payload:   payload,
		CreatedAt: o.Finished.UTC(),
	}
	select {
	case r.events <- evt:
	default:
		r.logger.Warn("journal backlog full, dropping outcome", slog.String("cycle_id", o.CycleID))
	}
}

const drainTimeout = 5 * time.Second

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case evt := <-r.events:
			r.append(ctx, evt)
		}
	}
}

// drain writes whatever is still buffered once the run is shutting down.
func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case evt := <-r.events:
			r.append(ctx, evt)
		default:
			return
		}
	}
}

func (r *Recorder) append(ctx context.Context, evt Event) {
	if err := r.store.AppendEvent(ctx, evt); err != nil {
		r.logger.Warn("failed to journal outcome",
			slog.String("cycle_id", evt.CycleID), slog.String("error", err.Error()))
	}
}

// Wait blocks until the writer has stopped.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
