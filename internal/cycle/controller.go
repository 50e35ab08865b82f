package cycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/readaloud/internal/capture"
	"github.com/loqalabs/readaloud/internal/frame"
	"github.com/loqalabs/readaloud/internal/ocr"
	"github.com/loqalabs/readaloud/internal/overlay"
	"github.com/loqalabs/readaloud/internal/speech"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/readaloud/cycle"

// Normalizer prepares a raw frame for recognition.
type Normalizer interface {
	Normalize(raw frame.RawFrame) (frame.Normalized, error)
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Device     capture.Device
	Normalizer Normalizer
	Recognizer ocr.Recognizer
	Words      Lexicon
	Overlay    overlay.Surface
	Speech     speech.Speaker
	Notifier   Notifier
}

// Options tune the loop.
type Options struct {
	// Interval between automatic capture checks.
	Interval time.Duration
	// AutoCapture is the initial state of automatic capture.
	AutoCapture bool
	// CaptureTimeout bounds a single frame request; zero means no bound.
	CaptureTimeout time.Duration
	// RecognizeTimeout bounds a single recognition; zero means no bound.
	RecognizeTimeout time.Duration
}

var ErrNotRunning = errors.New("capture loop not running")

type requestKind int

const (
	reqTrigger requestKind = iota
	reqTick
	reqToggle
	reqSetAuto
	reqStatus
)

type request struct {
	kind    requestKind
	enabled bool
	reply   chan reply
}

type reply struct {
	started bool
	status  Status
}

type run struct {
	id      string
	trigger Trigger
	started time.Time
	ctx     context.Context
	span    trace.Span
}

type frameResult struct {
	run *run
	raw frame.RawFrame
	err error
}

type recognitionResult struct {
	run    *run
	tokens []ocr.Token
	err    error
}

type instruments struct {
	cycles   metric.Int64Counter
	skipped  metric.Int64Counter
	duration metric.Float64Histogram
}

// Controller is the capture/recognize/speak state machine. All transitions
// happen on the goroutine running Run; other methods post requests to it.
type Controller struct {
	deps    Deps
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics instruments

	requests chan request
	results  chan any
	done     chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup

	// owned by the Run goroutine
	state  State
	auto   bool
	active *run
	cycles uint64
	last   OutcomeKind
}

func New(deps Deps, opts Options, log *slog.Logger) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if deps.Notifier == nil {
		deps.Notifier = Notifiers(nil)
	}
	c := &Controller{
		deps:     deps,
		opts:     opts,
		logger:   log.With(slog.String("component", "capture-loop")),
		tracer:   otel.Tracer(instrumentationName),
		requests: make(chan request),
		results:  make(chan any),
		done:     make(chan struct{}),
		auto:     opts.AutoCapture,
	}
	c.initMetrics()
	return c
}

func (c *Controller) initMetrics() {
	meter := otel.Meter(instrumentationName)
	var err error
	defer func() {
		if err != nil {
			c.logger.Warn("failed to initialize metrics", slogError(err))
			meter = noop.NewMeterProvider().Meter(instrumentationName)
			c.metrics.cycles, _ = meter.Int64Counter("readaloud.cycles")
			c.metrics.skipped, _ = meter.Int64Counter("readaloud.ticks.skipped")
			c.metrics.duration, _ = meter.Float64Histogram("readaloud.cycle.duration")
		}
	}()
	if c.metrics.cycles, err = meter.Int64Counter("readaloud.cycles",
		metric.WithDescription("Capture cycles by outcome")); err != nil {
		return
	}
	if c.metrics.skipped, err = meter.Int64Counter("readaloud.ticks.skipped",
		metric.WithDescription("Automatic capture checks that did not start a cycle")); err != nil {
		return
	}
	c.metrics.duration, err = meter.Float64Histogram("readaloud.cycle.duration",
		metric.WithDescription("End to end cycle latency"), metric.WithUnit("s"))
}

// Run drives the loop and the periodic capture check until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("capture loop already running")
	}
	defer close(c.done)

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.logger.Info("capture loop started",
		slog.Duration("interval", c.opts.Interval),
		slog.Bool("auto_capture", c.auto))

	for {
		select {
		case <-ctx.Done():
			if c.active != nil {
				c.active.span.End()
				c.active = nil
			}
			c.wg.Wait()
			c.logger.Info("capture loop stopped")
			return nil
		case <-ticker.C:
			c.tick(ctx)
		case req := <-c.requests:
			c.handle(ctx, req)
		case res := <-c.results:
			switch r := res.(type) {
			case frameResult:
				c.onFrame(ctx, r)
			case recognitionResult:
				c.onRecognized(r)
			}
		}
	}
}

// Trigger starts a capture on user request regardless of the automatic
// capture setting. It reports false when a cycle is already running.
func (c *Controller) Trigger(ctx context.Context) (bool, error) {
	r, err := c.call(ctx, request{kind: reqTrigger})
	return r.started, err
}

// Tick performs one automatic capture check, as the periodic timer does.
func (c *Controller) Tick(ctx context.Context) (bool, error) {
	r, err := c.call(ctx, request{kind: reqTick})
	return r.started, err
}

// Toggle flips automatic capture and returns the new setting. A cycle that
// is already running is not affected.
func (c *Controller) Toggle(ctx context.Context) (bool, error) {
	r, err := c.call(ctx, request{kind: reqToggle})
	return r.status.AutoCapture, err
}

// SetAutoCapture sets automatic capture explicitly.
func (c *Controller) SetAutoCapture(ctx context.Context, enabled bool) error {
	_, err := c.call(ctx, request{kind: reqSetAuto, enabled: enabled})
	return err
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	r, err := c.call(ctx, request{kind: reqStatus})
	return r.status, err
}

func (c *Controller) call(ctx context.Context, req request) (reply, error) {
	req.reply = make(chan reply, 1)
	select {
	case c.requests <- req:
	case <-c.done:
		return reply{}, ErrNotRunning
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r, nil
	case <-c.done:
		return reply{}, ErrNotRunning
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (c *Controller) handle(ctx context.Context, req request) {
	var r reply
	switch req.kind {
	case reqTrigger:
		if c.state == Idle {
			c.start(ctx, TriggerManual)
			r.started = true
		} else {
			c.logger.Debug("manual capture ignored", slog.String("state", c.state.String()))
		}
	case reqTick:
		r.started = c.tick(ctx)
	case reqToggle:
		c.auto = !c.auto
		c.logger.Info("automatic capture toggled", slog.Bool("enabled", c.auto))
	case reqSetAuto:
		if c.auto != req.enabled {
			c.auto = req.enabled
			c.logger.Info("automatic capture set", slog.Bool("enabled", c.auto))
		}
	}
	r.status = c.status()
	req.reply <- r
}

func (c *Controller) status() Status {
	s := Status{
		State:         c.state,
		AutoCapture:   c.auto,
		ManualEnabled: c.state == Idle,
		Speaking:      c.deps.Speech.IsSpeaking(),
		Cycles:        c.cycles,
		LastOutcome:   c.last,
	}
	if c.active != nil {
		s.CycleID = c.active.id
	}
	return s
}

// tick starts an automatic cycle only when enabled, idle and silent.
func (c *Controller) tick(ctx context.Context) bool {
	var reason string
	switch {
	case !c.auto:
		return false
	case c.state != Idle:
		reason = "busy"
	case c.deps.Speech.IsSpeaking():
		reason = "speaking"
	default:
		c.start(ctx, TriggerAuto)
		return true
	}
	c.metrics.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	return false
}

// start moves Idle -> CaptureInFlight and requests a frame.
func (c *Controller) start(ctx context.Context, trigger Trigger) {
	r := &run{
		id:      ulid.Make().String(),
		trigger: trigger,
		started: time.Now(),
	}
	r.ctx, r.span = c.tracer.Start(ctx, "readaloud.cycle", trace.WithAttributes(
		attribute.String("cycle.id", r.id),
		attribute.String("cycle.trigger", string(trigger)),
	))
	c.active = r
	c.state = CaptureInFlight
	c.logger.Debug("cycle started", slog.String("cycle_id", r.id), slog.String("trigger", string(trigger)))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fctx, cancel := withTimeout(r.ctx, c.opts.CaptureTimeout)
		raw, err := c.deps.Device.RequestFrame(fctx)
		cancel()
		c.post(ctx, frameResult{run: r, raw: raw, err: err})
	}()
}

// onFrame preprocesses synchronously and moves to Recognizing, or ends the
// cycle on a capture or preprocessing failure.
func (c *Controller) onFrame(ctx context.Context, res frameResult) {
	if res.run != c.active || c.state != CaptureInFlight {
		return
	}
	if res.err != nil {
		err := res.err
		var capErr *capture.Error
		if !errors.As(err, &capErr) {
			err = &capture.Error{Device: "camera", Err: err}
		}
		c.finish(Outcome{Kind: OutcomeCaptureFailed, Err: err})
		return
	}

	c.restartPreview(ctx, res.run.id)

	normalized, err := c.deps.Normalizer.Normalize(res.raw)
	if err != nil {
		var preErr *frame.PreprocessError
		if !errors.As(err, &preErr) {
			err = &frame.PreprocessError{Reason: "normalize", Err: err}
		}
		c.finish(Outcome{Kind: OutcomePreprocessFailed, Err: err})
		return
	}

	c.state = Recognizing
	r := res.run
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		rctx, cancel := withTimeout(r.ctx, c.opts.RecognizeTimeout)
		tokens, err := c.deps.Recognizer.Recognize(rctx, normalized)
		cancel()
		c.post(ctx, recognitionResult{run: r, tokens: tokens, err: err})
	}()
}

// restartPreview brings the preview back after a still was taken. The cycle
// never waits for it.
func (c *Controller) restartPreview(ctx context.Context, cycleID string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.deps.Device.StartPreview(ctx); err != nil {
			c.logger.Warn("preview restart failed", slog.String("cycle_id", cycleID), slogError(err))
		}
	}()
}

// onRecognized filters the tokens and replaces overlay and speech.
func (c *Controller) onRecognized(res recognitionResult) {
	if res.run != c.active || c.state != Recognizing {
		return
	}
	if res.err != nil {
		err := res.err
		var recErr *ocr.RecognitionError
		if !errors.As(err, &recErr) {
			err = &ocr.RecognitionError{Engine: "ocr", Err: err}
		}
		c.finish(Outcome{Kind: OutcomeRecognitionFailed, Err: err})
		return
	}

	batch := Filter(res.tokens, c.deps.Words)
	if batch.Empty() {
		c.finish(Outcome{Kind: OutcomeNoTextFound})
		return
	}

	c.deps.Overlay.Clear()
	c.deps.Speech.Stop()
	for _, tok := range batch.All {
		c.deps.Overlay.Add(tok)
	}
	if committer, ok := c.deps.Overlay.(overlay.Committer); ok {
		committer.Commit()
	}
	spoken := batch.SpokenText()
	if len(spoken) > 0 {
		if err := c.deps.Speech.Enqueue(spoken, speech.Flush); err != nil {
			c.logger.Warn("failed to enqueue speech", slog.String("cycle_id", res.run.id), slogError(err))
		}
	}
	c.finish(Outcome{Kind: OutcomeCompleted, Tokens: batch.All, Spoken: spoken})
}

// finish returns the machine to Idle and reports the outcome once.
func (c *Controller) finish(o Outcome) {
	r := c.active
	c.active = nil
	c.state = Idle
	c.cycles++
	c.last = o.Kind

	o.CycleID = r.id
	o.Trigger = r.trigger
	o.Started = r.started
	o.Finished = time.Now()

	attrs := metric.WithAttributes(
		attribute.String("outcome", string(o.Kind)),
		attribute.String("trigger", string(o.Trigger)),
	)
	c.metrics.cycles.Add(r.ctx, 1, attrs)
	c.metrics.duration.Record(r.ctx, o.Duration().Seconds(), attrs)

	r.span.SetAttributes(
		attribute.String("cycle.outcome", string(o.Kind)),
		attribute.Int("cycle.tokens", len(o.Tokens)),
		attribute.Int("cycle.spoken", len(o.Spoken)),
	)
	if o.Err != nil {
		r.span.RecordError(o.Err)
		r.span.SetStatus(codes.Error, o.Err.Error())
		c.logger.Warn("cycle failed",
			slog.String("cycle_id", o.CycleID),
			slog.String("outcome", string(o.Kind)),
			slogError(o.Err))
	} else {
		c.logger.Info("cycle finished",
			slog.String("cycle_id", o.CycleID),
			slog.String("outcome", string(o.Kind)),
			slog.Int("tokens", len(o.Tokens)),
			slog.Int("spoken", len(o.Spoken)),
			slog.Duration("elapsed", o.Duration()))
	}
	r.span.End()

	c.deps.Notifier.Notify(o)
}

// post hands an async result back to the loop unless the loop is gone.
func (c *Controller) post(ctx context.Context, res any) {
	select {
	case c.results <- res:
	case <-ctx.Done():
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
