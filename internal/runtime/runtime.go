package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/capture"
	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/cycle"
	"github.com/loqalabs/readaloud/internal/eventstore"
	"github.com/loqalabs/readaloud/internal/frame"
	"github.com/loqalabs/readaloud/internal/natsserver"
	"github.com/loqalabs/readaloud/internal/overlay"
	"github.com/loqalabs/readaloud/internal/presence"
	"github.com/loqalabs/readaloud/internal/speech"
	"github.com/loqalabs/readaloud/internal/wordset"
	"github.com/oklog/ulid/v2"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	runID  string

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	nats         *natsserver.EmbeddedServer
	bus          *bus.Client
	store        *eventstore.Store
	words        *wordset.Set
	preprocessor *frame.Preprocessor
	device       capture.Device
	speech       *speech.Queue
	overlay      *overlay.State
	ctrl         *cycle.Controller
	presence     *presence.Registry

	// closers run in reverse order on shutdown.
	closers []func(context.Context)
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
		runID:  ulid.Make().String(),
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.assemble(ctx); err != nil {
		cancel()
		r.teardown()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("node_id", r.cfg.Node.ID),
		slog.String("run_id", r.runID))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.teardown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()
}

// assemble builds and starts every component. Components started here are
// stopped by teardown once ctx is cancelled.
func (r *Runtime) assemble(ctx context.Context) error {
	if err := r.startBus(ctx); err != nil {
		return err
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store
	r.onClose(func(context.Context) { _ = store.Close() })
	if err := store.BeginRun(ctx, r.runID, r.cfg.Node.ID); err != nil {
		r.logger.Warn("failed to record run", slog.String("error", err.Error()))
	}
	recorder := eventstore.NewRecorder(ctx, store, r.runID, r.logger)
	r.onClose(func(context.Context) { recorder.Wait() })

	words, err := wordset.LoadFile(r.cfg.Words.Path)
	if err != nil {
		r.logger.Warn("word list unavailable, nothing will be spoken", slog.String("error", err.Error()))
	} else {
		r.logger.Info("word list loaded", slog.Int("words", words.Len()))
	}
	r.words = words

	r.preprocessor = frame.NewPreprocessor(r.cfg.Capture.TargetWidth, r.cfg.Capture.TargetHeight, r.cfg.Capture.RotationDegrees)

	device, err := newDevice(r.cfg.Capture, r.cfg.OCR.MockText)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	r.device = device
	r.onClose(func(ctx context.Context) { releaseDevice(ctx, device, r.logger) })

	recognizer, err := newRecognizer(r.cfg.OCR)
	if err != nil {
		return fmt.Errorf("init recognizer: %w", err)
	}

	voice, closeVoice, err := newVoice(r.cfg.Speech, r.bus, r.logger)
	if err != nil {
		return fmt.Errorf("init speech: %w", err)
	}
	r.onClose(func(context.Context) { closeVoice() })
	r.speech = speech.NewQueue(ctx, voice, r.logger)
	r.onClose(func(context.Context) { r.speech.Close() })
	if r.cfg.Speech.Serve && r.bus != nil {
		svc := speech.NewService(ctx, r.bus, voice, r.cfg.Speech.Target,
			time.Duration(r.cfg.Speech.TimeoutMS)*time.Millisecond, r.logger)
		if err := svc.Start(); err != nil {
			return fmt.Errorf("start speech service: %w", err)
		}
		r.onClose(func(context.Context) { svc.Close() })
	}

	r.overlay = overlay.NewState()
	notifiers := cycle.Notifiers{userNotifier(r.logger), recorder}
	if r.bus != nil {
		r.overlay.Subscribe(overlay.BusPublisher(r.bus, r.cfg.Node.ID, r.preprocessor.Target, r.logger))
		notifiers = append(notifiers, busNotifier(r.bus, r.cfg.Node.ID, r.logger))
	}

	r.ctrl = cycle.New(cycle.Deps{
		Device:     device,
		Normalizer: r.preprocessor,
		Recognizer: recognizer,
		Words:      words,
		Overlay:    r.overlay,
		Speech:     r.speech,
		Notifier:   notifiers,
	}, cycle.Options{
		Interval:         time.Duration(r.cfg.Capture.IntervalMS) * time.Millisecond,
		AutoCapture:      r.cfg.Capture.AutoStart,
		CaptureTimeout:   time.Duration(r.cfg.Capture.TimeoutMS) * time.Millisecond,
		RecognizeTimeout: time.Duration(r.cfg.OCR.TimeoutMS) * time.Millisecond,
	}, r.logger)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := r.ctrl.Run(ctx); err != nil {
			r.logger.Error("capture loop exited", slog.String("error", err.Error()))
		}
	}()
	r.onClose(func(context.Context) { <-loopDone })

	if err := device.StartPreview(ctx); err != nil {
		r.logger.Warn("failed to start preview", slog.String("error", err.Error()))
	}

	if r.bus != nil {
		registry, err := presence.NewRegistry(ctx, r.cfg.Node, map[string]string{
			"capture": r.cfg.Capture.Mode,
			"ocr":     r.cfg.OCR.Mode,
			"speech":  r.cfg.Speech.Mode,
		}, r.ctrl, r.bus, r.logger)
		if err != nil {
			return fmt.Errorf("start presence: %w", err)
		}
		r.presence = registry
		r.onClose(func(context.Context) { registry.Close() })

		sub, err := subscribeControl(ctx, r.bus, r.cfg.Node.ID, r.ctrl, r.logger)
		if err != nil {
			return fmt.Errorf("subscribe control: %w", err)
		}
		r.onClose(func(context.Context) { _ = sub.Unsubscribe() })
	}
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	srv, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	busCfg := r.cfg.Bus
	if srv != nil {
		r.nats = srv
		r.onClose(func(context.Context) { srv.Shutdown() })
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	r.onClose(func(context.Context) { client.Close() })
	return nil
}

func (r *Runtime) onClose(fn func(context.Context)) {
	r.closers = append(r.closers, fn)
}

func (r *Runtime) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i](ctx)
	}
	r.closers = nil
}
