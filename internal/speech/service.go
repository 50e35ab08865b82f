package speech

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/protocol"
	"github.com/nats-io/nats.go"
)

const serviceBacklog = 32

var errCancelled = errors.New("tts cancelled")

type utterance struct {
	req    protocol.TTSRequest
	ctx    context.Context
	cancel context.CancelFunc
}

// Service speaks TTSRequests arriving on the bus through a local Voice and
// reports each one on tts.done. It is the far end of BusVoice.
type Service struct {
	bus     *bus.Client
	voice   Voice
	target  string
	timeout time.Duration
	subs    []*nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger

	// work is spoken by a single worker in arrival order.
	work chan *utterance

	mu       sync.Mutex
	sessions map[string]*utterance
}

// NewService builds a service answering requests addressed to target, or to
// any target when target is empty.
func NewService(parent context.Context, busClient *bus.Client, voice Voice, target string, timeout time.Duration, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Service{
		bus:      busClient,
		voice:    voice,
		target:   target,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "speech-service")),
		work:     make(chan *utterance, serviceBacklog),
		sessions: make(map[string]*utterance),
	}
}

func (s *Service) Start() error {
	for subject, handler := range map[string]nats.MsgHandler{
		protocol.SubjectTTSRequest: s.handleRequest,
		protocol.SubjectTTSCancel:  s.handleCancel,
	} {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			s.unsubscribe()
			return err
		}
		s.subs = append(s.subs, sub)
	}
	s.wg.Add(1)
	go s.run()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	if len(s.subs) == 0 {
		return false
	}
	for _, sub := range s.subs {
		if !sub.IsValid() {
			return false
		}
	}
	return true
}

func (s *Service) accepts(target string) bool {
	return s.target == "" || target == "" || target == s.target
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}
	if !s.accepts(req.Target) {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	u := &utterance{req: req, ctx: ctx, cancel: cancel}
	s.mu.Lock()
	s.sessions[req.SessionID] = u
	s.mu.Unlock()

	select {
	case s.work <- u:
	default:
		s.logger.Warn("tts backlog full", slog.String("session_id", req.SessionID))
		s.finish(u, errors.New("tts backlog full"))
	}
}

func (s *Service) handleCancel(msg *nats.Msg) {
	var req protocol.TTSCancel
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts cancel", slogError(err))
		return
	}
	if !s.accepts(req.Target) {
		return
	}
	s.mu.Lock()
	u := s.sessions[req.SessionID]
	s.mu.Unlock()
	if u != nil {
		u.cancel()
	}
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case u := <-s.work:
			s.speak(u)
		}
	}
}

func (s *Service) speak(u *utterance) {
	if u.ctx.Err() != nil {
		s.finish(u, errCancelled)
		return
	}
	ctx, cancel := context.WithTimeout(u.ctx, s.timeout)
	defer cancel()
	err := s.voice.Say(ctx, u.req.Text)
	if err != nil && u.ctx.Err() != nil {
		err = errCancelled
	}
	if err != nil && !errors.Is(err, errCancelled) {
		s.logger.Warn("tts synthesis error", slog.String("session_id", u.req.SessionID), slogError(err))
	}
	s.finish(u, err)
}

// finish forgets the session and publishes its status.
func (s *Service) finish(u *utterance, err error) {
	u.cancel()
	s.mu.Lock()
	delete(s.sessions, u.req.SessionID)
	s.mu.Unlock()

	status := protocol.TTSStatus{
		SessionID: u.req.SessionID,
		Target:    u.req.Target,
		Completed: err == nil,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	if pubErr := s.bus.PublishJSON(protocol.SubjectTTSDone, status); pubErr != nil {
		s.logger.Warn("failed to publish tts status", slogError(pubErr))
	}
}
