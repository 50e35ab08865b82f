package speech

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/natsserver"
	"github.com/loqalabs/readaloud/internal/protocol"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func startBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), "speech-test", config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestBusVoiceWaitsForDone(t *testing.T) {
	client := startBus(t)

	requests := make(chan protocol.TTSRequest, 1)
	_, err := client.Conn().Subscribe(protocol.SubjectTTSRequest, func(msg *nats.Msg) {
		var req protocol.TTSRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		requests <- req
		_ = client.PublishJSON(protocol.SubjectTTSDone, protocol.TTSStatus{SessionID: req.SessionID, Completed: true})
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	voice, err := NewBusVoice(client, BusOptions{Voice: "en-GB", Rate: 1.5, Target: "kitchen", Timeout: 2 * time.Second}, newLogger())
	if err != nil {
		t.Fatalf("bus voice: %v", err)
	}
	t.Cleanup(voice.Close)
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	if err := voice.Say(context.Background(), "hello"); err != nil {
		t.Fatalf("say: %v", err)
	}
	req := <-requests
	if req.Text != "hello" || req.Voice != "en-GB" || req.Target != "kitchen" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestBusVoiceTimesOutWithoutSynth(t *testing.T) {
	client := startBus(t)
	voice, err := NewBusVoice(client, BusOptions{Timeout: 50 * time.Millisecond, CancelGrace: 20 * time.Millisecond}, newLogger())
	if err != nil {
		t.Fatalf("bus voice: %v", err)
	}
	t.Cleanup(voice.Close)
	if err := voice.Say(context.Background(), "nobody listens"); err == nil {
		t.Fatal("expected timeout")
	}
}

func TestServiceAnswersBusVoice(t *testing.T) {
	client := startBus(t)

	svc := NewService(context.Background(), client, NewMockVoice(time.Millisecond, 1), "kitchen", time.Second, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	if !svc.Healthy() {
		t.Fatal("expected healthy service")
	}

	voice, err := NewBusVoice(client, BusOptions{Target: "kitchen", Timeout: 2 * time.Second}, newLogger())
	if err != nil {
		t.Fatalf("bus voice: %v", err)
	}
	t.Cleanup(voice.Close)
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	if err := voice.Say(context.Background(), "hello"); err != nil {
		t.Fatalf("say through service: %v", err)
	}
}

func TestServiceIgnoresOtherTargets(t *testing.T) {
	client := startBus(t)

	svc := NewService(context.Background(), client, NewMockVoice(time.Millisecond, 1), "kitchen", time.Second, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	voice, err := NewBusVoice(client, BusOptions{Target: "garage", Timeout: 100 * time.Millisecond, CancelGrace: 20 * time.Millisecond}, newLogger())
	if err != nil {
		t.Fatalf("bus voice: %v", err)
	}
	t.Cleanup(voice.Close)
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}
	if err := voice.Say(context.Background(), "hello"); err == nil {
		t.Fatal("expected timeout for unanswered target")
	}
}

// slowVoice takes perWord per utterance and records what it was doing.
type slowVoice struct {
	perWord     time.Duration
	playing     atomic.Int32
	interrupted atomic.Int32

	mu    sync.Mutex
	order []string
}

func (v *slowVoice) Say(ctx context.Context, text string) error {
	v.playing.Add(1)
	defer v.playing.Add(-1)
	v.mu.Lock()
	v.order = append(v.order, text)
	v.mu.Unlock()
	select {
	case <-ctx.Done():
		v.interrupted.Add(1)
		return ctx.Err()
	case <-time.After(v.perWord):
		return nil
	}
}

func (v *slowVoice) spoken() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.order...)
}

func startService(t *testing.T, client *bus.Client, voice Voice) *Service {
	t.Helper()
	svc := NewService(context.Background(), client, voice, "kitchen", 5*time.Second, newLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func (s *Service) hasSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}

func TestStopSilencesRemoteSynth(t *testing.T) {
	client := startBus(t)
	remote := &slowVoice{perWord: 500 * time.Millisecond}
	startService(t, client, remote)

	voice, err := NewBusVoice(client, BusOptions{Target: "kitchen", Timeout: 5 * time.Second}, newLogger())
	if err != nil {
		t.Fatalf("bus voice: %v", err)
	}
	t.Cleanup(voice.Close)
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	q := NewQueue(context.Background(), voice, newLogger())
	t.Cleanup(q.Close)
	if err := q.Enqueue([]string{"stale"}, Flush); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	require.Eventually(t, func() bool { return remote.playing.Load() == 1 }, time.Second, 5*time.Millisecond)

	stopped := time.Now()
	q.Stop()
	deadline := time.Now().Add(time.Second)
	for {
		// The queue only goes quiet after the remote side stopped.
		if !q.IsSpeaking() {
			if n := remote.playing.Load(); n != 0 {
				t.Fatalf("queue silent while %d remote utterance(s) still playing", n)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue still speaking after stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if elapsed := time.Since(stopped); elapsed > 400*time.Millisecond {
		t.Fatalf("stop took %v, utterance was not interrupted", elapsed)
	}
	if remote.interrupted.Load() != 1 {
		t.Fatalf("expected remote utterance interrupted, got %d", remote.interrupted.Load())
	}
}

func TestServiceSpeaksInArrivalOrder(t *testing.T) {
	client := startBus(t)
	remote := &slowVoice{perWord: 5 * time.Millisecond}
	startService(t, client, remote)

	voice, err := NewBusVoice(client, BusOptions{Target: "kitchen", Timeout: 2 * time.Second}, newLogger())
	if err != nil {
		t.Fatalf("bus voice: %v", err)
	}
	t.Cleanup(voice.Close)
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	words := []string{"one", "two", "three", "four", "five"}
	for _, w := range words {
		if err := client.PublishJSON(protocol.SubjectTTSRequest, protocol.TTSRequest{SessionID: w, Text: w, Target: "kitchen"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	require.Eventually(t, func() bool { return len(remote.spoken()) == len(words) }, 2*time.Second, 5*time.Millisecond)
	for i, w := range remote.spoken() {
		if w != words[i] {
			t.Fatalf("spoken out of order: %v", remote.spoken())
		}
	}
}

func TestServiceDropsCancelledBeforePlayback(t *testing.T) {
	client := startBus(t)
	remote := &slowVoice{perWord: 200 * time.Millisecond}
	svc := startService(t, client, remote)

	statuses := make(chan protocol.TTSStatus, 4)
	_, err := client.Conn().Subscribe(protocol.SubjectTTSDone, func(msg *nats.Msg) {
		var st protocol.TTSStatus
		if json.Unmarshal(msg.Data, &st) == nil {
			statuses <- st
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatal(err)
	}

	_ = client.PublishJSON(protocol.SubjectTTSRequest, protocol.TTSRequest{SessionID: "a", Text: "first", Target: "kitchen"})
	_ = client.PublishJSON(protocol.SubjectTTSRequest, protocol.TTSRequest{SessionID: "b", Text: "second", Target: "kitchen"})
	require.Eventually(t, func() bool { return svc.hasSession("b") && remote.playing.Load() == 1 }, time.Second, 5*time.Millisecond)
	_ = client.PublishJSON(protocol.SubjectTTSCancel, protocol.TTSCancel{SessionID: "b", Target: "kitchen"})

	got := map[string]protocol.TTSStatus{}
	for len(got) < 2 {
		select {
		case st := <-statuses:
			got[st.SessionID] = st
		case <-time.After(2 * time.Second):
			t.Fatalf("missing statuses, have %v", got)
		}
	}
	if !got["a"].Completed {
		t.Fatalf("expected first utterance completed: %+v", got["a"])
	}
	if got["b"].Completed || got["b"].Error == "" {
		t.Fatalf("expected second utterance cancelled: %+v", got["b"])
	}
	if spoken := remote.spoken(); len(spoken) != 1 || spoken[0] != "first" {
		t.Fatalf("cancelled utterance reached the voice: %v", spoken)
	}
}
