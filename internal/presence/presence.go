package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/readaloud/internal/bus"
	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/cycle"
	"github.com/loqalabs/readaloud/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// StatusSource reports the local capture loop status.
type StatusSource interface {
	Status(ctx context.Context) (cycle.Status, error)
}

// Node is what is known about one reader on the bus.
type Node struct {
	ID           string            `json:"id"`
	Capabilities map[string]string `json:"capabilities,omitempty"`
	State        string            `json:"state,omitempty"`
	AutoCapture  bool              `json:"auto_capture"`
	Speaking     bool              `json:"speaking"`
	Cycles       uint64            `json:"cycles"`
	LastSeen     time.Time         `json:"last_seen"`
	Healthy      bool              `json:"healthy"`
}

// Registry announces this node, publishes heartbeats carrying the loop
// status and tracks the other readers sharing the bus.
type Registry struct {
	cfg          config.NodeConfig
	capabilities map[string]string
	source       StatusSource
	log          *slog.Logger
	bus          *bus.Client
	clock        func() time.Time

	mu     sync.RWMutex
	nodes  map[string]*Node
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, capabilities map[string]string, source StatusSource, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:          cfg,
		capabilities: capabilities,
		source:       source,
		log:          log.With(slog.String("component", "presence")),
		bus:          busClient,
		clock:        time.Now,
		nodes:        make(map[string]*Node),
		cancel:       cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		cancel()
		return nil, err
	}

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	interval := time.Duration(cfg.HeartbeatInterval) * time.Millisecond
	r.wg.Add(1)
	go r.run(ctx, interval)

	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeat, r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) run(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publishHeartbeat(ctx); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
			r.evaluateHealth(3 * interval)
		}
	}
}

func (r *Registry) announce() error {
	msg := protocol.NodeAnnouncement{
		NodeID:       r.cfg.ID,
		Capabilities: r.capabilities,
		Timestamp:    r.clock().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, func(n *Node) { n.Capabilities = msg.Capabilities }, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat(ctx context.Context) error {
	msg := protocol.NodeHeartbeat{
		NodeID:    r.cfg.ID,
		Timestamp: r.clock().UTC(),
	}
	if r.source != nil {
		status, err := r.source.Status(ctx)
		if err != nil {
			return fmt.Errorf("read loop status: %w", err)
		}
		msg.State = status.State.String()
		msg.AutoCapture = status.AutoCapture
		msg.Speaking = status.Speaking
		msg.Cycles = status.Cycles
	}
	return r.bus.PublishJSON(protocol.SubjectNodeHeartbeat, msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement protocol.NodeAnnouncement
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.NodeID == "" {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.clock().UTC()
	}
	r.updateNode(announcement.NodeID, func(n *Node) {
		if len(announcement.Capabilities) > 0 {
			n.Capabilities = announcement.Capabilities
		}
	}, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.NodeHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.NodeID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock().UTC()
	}
	r.updateNode(hb.NodeID, func(n *Node) {
		n.State = hb.State
		n.AutoCapture = hb.AutoCapture
		n.Speaking = hb.Speaking
		n.Cycles = hb.Cycles
	}, hb.Timestamp)
}

func (r *Registry) updateNode(nodeID string, apply func(*Node), seen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &Node{ID: nodeID}
		r.nodes[nodeID] = node
	}
	apply(node)
	node.LastSeen = seen
	node.Healthy = true
}

func (r *Registry) evaluateHealth(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether this node's own presence is current.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Nodes lists known readers ordered by ID.
func (r *Registry) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, *node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/readaloud/presence")
	gauge, err := meter.Int64ObservableGauge("readaloud.nodes", metric.WithDescription("Number of known reader nodes"))
	if err != nil {
		return err
	}
	healthyGauge, err := meter.Int64ObservableGauge("readaloud.nodes.healthy", metric.WithDescription("Reader nodes with a current heartbeat"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		total, healthy := r.snapshotCounts()
		obs.ObserveInt64(gauge, total)
		obs.ObserveInt64(healthyGauge, healthy)
		return nil
	}, gauge, healthyGauge)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total, healthy int64
	for _, node := range r.nodes {
		total++
		if node.Healthy {
			healthy++
		}
	}
	return total, healthy
}
