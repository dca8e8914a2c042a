package capability

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/loqalabs/loqa-compose/internal/bus"
	"github.com/loqalabs/loqa-compose/internal/config"
	"github.com/loqalabs/loqa-compose/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// CapabilityRender is advertised by every node that answers compose requests.
const CapabilityRender = "compose.render"

// NodeInfo is the registry's view of one composer node.
type NodeInfo struct {
	ID           string                `json:"id"`
	Role         string                `json:"role"`
	Capabilities []protocol.Capability `json:"capabilities"`
	Active       int                   `json:"active"`
	Capacity     int                   `json:"capacity"`
	LastSeen     time.Time             `json:"last_seen"`
	Healthy      bool                  `json:"healthy"`
}

// Load reports this node's current render load.
type Load func() (active, capacity int)

type Registry struct {
	cfg   config.NodeConfig
	log   *slog.Logger
	bus   *bus.Client
	local []protocol.Capability
	load  Load
	clock func() time.Time

	mu      sync.RWMutex
	nodes   map[string]*NodeInfo
	subs    []*nats.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics metric.Registration
}

// NewRegistry subscribes to node traffic, announces this node with caps, and starts heartbeating.
func NewRegistry(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, caps []protocol.Capability, load Load, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		log:    log.With(slog.String("component", "node-registry")),
		bus:    busClient,
		local:  caps,
		load:   load,
		clock:  func() time.Time { return time.Now().UTC() },
		nodes:  make(map[string]*NodeInfo),
		cancel: cancel,
	}
	if r.load == nil {
		r.load = func() (int, int) { return 0, 0 }
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

	r.wg.Add(2)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	if r.metrics != nil {
		_ = r.metrics.Unregister()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return err
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectNodeHeartbeat+".*", r.handleHeartbeat)
	if err != nil {
		return err
	}
	r.subs = append(r.subs, heartbeatSub)
	return conn.Flush()
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := protocol.NodeAnnounce{
		NodeID:       r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: r.local,
		Timestamp:    r.clock(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, func(n *NodeInfo) {
		n.Role = msg.Role
		n.Capabilities = msg.Capabilities
		n.LastSeen = msg.Timestamp
	})
	return nil
}

func (r *Registry) publishHeartbeat() error {
	active, capacity := r.load()
	msg := protocol.NodeHeartbeat{
		NodeID:    r.cfg.ID,
		Active:    active,
		Capacity:  capacity,
		Timestamp: r.clock(),
	}
	return r.bus.PublishJSON(protocol.SubjectNodeHeartbeat+"."+r.cfg.ID, msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement protocol.NodeAnnounce
	if err := json.Unmarshal(msg.Data, &announcement); err != nil || announcement.NodeID == "" {
		r.log.Warn("invalid announce message")
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.clock()
	}
	r.updateNode(announcement.NodeID, func(n *NodeInfo) {
		if announcement.Role != "" {
			n.Role = announcement.Role
		}
		if len(announcement.Capabilities) > 0 {
			n.Capabilities = announcement.Capabilities
		}
		n.LastSeen = announcement.Timestamp
	})
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.NodeHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil || hb.NodeID == "" {
		r.log.Warn("invalid heartbeat message")
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.clock()
	}
	r.updateNode(hb.NodeID, func(n *NodeInfo) {
		n.Active = hb.Active
		n.Capacity = hb.Capacity
		n.LastSeen = hb.Timestamp
	})
}

func (r *Registry) updateNode(nodeID string, apply func(*NodeInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	apply(node)
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.clock()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether this node has seen its own traffic within the heartbeat timeout.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Nodes lists known nodes matching filter, sorted by id. A nil filter matches all.
func (r *Registry) Nodes(filter func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]NodeInfo, 0, len(r.nodes))
	for _, node := range r.nodes {
		n := *node
		n.Capabilities = slices.Clone(node.Capabilities)
		if filter == nil || filter(n) {
			results = append(results, n)
		}
	}
	slices.SortFunc(results, func(a, b NodeInfo) int { return cmp.Compare(a.ID, b.ID) })
	return results
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-compose/capability")
	nodes, err := meter.Int64ObservableGauge("loqa.compose.nodes", metric.WithDescription("Healthy composer nodes"))
	if err != nil {
		return err
	}
	busy, err := meter.Int64ObservableGauge("loqa.compose.nodes.active_renders", metric.WithDescription("Renders in flight across healthy nodes"))
	if err != nil {
		return err
	}
	r.metrics, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		var healthy, active int64
		for _, n := range r.Nodes(IsHealthy) {
			healthy++
			active += int64(n.Active)
		}
		obs.ObserveInt64(nodes, healthy)
		obs.ObserveInt64(busy, active)
		return nil
	}, nodes, busy)
	return err
}

// IsHealthy matches nodes heard from within the heartbeat timeout.
func IsHealthy(node NodeInfo) bool { return node.Healthy }

// WithCapability matches nodes advertising name.
func WithCapability(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Name == name {
				return true
			}
		}
		return false
	}
}

// WithAttribute matches nodes with a capability attribute key=value, e.g. backend=soundfont.
func WithAttribute(key, value string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		for _, c := range node.Capabilities {
			if c.Attributes[key] == value {
				return true
			}
		}
		return false
	}
}
