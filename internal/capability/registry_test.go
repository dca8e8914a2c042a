package capability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-compose/internal/bus"
	"github.com/loqalabs/loqa-compose/internal/config"
	"github.com/loqalabs/loqa-compose/internal/natsserver"
	"github.com/loqalabs/loqa-compose/internal/protocol"
)

func startBus(t *testing.T) (*natsserver.EmbeddedServer, *slog.Logger) {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv, log
}

func newRegistry(t *testing.T, srv *natsserver.EmbeddedServer, log *slog.Logger, id, backend string, load Load) *Registry {
	t.Helper()
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	cfg := config.NodeConfig{ID: id, Role: "composer", HeartbeatInterval: 50, HeartbeatTimeout: 200}
	caps := []protocol.Capability{{Name: CapabilityRender, Attributes: map[string]string{"backend": backend}}}
	r, err := NewRegistry(context.Background(), cfg, client, caps, load, log)
	if err != nil {
		t.Fatalf("registry %s: %v", id, err)
	}
	t.Cleanup(r.Close)
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegistryDiscoversPeers(t *testing.T) {
	srv, log := startBus(t)
	a := newRegistry(t, srv, log, "node-a", "oscillator", nil)
	newRegistry(t, srv, log, "node-b", "soundfont", func() (int, int) { return 1, 4 })

	if !a.Healthy() {
		t.Fatal("registry should see itself after announcing")
	}

	waitFor(t, "node-b heartbeat", func() bool {
		for _, n := range a.Nodes(nil) {
			if n.ID == "node-b" && n.Capacity == 4 {
				return true
			}
		}
		return false
	})

	sampled := a.Nodes(WithAttribute("backend", "soundfont"))
	if len(sampled) != 1 || sampled[0].ID != "node-b" || sampled[0].Role != "composer" || sampled[0].Active != 1 {
		t.Fatalf("unexpected soundfont nodes %+v", sampled)
	}
	if got := a.Nodes(WithCapability(CapabilityRender)); len(got) != 2 || got[0].ID != "node-a" {
		t.Fatalf("expected both renderers sorted by id, got %+v", got)
	}
}

func TestRegistryMarksSilentNodesUnhealthy(t *testing.T) {
	srv, log := startBus(t)
	a := newRegistry(t, srv, log, "node-a", "oscillator", nil)
	b := newRegistry(t, srv, log, "node-b", "oscillator", nil)

	waitFor(t, "node-b to appear", func() bool { return len(a.Nodes(IsHealthy)) == 2 })
	b.Close()
	waitFor(t, "node-b to go stale", func() bool {
		healthy := a.Nodes(IsHealthy)
		return len(healthy) == 1 && healthy[0].ID == "node-a"
	})
	if !a.Healthy() {
		t.Fatal("node-a keeps heartbeating and should stay healthy")
	}
}
