package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-compose/internal/bus"
	"github.com/loqalabs/loqa-compose/internal/capability"
	"github.com/loqalabs/loqa-compose/internal/composer"
	"github.com/loqalabs/loqa-compose/internal/config"
	"github.com/loqalabs/loqa-compose/internal/history"
	"github.com/loqalabs/loqa-compose/internal/natsserver"
	"github.com/loqalabs/loqa-compose/internal/protocol"
	"github.com/loqalabs/loqa-compose/internal/synth"
	"github.com/loqalabs/loqa-compose/internal/worker"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	bus         *bus.Client
	history     *history.Store
	pool        *worker.Pool
	composer    *composer.Service
	registry    *capability.Registry
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component, serves HTTP until ctx is cancelled, then tears down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.closeAll()

	if err := r.startBus(ctx); err != nil {
		return err
	}

	store, err := history.Open(ctx, r.cfg.History, r.logger.With(slog.String("component", "history")))
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	r.history = store

	sampler, reason := synth.DetectSampler(r.cfg.Sampler)
	synthesizer := synth.New(r.cfg.Synth, sampler, r.logger)
	backend := synthesizer.Sampler()
	if backend != "" {
		r.logger.Info("sampler available", slog.String("backend", backend), slog.String("soundfont", r.cfg.Sampler.SoundFontPath))
	} else {
		backend = synth.OscillatorBackend{}.Name()
		r.logger.Info("sampler unavailable, using oscillators", slog.String("reason", reason))
	}

	r.pool = worker.NewPool(r.cfg.Composer.Workers)
	r.composer = composer.NewService(ctx, r.cfg.Composer, synthesizer, r.pool, r.history, r.bus, r.logger)
	if err := r.composer.Start(); err != nil {
		return fmt.Errorf("start composer: %w", err)
	}

	if r.bus != nil && r.cfg.Composer.Enabled {
		caps := []protocol.Capability{{
			Name: capability.CapabilityRender,
			Attributes: map[string]string{
				"backend":     backend,
				"sample_rate": strconv.Itoa(r.cfg.Synth.SampleRate),
				"channels":    strconv.Itoa(r.cfg.Synth.Channels),
			},
		}}
		load := func() (int, int) { return r.pool.Active(), r.pool.Size() }
		registry, err := capability.NewRegistry(ctx, r.cfg.Node, r.bus, caps, load, r.logger)
		if err != nil {
			return fmt.Errorf("start node registry: %w", err)
		}
		r.registry = registry
	}

	h := &handlers{
		composer: r.composer,
		history:  r.history,
		metrics:  metricsHandler,
		ready:    r.Ready,
		logger:   r.logger.With(slog.String("component", "http")),
	}
	if r.registry != nil {
		h.nodes = r.registry
	}
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           h.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.bus = client

	if stream := r.cfg.Bus.StatusStream; stream != "" {
		maxAge := time.Duration(r.cfg.History.RetentionDays) * 24 * time.Hour
		if err := client.EnsureStream(stream, maxAge, protocol.SubjectComposeDone); err != nil {
			r.logger.Warn("compose status stream unavailable", slog.String("stream", stream), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	if !r.history.Persistent() {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.history.Prune(ctx); err != nil {
				r.logger.Warn("history prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// closeAll releases whatever Start managed to bring up, newest first.
func (r *Runtime) closeAll() {
	if r.registry != nil {
		r.registry.Close()
	}
	if r.composer != nil {
		r.composer.Close()
	}
	if r.pool != nil {
		r.pool.Close()
	}
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			r.logger.Error("history close error", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.embedded.Shutdown()

	if r.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

// Ready reports whether the runtime is serving and its bus subscriptions are live.
func (r *Runtime) Ready() bool {
	if !r.ready.Load() {
		return false
	}
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		return false
	}
	if r.registry != nil && !r.registry.Healthy() {
		return false
	}
	return r.composer == nil || r.composer.Healthy()
}
