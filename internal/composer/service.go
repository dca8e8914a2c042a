package composer

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-compose/internal/bus"
	"github.com/loqalabs/loqa-compose/internal/config"
	"github.com/loqalabs/loqa-compose/internal/history"
	"github.com/loqalabs/loqa-compose/internal/music"
	"github.com/loqalabs/loqa-compose/internal/protocol"
	"github.com/loqalabs/loqa-compose/internal/synth"
	"github.com/loqalabs/loqa-compose/internal/worker"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrTooLarge reports a track that cannot travel back over the bus.
var ErrTooLarge = errors.New("track exceeds bus max payload")

// reply fields other than the audio stay well under this
const replyOverhead = 4096

// EmptyText is the friendly reply when there is nothing to turn into music.
const EmptyText = "Nothing melodic to build yet, try chatting a bit more!"

const instrumentationName = "github.com/loqalabs/loqa-compose/composer"

type Service struct {
	cfg      config.ComposerConfig
	composer music.Composer
	synth    *synth.Synthesizer
	pool     *worker.Pool
	history  *history.Store
	bus      *bus.Client
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
	newID    func() string

	tracer        trace.Tracer
	requests      metric.Int64Counter
	renderSeconds metric.Float64Histogram
	fallbacks     metric.Int64Counter
}

// NewService wires the pipeline. busClient and store may be nil.
func NewService(parent context.Context, cfg config.ComposerConfig, synthesizer *synth.Synthesizer, pool *worker.Pool, store *history.Store, busClient *bus.Client, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg: cfg,
		composer: music.Composer{
			Scale:       music.DefaultScale,
			Beat:        cfg.Beat,
			MinDuration: cfg.MinDuration,
			MaxDuration: cfg.MaxDuration,
		},
		synth:   synthesizer,
		pool:    pool,
		history: store,
		bus:     busClient,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "composer-service")),
		newID:   uuid.NewString,
		tracer:  otel.Tracer(instrumentationName),
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

func (s *Service) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	var err error
	if s.requests, err = meter.Int64Counter("loqa.compose.requests", metric.WithDescription("Compose requests by status")); err != nil {
		return err
	}
	if s.renderSeconds, err = meter.Float64Histogram("loqa.compose.render.seconds", metric.WithDescription("Wall time spent rendering audio"), metric.WithUnit("s")); err != nil {
		return err
	}
	if s.fallbacks, err = meter.Int64Counter("loqa.compose.sampler.fallbacks", metric.WithDescription("Renders that fell back from the sampler to oscillators")); err != nil {
		return err
	}
	return nil
}

// Start subscribes to compose requests when a bus is configured.
func (s *Service) Start() error {
	if !s.cfg.Enabled || s.bus == nil {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectComposeRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectComposeRequest, err)
	}
	s.sub = sub
	s.logger.Info("listening for compose requests", slog.String("subject", protocol.SubjectComposeRequest))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.bus == nil || s.sub != nil
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.ComposeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode compose request", slogError(err))
		s.respond(msg, protocol.ComposeReply{Status: protocol.StatusFailed, Error: "invalid compose request: " + err.Error()})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reply, err := s.compose(s.ctx, req, int(s.bus.Conn().MaxPayload()))
		if err != nil && !errors.Is(err, music.ErrEmpty) {
			s.logger.Warn("compose request failed", slog.String("request_id", reply.RequestID), slogError(err))
		}
		s.respond(msg, reply)
	}()
}

// respond replies when the request carries a reply subject. A reply the bus
// refuses is replaced by a failure so the caller never waits on silence.
func (s *Service) respond(msg *nats.Msg, reply protocol.ComposeReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err == nil {
		if err = msg.Respond(data); err == nil {
			return
		}
	}
	s.logger.Warn("failed to respond to compose request", slog.String("request_id", reply.RequestID), slogError(err))
	if reply.Status == protocol.StatusFailed && len(reply.Audio) == 0 {
		return
	}
	fallback, _ := json.Marshal(protocol.ComposeReply{
		RequestID: reply.RequestID,
		Status:    protocol.StatusFailed,
		Error:     "reply undeliverable: " + err.Error(),
	})
	if err := msg.Respond(fallback); err != nil {
		s.logger.Warn("failed to respond with failure", slog.String("request_id", reply.RequestID), slogError(err))
	}
}

// Compose turns the request's chat history into a track. The returned error is
// music.ErrEmpty, a synth.ErrRender chain, ErrTooLarge, or a context error; the reply is filled in either way.
func (s *Service) Compose(ctx context.Context, req protocol.ComposeRequest) (protocol.ComposeReply, error) {
	return s.compose(ctx, req, 0)
}

// compose fails tracks whose reply would exceed maxReply bytes; 0 means no limit.
func (s *Service) compose(ctx context.Context, req protocol.ComposeRequest, maxReply int) (protocol.ComposeReply, error) {
	if req.RequestID == "" {
		req.RequestID = s.newID()
	}
	ctx, span := s.tracer.Start(ctx, "compose", trace.WithAttributes(
		attribute.String("compose.request_id", req.RequestID),
		attribute.String("compose.channel_id", req.ChannelID),
		attribute.Int("compose.events", len(req.Events)),
	))
	defer span.End()

	reply := protocol.ComposeReply{RequestID: req.RequestID}
	status := protocol.ComposeStatus{RequestID: req.RequestID, ChannelID: req.ChannelID}

	events := Recent(req.Events, s.cfg.MaxEvents)
	score, err := s.composer.Compose(events)
	if err != nil {
		reply.Status = protocol.StatusEmpty
		reply.Caption = EmptyText
		status.Status = reply.Status
		s.finish(ctx, req, reply, status, history.Composition{EventCount: len(events)})
		return reply, err
	}
	span.SetAttributes(attribute.Int("compose.notes", len(score.Notes)), attribute.Float64("compose.duration", score.Duration))

	start := time.Now()
	future := worker.Submit(s.pool, func() (synth.Result, error) {
		return s.synth.Render(score.Notes, score.Duration)
	})
	renderCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.RenderTimeoutMS)*time.Millisecond)
	defer cancel()
	res, err := future.Wait(renderCtx)
	if s.renderSeconds != nil {
		s.renderSeconds.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		s.fail(ctx, span, req, &reply, &status, err, history.Composition{EventCount: score.Events, NoteCount: len(score.Notes), Duration: score.Duration})
		return reply, err
	}
	if size := replySize(res.Audio); maxReply > 0 && size > maxReply {
		err := fmt.Errorf("%w: %d bytes, bus max payload is %d", ErrTooLarge, size, maxReply)
		s.fail(ctx, span, req, &reply, &status, err, history.Composition{
			EventCount: score.Events,
			NoteCount:  len(score.Notes),
			Duration:   res.Duration,
			Backend:    res.Backend,
		})
		return reply, err
	}
	if res.Fallback != "" && s.fallbacks != nil {
		s.fallbacks.Add(ctx, 1)
	}

	sum := sha256.Sum256(res.Audio)
	reply.Status = protocol.StatusOK
	reply.Audio = res.Audio
	reply.Duration = res.Duration
	reply.Notes = len(score.Notes)
	reply.Backend = res.Backend
	reply.Caption = Caption(score.Events, len(score.Notes), res.Duration)
	status.Status = reply.Status
	status.Notes = reply.Notes
	status.Duration = reply.Duration
	status.Backend = res.Backend
	status.Fallback = res.Fallback
	s.finish(ctx, req, reply, status, history.Composition{
		EventCount:  score.Events,
		NoteCount:   len(score.Notes),
		Duration:    res.Duration,
		Backend:     res.Backend,
		AudioSHA256: hex.EncodeToString(sum[:]),
		AudioBytes:  len(res.Audio),
	})
	return reply, nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, req protocol.ComposeRequest, reply *protocol.ComposeReply, status *protocol.ComposeStatus, err error, record history.Composition) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	reply.Status = protocol.StatusFailed
	reply.Error = err.Error()
	reply.Caption = fmt.Sprintf("Couldn't render that tune (%v).", err)
	status.Status = reply.Status
	status.Error = reply.Error
	s.finish(ctx, req, *reply, *status, record)
}

// replySize is the encoded size of a compose reply carrying audio.
func replySize(audio []byte) int {
	return base64.StdEncoding.EncodedLen(len(audio)) + replyOverhead
}

// Caption summarizes a finished track for chat.
func Caption(messages, notes int, duration float64) string {
	return fmt.Sprintf("%d messages became %d notes over %.1f seconds", messages, notes, duration)
}

func (s *Service) finish(ctx context.Context, req protocol.ComposeRequest, reply protocol.ComposeReply, status protocol.ComposeStatus, record history.Composition) {
	if s.requests != nil {
		s.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", reply.Status)))
	}

	record.RequestID = req.RequestID
	record.ChannelID = req.ChannelID
	record.Status = reply.Status
	// the request context may already be done after a timeout
	if err := s.history.Record(context.WithoutCancel(ctx), record); err != nil {
		s.logger.Warn("failed to record composition", slog.String("request_id", req.RequestID), slogError(err))
	}

	if s.bus != nil {
		status.Timestamp = time.Now().UTC()
		if err := s.bus.PublishJSON(protocol.SubjectComposeDone, status); err != nil {
			s.logger.Warn("failed to publish compose status", slogError(err))
		}
	}

	s.logger.Info("compose finished",
		slog.String("request_id", req.RequestID),
		slog.String("status", reply.Status),
		slog.Int("notes", reply.Notes),
		slog.Float64("duration", reply.Duration),
		slog.String("backend", reply.Backend),
	)
}

// Recent keeps the newest n events, oldest first, and converts them for the pipeline.
func Recent(events []protocol.ChatEvent, n int) []music.TextEvent {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b protocol.ChatEvent) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[len(sorted)-n:]
	}
	out := make([]music.TextEvent, len(sorted))
	for i, e := range sorted {
		out[i] = music.TextEvent{
			AuthorID:  e.AuthorID,
			Content:   e.Content,
			CreatedAt: e.CreatedAt,
			Bot:       e.Bot,
			Webhook:   e.Webhook,
			System:    e.System,
		}
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
