package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-compose/internal/capability"
	"github.com/loqalabs/loqa-compose/internal/history"
	"github.com/loqalabs/loqa-compose/internal/music"
	"github.com/loqalabs/loqa-compose/internal/protocol"
)

const maxRequestBytes = 4 << 20

type composeService interface {
	Compose(ctx context.Context, req protocol.ComposeRequest) (protocol.ComposeReply, error)
}

type compositionLister interface {
	Recent(ctx context.Context, channel string, limit int) ([]history.Composition, error)
}

type nodeLister interface {
	Nodes(filter func(capability.NodeInfo) bool) []capability.NodeInfo
}

type handlers struct {
	composer composeService
	history  compositionLister
	nodes    nodeLister
	metrics  http.Handler
	ready    func() bool
	logger   *slog.Logger
}

func (h *handlers) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	mux.HandleFunc("POST /v1/compose", h.handleCompose)
	mux.HandleFunc("GET /v1/compositions", h.handleCompositions)
	mux.HandleFunc("GET /v1/nodes", h.handleNodes)
	return mux
}

func (h *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) handleReady(w http.ResponseWriter, _ *http.Request) {
	if h.ready == nil || h.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (h *handlers) handleCompose(w http.ResponseWriter, r *http.Request) {
	var req protocol.ComposeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.ComposeReply{Status: protocol.StatusFailed, Error: "invalid compose request: " + err.Error()})
		return
	}

	reply, err := h.composer.Compose(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.logger.Warn("compose failed", slog.String("request_id", reply.RequestID), slog.Int("code", code), slogError(err))
		}
		writeJSON(w, code, reply)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "audio/wav")
	header.Set("Content-Disposition", `attachment; filename="composition.wav"`)
	header.Set("Content-Length", strconv.Itoa(len(reply.Audio)))
	header.Set("X-Compose-Request-Id", reply.RequestID)
	header.Set("X-Compose-Duration", strconv.FormatFloat(reply.Duration, 'f', 3, 64))
	header.Set("X-Compose-Caption", reply.Caption)
	header.Set("X-Compose-Backend", reply.Backend)
	header.Set("X-Compose-Notes", strconv.Itoa(reply.Notes))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(reply.Audio)
}

func (h *handlers) handleCompositions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 20
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	rows, err := h.history.Recent(r.Context(), query.Get("channel"), limit)
	if err != nil {
		h.logger.Error("list compositions failed", slogError(err))
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []history.Composition{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := []capability.NodeInfo{}
	if h.nodes != nil {
		var filter func(capability.NodeInfo) bool
		if backend := r.URL.Query().Get("backend"); backend != "" {
			filter = capability.WithAttribute("backend", backend)
		}
		nodes = h.nodes.Nodes(filter)
	}
	writeJSON(w, http.StatusOK, nodes)
}

// statusFor maps compose errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, music.ErrEmpty):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
