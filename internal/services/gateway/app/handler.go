package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/httpx"
	"github.com/llakterian/Adonai-Farm-sub002/internal/platform/logging"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/gateway/cache"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/domain"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/mirror"
	"github.com/llakterian/Adonai-Farm-sub002/internal/services/sync/queue"
)

const maxControlBody = 8 << 20

// Connectivity is the view of the connectivity monitor the handlers need.
type Connectivity interface {
	Online() bool
}

// Services are the collaborators behind the control API.
type Services struct {
	// Proxy serves every request outside the control API.
	Proxy        http.Handler
	Queue        *queue.Queue
	Mirror       *mirror.Mirror
	Cache        cache.Store
	Partitions   cache.Partitions
	Connectivity Connectivity
	Logger       *zap.Logger
}

type handlers struct {
	Services
	logger *zap.Logger
}

// NewHandler builds the gateway's root handler: the control API under
// /_offline/, a liveness endpoint, and the proxy for everything else.
func NewHandler(svc Services) http.Handler {
	h := &handlers{Services: svc, logger: logging.OrNop(svc.Logger)}
	proxy := svc.Proxy
	if proxy == nil {
		proxy = http.NotFoundHandler()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("POST /_offline/actions", h.enqueue)
	mux.HandleFunc("GET /_offline/actions", h.pending)
	mux.HandleFunc("POST /_offline/drain", h.drain)
	mux.HandleFunc("GET /_offline/mirrors/{entity}", h.getMirror)
	mux.HandleFunc("PUT /_offline/mirrors/{entity}", h.putMirror)
	mux.HandleFunc("GET /_offline/status", h.status)
	mux.HandleFunc("GET /_offline/cache", h.cachePartitions)
	mux.HandleFunc("DELETE /_offline/cache/{kind}", h.clearCache)
	mux.HandleFunc("/_offline/", func(w http.ResponseWriter, _ *http.Request) {
		_ = httpx.WriteJSONError(w, http.StatusNotFound, "unknown control endpoint")
	})
	mux.Handle("/", proxy)

	return httpx.Chain(mux,
		httpx.RequestID(),
		httpx.RecoverPanic(h.logger),
		httpx.AccessLog(h.logger),
	)
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

type enqueueRequest struct {
	Action  string        `json:"action"`
	Payload domain.Record `json:"payload"`
}

type enqueueResponse struct {
	Action domain.QueuedAction `json:"action"`
	Drain  *queue.Result       `json:"drain,omitempty"`
}

func (h *handlers) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, err := domain.ParseAction(req.Action)
	if err != nil {
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	queued, err := h.Queue.Enqueue(r.Context(), action, req.Payload)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := enqueueResponse{Action: queued}
	// While the origin is reachable the action replays right away. Other
	// drains may join this one, so it outlives the client connection.
	if h.online() {
		result, err := h.Queue.Drain(context.WithoutCancel(r.Context()))
		if err != nil {
			h.logger.Warn("drain after enqueue", zap.Error(err))
		} else {
			resp.Drain = &result
		}
	}
	_ = httpx.WriteJSON(w, http.StatusAccepted, resp)
}

func (h *handlers) pending(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"actions": h.Queue.Pending()})
}

func (h *handlers) drain(w http.ResponseWriter, r *http.Request) {
	result, err := h.Queue.Drain(context.WithoutCancel(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *handlers) getMirror(w http.ResponseWriter, r *http.Request) {
	entity, err := domain.ParseEntity(r.PathValue("entity"))
	if err != nil {
		_ = httpx.WriteJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	records, err := h.Mirror.Load(r.Context(), entity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, records)
}

func (h *handlers) putMirror(w http.ResponseWriter, r *http.Request) {
	entity, err := domain.ParseEntity(r.PathValue("entity"))
	if err != nil {
		_ = httpx.WriteJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	var records []domain.Record
	if err := decodeJSON(r, &records); err != nil {
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, record := range records {
		if record == nil {
			_ = httpx.WriteJSONError(w, http.StatusBadRequest, "records must be JSON objects")
			return
		}
	}
	if err := h.Mirror.Save(r.Context(), entity, records); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, statusResponse{Online: h.online(), Pending: h.Queue.Len()})
}

func (h *handlers) cachePartitions(w http.ResponseWriter, r *http.Request) {
	summaries, err := cache.Summarize(r.Context(), h.Cache, h.Partitions)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"partitions": summaries})
}

func (h *handlers) clearCache(w http.ResponseWriter, r *http.Request) {
	kind, ok := cache.ParseKind(r.PathValue("kind"))
	if !ok {
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, "unknown cache partition")
		return
	}
	if err := h.Cache.Clear(r.Context(), h.Partitions.Name(kind)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) online() bool {
	return h.Connectivity != nil && h.Connectivity.Online()
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownAction), errors.Is(err, domain.ErrInvalidPayload):
		_ = httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnknownEntity):
		_ = httpx.WriteJSONError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("control request failed", zap.Error(err))
		_ = httpx.WriteJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxControlBody))
	if err := dec.Decode(target); err != nil {
		return errors.New("request body must be valid JSON")
	}
	return nil
}
