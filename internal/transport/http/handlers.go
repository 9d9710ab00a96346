package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"warden/internal/domain"
	"warden/internal/export"
	"warden/internal/pipeline"
	"warden/internal/worker"
	dErrors "warden/pkg/domain-errors"
)

// Handler is the thin HTTP layer. It should delegate to domain services
// without embedding business logic so transport concerns remain isolated.
type Handler struct {
	queue    *worker.Queue
	pipeline *pipeline.Pipeline
	join     *pipeline.JoinHandler
	exporter *export.Exporter
	logger   *slog.Logger
}

// NewHandler wires the transport over the serialized queue.
func NewHandler(queue *worker.Queue, p *pipeline.Pipeline, join *pipeline.JoinHandler, exporter *export.Exporter, logger *slog.Logger) *Handler {
	return &Handler{queue: queue, pipeline: p, join: join, exporter: exporter, logger: logger}
}

type submissionRequest struct {
	GuildID   string   `json:"guild_id"`
	UserID    string   `json:"user_id"`
	HWID      string   `json:"hwid"`
	IP        string   `json:"ip"`
	UserAgent string   `json:"user_agent"`
	Signals   []string `json:"signals"`
}

// handleSubmit validates and enqueues one submission. Processing is
// asynchronous: the response acknowledges acceptance, not an outcome.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	sub := domain.Submission{
		GuildID:   req.GuildID,
		UserID:    req.UserID,
		HWID:      req.HWID,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Signals:   req.Signals,
	}
	if sub.GuildID == "" || sub.UserID == "" || sub.HWID == "" || sub.IP == "" {
		writeError(w, dErrors.New(dErrors.CodeValidation, "guild_id, user_id, hwid, and ip are required"))
		return
	}

	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	err := h.queue.Enqueue(worker.Task{
		Name: "verification:" + sub.UserID,
		Fn: func(ctx context.Context) {
			if _, err := h.pipeline.Process(ctx, sub); err != nil {
				h.logger.Error("submission processing failed",
					"request_id", requestID, "user_id", sub.UserID, "error", err)
			}
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"request_id": requestID})
}

type memberJoinRequest struct {
	GuildID  string `json:"guild_id"`
	MemberID string `json:"member_id"`
}

func (h *Handler) handleMemberJoin(w http.ResponseWriter, r *http.Request) {
	var req memberJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	if req.GuildID == "" || req.MemberID == "" {
		writeError(w, dErrors.New(dErrors.CodeValidation, "guild_id and member_id are required"))
		return
	}

	err := h.queue.Enqueue(worker.Task{
		Name: "member-join:" + req.MemberID,
		Fn: func(ctx context.Context) {
			if err := h.join.OnMemberJoin(ctx, req.GuildID, req.MemberID); err != nil {
				h.logger.Error("member join handling failed",
					"guild_id", req.GuildID, "member_id", req.MemberID, "error", err)
			}
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleExport serves tiered data exports synchronously; it only reads state.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	doc, err := h.exporter.Export(r.Context(), ActorID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		h.logger.Error("write export response failed", "error", err)
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError centralizes domain error translation to HTTP responses so every
// handler emits the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case dErrors.CodeValidation:
		status = http.StatusBadRequest
	case dErrors.CodeNotFound:
		status = http.StatusNotFound
	case dErrors.CodeConflict:
		status = http.StatusConflict
	case dErrors.CodePermissionDenied:
		status = http.StatusForbidden
	case dErrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": string(code)})
}
