package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"warden/internal/audit"
	"warden/internal/ipban"
	"warden/internal/pipeline"
	"warden/internal/settings"
	"warden/internal/store"
	"warden/internal/worker"
	dErrors "warden/pkg/domain-errors"
)

// AdminHandler exposes the operator surface: un-verify, IP bans, access
// lists, and runtime settings. List and ban mutations are applied directly
// under the state manager's lock; un-verify rides the serialized queue like
// every other member-facing mutation.
type AdminHandler struct {
	queue     *worker.Queue
	pipeline  *pipeline.Pipeline
	registry  *ipban.Registry
	config    *settings.ConfigStore
	mgr       *store.Manager
	publisher *audit.Publisher
	logger    *slog.Logger
}

// NewAdminHandler wires the operator endpoints. publisher may be nil.
func NewAdminHandler(
	queue *worker.Queue,
	p *pipeline.Pipeline,
	registry *ipban.Registry,
	config *settings.ConfigStore,
	mgr *store.Manager,
	publisher *audit.Publisher,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		queue:     queue,
		pipeline:  p,
		registry:  registry,
		config:    config,
		mgr:       mgr,
		publisher: publisher,
		logger:    logger,
	}
}

type unverifyRequest struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
}

// handleUnverify enqueues an un-verify for the member. Like submissions, the
// response acknowledges acceptance, not completion.
func (a *AdminHandler) handleUnverify(w http.ResponseWriter, r *http.Request) {
	var req unverifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	if req.GuildID == "" || req.UserID == "" {
		writeError(w, dErrors.New(dErrors.CodeValidation, "guild_id and user_id are required"))
		return
	}

	actor := ActorID(r.Context())
	err := a.queue.Enqueue(worker.Task{
		Name: "unverify:" + req.UserID,
		Fn: func(ctx context.Context) {
			if err := a.pipeline.Unverify(ctx, req.GuildID, req.UserID); err != nil {
				a.logger.Error("un-verify failed",
					"guild_id", req.GuildID, "user_id", req.UserID, "actor", actor, "error", err)
			}
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type banIPRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

func (a *AdminHandler) handleBanIP(w http.ResponseWriter, r *http.Request) {
	var req banIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	if err := a.registry.Ban(r.Context(), req.IP, req.Reason, ActorID(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminHandler) handleUnbanIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	existed, err := a.registry.Unban(r.Context(), ip, ActorID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	if !existed {
		writeError(w, dErrors.Newf(dErrors.CodeNotFound, "no active ban for %q", ip))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSettings returns every settable key in its string form.
func (a *AdminHandler) handleListSettings(w http.ResponseWriter, _ *http.Request) {
	values := make(map[string]string)
	for _, key := range settings.Keys() {
		value, err := a.config.Get(key)
		if err != nil {
			writeError(w, err)
			return
		}
		values[key] = value
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(values)
}

type setSettingRequest struct {
	Value string `json:"value"`
}

func (a *AdminHandler) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var req setSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	key := chi.URLParam(r, "key")
	if err := a.config.Set(r.Context(), key, req.Value); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminHandler) handleBlacklistAdd(w http.ResponseWriter, r *http.Request) {
	a.updateList(w, r, audit.ActionBlacklistUpdated, "added", func(s *store.State, userID string) bool {
		return s.AddToBlacklist(userID)
	})
}

func (a *AdminHandler) handleBlacklistRemove(w http.ResponseWriter, r *http.Request) {
	a.updateList(w, r, audit.ActionBlacklistUpdated, "removed", func(s *store.State, userID string) bool {
		return s.RemoveFromBlacklist(userID)
	})
}

func (a *AdminHandler) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	a.updateList(w, r, audit.ActionWhitelistUpdated, "added", func(s *store.State, userID string) bool {
		return s.AddToWhitelist(userID)
	})
}

func (a *AdminHandler) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	a.updateList(w, r, audit.ActionWhitelistUpdated, "removed", func(s *store.State, userID string) bool {
		return s.RemoveFromWhitelist(userID)
	})
}

// updateList applies one access-list mutation. A removal of an absent entry
// is not found; an addition is idempotent.
func (a *AdminHandler) updateList(w http.ResponseWriter, r *http.Request, action, verb string, mutate func(*store.State, string) bool) {
	userID := chi.URLParam(r, "userID")
	var changed bool
	err := a.mgr.Update(r.Context(), func(s *store.State) error {
		changed = mutate(s, userID)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !changed && verb == "removed" {
		writeError(w, dErrors.Newf(dErrors.CodeNotFound, "user %q is not listed", userID))
		return
	}
	if changed {
		actor := ActorID(r.Context())
		if a.publisher != nil {
			a.publisher.Emit(r.Context(), audit.Event{
				Action:  action,
				Subject: userID,
				Actor:   actor,
				Reason:  verb,
			})
		}
		a.logger.Info("access list updated",
			"action", action, "user_id", userID, "change", verb, "actor", actor)
	}
	w.WriteHeader(http.StatusNoContent)
}
