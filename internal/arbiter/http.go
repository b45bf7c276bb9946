package arbiter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/valksor/go-taskrunner/internal/log"
)

// Request headers read by the HTTP surface.
const (
	HeaderClientSecret = "X-Client-Secret"
	HeaderClientID     = "X-Client-ID"
	HeaderInstanceUUID = "X-Instance-UUID"
)

// ErrUnknownSecret is returned by an OwnerResolver for an unrecognized secret.
var ErrUnknownSecret = errors.New("unknown client secret")

// OwnerResolver maps a client secret to the owning user id.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, secret string) (int64, error)
}

// StaticOwners resolves owners from a fixed secret table.
type StaticOwners map[string]int64

func (s StaticOwners) ResolveOwner(_ context.Context, secret string) (int64, error) {
	owner, ok := s[secret]
	if !ok || secret == "" {
		return 0, ErrUnknownSecret
	}
	return owner, nil
}

// Handler exposes the heartbeat endpoint and the instance gate.
type Handler struct {
	arb    *Arbiter
	owners OwnerResolver
}

// NewHandler creates a Handler.
func NewHandler(arb *Arbiter, owners OwnerResolver) *Handler {
	return &Handler{arb: arb, owners: owners}
}

// Register mounts the heartbeat and health routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/client/{id}/heartbeat", h.heartbeat)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusOK, "ok", nil)
	})
}

type heartbeatRequest struct {
	InstanceUUID string `json:"instance_uuid"`
}

type heartbeatData struct {
	InstanceUUID string `json:"instance_uuid"`
	LastSeen     string `json:"last_seen"`
	Outcome      string `json:"outcome"`
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	owner, err := h.owners.ResolveOwner(r.Context(), r.Header.Get(HeaderClientSecret))
	if err != nil {
		writeEnvelope(w, http.StatusUnauthorized, err.Error(), nil)
		return
	}
	clientID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, "invalid client id", nil)
		return
	}
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InstanceUUID == "" {
		writeEnvelope(w, http.StatusBadRequest, "instance_uuid is required", nil)
		return
	}

	d, err := h.arb.Heartbeat(r.Context(), owner, clientID, req.InstanceUUID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	log.Debug("heartbeat accepted", "client_id", clientID, "outcome", d.Outcome)
	writeEnvelope(w, http.StatusOK, "ok", heartbeatData{
		InstanceUUID: d.Lease.Token,
		LastSeen:     d.Lease.LastSeen.UTC().Format(time.RFC3339),
		Outcome:      string(d.Outcome),
	})
}

// RequireCurrentInstance rejects, with 409, any request that names both a
// client and an instance token when that token is not allowed to act for
// the client. Requests without those headers pass through.
func (h *Handler) RequireCurrentInstance(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(HeaderInstanceUUID)
		rawClient := r.Header.Get(HeaderClientID)
		if token == "" || rawClient == "" {
			next.ServeHTTP(w, r)
			return
		}

		clientID, err := strconv.ParseInt(rawClient, 10, 64)
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, "invalid "+HeaderClientID, nil)
			return
		}
		owner, err := h.owners.ResolveOwner(r.Context(), r.Header.Get(HeaderClientSecret))
		if err != nil {
			writeEnvelope(w, http.StatusUnauthorized, err.Error(), nil)
			return
		}
		if err := h.arb.CheckInstance(r.Context(), owner, clientID, token, h.arb.now()); err != nil {
			h.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		w.Header().Set("Retry-After", strconv.Itoa(conflict.RemainingSeconds()))
		writeEnvelope(w, http.StatusConflict, conflict.Error(), map[string]int{
			"retry_after": conflict.RemainingSeconds(),
		})
		return
	}
	if errors.Is(err, ErrInvalidToken) {
		writeEnvelope(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	log.Error("arbitration failed", log.Err(err))
	writeEnvelope(w, http.StatusInternalServerError, "arbitration failed", nil)
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    any    `json:"data"`
	}{Code: status, Message: message, Data: data})
}
