// Package httpapi exposes the replication core's status over HTTP, mounted
// by cmd/haagent the way internal/platform/api's handlers are mounted by
// cmd/platform: small handler structs taking their dependencies by
// constructor, writing JSON with encoding/json rather than a framework.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.brokerha.dev/internal/ha/primary"
	"go.brokerha.dev/internal/ha/types"
)

// MembershipReader reads the cluster-wide membership snapshot, independent
// of any locally-held Primary, so the status surface keeps answering even
// when queried against a broker that isn't currently primary. Implemented
// by internal/ha/membership/cache.Snapshot.
type MembershipReader interface {
	All(ctx context.Context) ([]types.BrokerInfo, error)
}

// StatusView is the shape this codebase's dashboards poll for cluster state.
type StatusView struct {
	Active          bool   `json:"active"`
	BackupCount     int    `json:"backupCount"`
	ExpectedCount   int    `json:"expectedCount"`
	Role            string `json:"role"`
	GeneratedAtUnix int64  `json:"generatedAtUnix"`
}

// Handler serves the HA status endpoints for a live Primary controller. The
// zero value serves a "standalone" role when no controller is installed
// (e.g. this broker has never been promoted).
type Handler struct {
	p       *primary.Primary
	members MembershipReader // optional: nil disables /ha/members
}

// NewHandler wraps p. A nil p is valid and reports a standalone role.
func NewHandler(p *primary.Primary) *Handler {
	return &Handler{p: p}
}

// WithMembershipReader attaches a cluster-wide membership snapshot reader,
// enabling /ha/members.
func (h *Handler) WithMembershipReader(r MembershipReader) *Handler {
	h.members = r
	return h
}

//	@Summary		Cluster replication status
//	@Description	Reports whether this broker is active as a replication primary and how many backups are attached.
//	@Tags			ha
//	@Produce		json
//	@Success		200	{object}	StatusView
//	@Router			/ha/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	view := StatusView{Role: "standalone", GeneratedAtUnix: time.Now().Unix()}
	if h.p != nil {
		view.Role = "primary"
		view.Active = h.p.Active()
		view.BackupCount = h.p.BackupCount()
		view.ExpectedCount = h.p.ExpectedCount()
	}
	writeJSON(w, http.StatusOK, view)
}

//	@Summary		Attached backups
//	@Description	Lists every backup currently tracked by this primary, connected or still expected.
//	@Tags			ha
//	@Produce		json
//	@Success		200	{array}	primary.BackupView
//	@Router			/ha/backups [get]
func (h *Handler) Backups(w http.ResponseWriter, r *http.Request) {
	if h.p == nil {
		writeJSON(w, http.StatusOK, []primary.BackupView{})
		return
	}
	writeJSON(w, http.StatusOK, h.p.BackupViews())
}

//	@Summary		Cluster-wide membership snapshot
//	@Description	Lists every broker this cluster's membership backend currently knows about, independent of this process's own role.
//	@Tags			ha
//	@Produce		json
//	@Success		200	{array}	types.BrokerInfo
//	@Router			/ha/members [get]
func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	if h.members == nil {
		writeJSON(w, http.StatusOK, []types.BrokerInfo{})
		return
	}
	infos, err := h.members.All(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
