package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/shell/deployer"
	"github.com/berthd/berth/internal/shell/store"
)

// Deployer runs the deployment pipeline. Satisfied by
// *deployer.Deployer.
type Deployer interface {
	Deploy(ctx context.Context, req deployer.Request) (*deployer.Result, error)
}

// =============================================================================
// Request/Response Types
// =============================================================================

// deployRequest is the JSON body of POST /api/v1/deployments.
type deployRequest struct {
	Repo      string   `json:"repo"`
	Domain    string   `json:"domain"`
	Port      int      `json:"port,omitempty"`
	BuildPath string   `json:"buildPath,omitempty"`
	Services  []string `json:"services,omitempty"`
	SSL       bool     `json:"ssl,omitempty"`
}

// deployResponse is returned when the pipeline completes.
type deployResponse struct {
	Deployment *domain.Deployment `json:"deployment"`
	Warning    string             `json:"warning,omitempty"`
}

// =============================================================================
// Deployment Handlers
// =============================================================================

type deploymentHandlers struct {
	store    store.Store
	deployer Deployer
	logger   *slog.Logger
}

func newDeploymentHandlers(st store.Store, d Deployer, logger *slog.Logger) *deploymentHandlers {
	return &deploymentHandlers{store: st, deployer: d, logger: logger}
}

func (h *deploymentHandlers) createDeployment(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Repo == "" || req.Domain == "" {
		writeError(w, http.StatusBadRequest, "repo and domain are required")
		return
	}

	// The pipeline runs for as long as a clone plus a build; the
	// server-wide write timeout would cut the connection before the
	// result can be written. Lift the deadline for this request only.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("write deadline not adjustable", "error", err)
	}

	result, err := h.deployer.Deploy(r.Context(), deployer.Request{
		RepoRef:    req.Repo,
		Domain:     req.Domain,
		PinnedPort: req.Port,
		BuildPath:  req.BuildPath,
		Services:   req.Services,
		SSL:        req.SSL,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidDomain) {
			status = http.StatusBadRequest
		}
		h.logger.Error("deployment failed",
			"domain", req.Domain,
			"stage", domain.FailedStage(err),
			"error", err,
		)
		writeError(w, status, err.Error())
		return
	}

	if err := writeJSON(w, http.StatusCreated, deployResponse{
		Deployment: result.Deployment,
		Warning:    result.Warning,
	}); err != nil {
		h.logger.Error("writing deploy response failed",
			"domain", req.Domain,
			"deployment_id", result.Deployment.ID,
			"error", err,
		)
	}
}

func (h *deploymentHandlers) listDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := h.store.ListDeployments(r.Context(), store.ListOptions{})
	if err != nil {
		h.logger.Error("listing deployments failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing deployments failed")
		return
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

func (h *deploymentHandlers) getDeployment(w http.ResponseWriter, r *http.Request) {
	domainName := chi.URLParam(r, "domain")
	dep, err := h.store.FindDeploymentByDomain(r.Context(), domainName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no deployment for domain "+domainName)
			return
		}
		h.logger.Error("deployment lookup failed", "domain", domainName, "error", err)
		writeError(w, http.StatusInternalServerError, "deployment lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

// =============================================================================
// Response Helpers
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
