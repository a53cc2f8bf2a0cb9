package admin

import (
	"net/http"
	"time"

	"github.com/getmockd/vbackend/pkg/workspace"
)

func (a *API) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}

	// Workspaces
	mux.HandleFunc("GET /workspaces", a.handleListWorkspaces)
	mux.HandleFunc("POST /workspaces", a.handleCreateWorkspace)
	mux.HandleFunc("GET /workspaces/{ws}", a.handleGetWorkspace)
	mux.HandleFunc("DELETE /workspaces/{ws}", a.handleDeleteWorkspace)
	mux.HandleFunc("GET /workspaces/{ws}/stats", a.handleWorkspaceStats)
	mux.HandleFunc("GET /workspaces/{ws}/events", a.handleEvents)

	// Entities
	mux.HandleFunc("GET /workspaces/{ws}/entities", a.handleListEntities)
	mux.HandleFunc("GET /workspaces/{ws}/entities/{type}", a.handleListEntities)
	mux.HandleFunc("GET /workspaces/{ws}/entities/{type}/{id}", a.handleGetEntity)
	mux.HandleFunc("PUT /workspaces/{ws}/entities/{type}/{id}", a.handlePutEntity)
	mux.HandleFunc("DELETE /workspaces/{ws}/entities/{type}/{id}", a.handleDeleteEntity)

	// Snapshots
	mux.HandleFunc("GET /workspaces/{ws}/snapshots", a.handleListSnapshots)
	mux.HandleFunc("POST /workspaces/{ws}/snapshots", a.handleSaveSnapshot)
	mux.HandleFunc("GET /workspaces/{ws}/snapshots/{name}", a.handleGetSnapshot)
	mux.HandleFunc("DELETE /workspaces/{ws}/snapshots/{name}", a.handleDeleteSnapshot)
	mux.HandleFunc("POST /workspaces/{ws}/snapshots/{name}/load", a.handleLoadSnapshot)
	mux.HandleFunc("GET /workspaces/{ws}/snapshots/{name}/validate", a.handleValidateSnapshot)
	mux.HandleFunc("GET /workspaces/{ws}/snapshots/{name}/diff", a.handleDiffSnapshot)

	// Simulated time
	mux.HandleFunc("GET /workspaces/{ws}/time", a.handleGetTime)
	mux.HandleFunc("PUT /workspaces/{ws}/time", a.handleSetTime)
	mux.HandleFunc("DELETE /workspaces/{ws}/time", a.handleResetTime)
	mux.HandleFunc("PUT /workspaces/{ws}/time/offset", a.handleSetOffset)
	mux.HandleFunc("POST /workspaces/{ws}/time/advance", a.handleAdvanceTime)
	mux.HandleFunc("PUT /workspaces/{ws}/time/scale", a.handleSetScale)
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	Uptime          string `json:"uptime"`
	Workspaces      int    `json:"workspaces"`
	EntityBackend   string `json:"entityBackend"`
	SnapshotBackend string `json:"snapshotBackend"`
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		Version:         a.version,
		Uptime:          time.Since(a.startedAt).Round(time.Second).String(),
		Workspaces:      len(a.registry.List()),
		EntityBackend:   string(a.registry.Backend()),
		SnapshotBackend: string(a.registry.Snapshots().Storage()),
	})
}

// workspace resolves the {ws} path value, creating the workspace when the
// registry is configured to.
func (a *API) workspace(r *http.Request) (*workspace.Workspace, error) {
	return a.registry.Resolve(r.Context(), r.PathValue("ws"))
}
