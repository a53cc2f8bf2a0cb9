package admin

import (
	"errors"
	"net/http"

	"github.com/getmockd/vbackend/pkg/consistency"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/store"
	"github.com/getmockd/vbackend/pkg/workspace"
)

// WorkspaceList is returned by GET /workspaces.
type WorkspaceList struct {
	Workspaces []*workspace.Info `json:"workspaces"`
	Count      int               `json:"count"`
}

// CreateWorkspaceRequest is the body of POST /workspaces.
type CreateWorkspaceRequest struct {
	ID string `json:"id"`
}

// StatsResponse is returned by GET /workspaces/{ws}/stats.
type StatsResponse struct {
	Workspace string                                         `json:"workspace"`
	Protocols map[entity.Protocol]consistency.ProtocolStats `json:"protocols"`
}

func (a *API) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list := a.registry.List()
	out := WorkspaceList{Workspaces: make([]*workspace.Info, 0, len(list))}
	for _, ws := range list {
		info, err := a.registry.Info(r.Context(), ws.ID)
		if errors.Is(err, store.ErrNotFound) {
			// deleted while listing
			continue
		}
		if err != nil {
			writeError(w, a.log, err)
			return
		}
		out.Workspaces = append(out.Workspaces, info)
	}
	out.Count = len(out.Workspaces)
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, a.log, err)
		return
	}
	ws, err := a.registry.Create(r.Context(), req.ID)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	info, err := a.registry.Info(r.Context(), ws.ID)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (a *API) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	info, err := a.registry.Info(r.Context(), r.PathValue("ws"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.Delete(r.Context(), r.PathValue("ws")); err != nil {
		writeError(w, a.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleWorkspaceStats(w http.ResponseWriter, r *http.Request) {
	ws, err := a.registry.Get(r.PathValue("ws"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Workspace: ws.ID, Protocols: ws.Tracker().ProtocolStats()})
}
