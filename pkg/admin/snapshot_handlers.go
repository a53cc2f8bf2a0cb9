package admin

import (
	"net/http"

	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/snapshot"
)

// SaveSnapshotRequest is the body of POST /workspaces/{ws}/snapshots.
type SaveSnapshotRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// IncludeClock records the workspace clock offset with the state.
	IncludeClock bool `json:"includeClock,omitempty"`
}

// LoadSnapshotRequest is the optional body of
// POST /workspaces/{ws}/snapshots/{name}/load.
type LoadSnapshotRequest struct {
	RestoreClock bool `json:"restoreClock,omitempty"`
}

// SnapshotList is returned by GET /workspaces/{ws}/snapshots.
type SnapshotList struct {
	Workspace string                 `json:"workspace"`
	Snapshots []*snapshot.Descriptor `json:"snapshots"`
	Count     int                    `json:"count"`
}

// LoadSnapshotResponse reports a completed restore.
type LoadSnapshotResponse struct {
	Snapshot *snapshot.Descriptor `json:"snapshot"`
	Restored int                  `json:"restored"`
	Clock    clock.Status         `json:"clock"`
}

func (a *API) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	ds, err := a.registry.Snapshots().List(r.Context(), ws.ID)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	if ds == nil {
		ds = []*snapshot.Descriptor{}
	}
	writeJSON(w, http.StatusOK, SnapshotList{Workspace: ws.ID, Snapshots: ds, Count: len(ds)})
}

func (a *API) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SaveSnapshotRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, a.log, err)
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	var opts []snapshot.SaveOption
	if req.IncludeClock {
		opts = append(opts, snapshot.WithClock())
	}
	d, err := a.registry.Snapshots().Save(r.Context(), ws.ID, req.Name, req.Description, opts...)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	w.Header().Set("Location", "/workspaces/"+ws.ID+"/snapshots/"+d.Name)
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	d, err := a.registry.Snapshots().Get(r.Context(), ws.ID, r.PathValue("name"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	if err := a.registry.Snapshots().Delete(r.Context(), ws.ID, r.PathValue("name")); err != nil {
		writeError(w, a.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoadSnapshot restores a snapshot. The clock can be restored either
// through the body or with ?restoreClock=true.
func (a *API) handleLoadSnapshot(w http.ResponseWriter, r *http.Request) {
	var req LoadSnapshotRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, a.log, err)
		return
	}
	restoreClock, err := queryBool(r, "restoreClock")
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}

	name := r.PathValue("name")
	var opts []snapshot.LoadOption
	if req.RestoreClock || restoreClock {
		opts = append(opts, snapshot.RestoreClock())
	}
	d, err := a.registry.Snapshots().Load(r.Context(), ws.ID, name, opts...)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, LoadSnapshotResponse{
		Snapshot: d,
		Restored: d.TotalEntities,
		Clock:    a.registry.Clock().Status(ws.ID),
	})
}

func (a *API) handleValidateSnapshot(w http.ResponseWriter, r *http.Request) {
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	v, err := a.registry.Snapshots().Validate(r.Context(), ws.ID, r.PathValue("name"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleDiffSnapshot compares {name} with the snapshot named by ?against,
// or with the live state when it is absent.
func (a *API) handleDiffSnapshot(w http.ResponseWriter, r *http.Request) {
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	d, err := a.registry.Snapshots().Diff(r.Context(), ws.ID, r.PathValue("name"), r.URL.Query().Get("against"))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
