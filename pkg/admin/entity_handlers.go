package admin

import (
	"iter"
	"net/http"

	"github.com/getmockd/vbackend/pkg/document"
	"github.com/getmockd/vbackend/pkg/entity"
)

// EntityList is returned by the entity list endpoints.
type EntityList struct {
	Workspace string           `json:"workspace"`
	Type      string           `json:"type,omitempty"`
	Entities  []*entity.Record `json:"entities"`
	// Total counts every matching record; Entities holds the requested page.
	Total  int `json:"total"`
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

// requestProtocol returns the protocol named by the X-Protocol header or
// the protocol query parameter. Writes naming neither act as REST.
func requestProtocol(r *http.Request) (entity.Protocol, error) {
	p, named, err := namedProtocol(r)
	if err != nil || named {
		return p, err
	}
	return entity.ProtocolREST, nil
}

// namedProtocol is requestProtocol without the REST default. Reads that
// name no protocol are inspections and leave provenance alone.
func namedProtocol(r *http.Request) (entity.Protocol, bool, error) {
	name := r.Header.Get(ProtocolHeader)
	if name == "" {
		name = r.URL.Query().Get("protocol")
	}
	if name == "" {
		return "", false, nil
	}
	p, err := entity.ParseProtocol(name)
	return p, true, err
}

func (a *API) handleListEntities(w http.ResponseWriter, r *http.Request) {
	protocol, named, err := namedProtocol(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	offset, _, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	limit, limited, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	entityType := r.PathValue("type")
	if entityType == "" {
		entityType = r.URL.Query().Get("type")
	}

	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	var seq iter.Seq[*entity.Record]
	if named {
		seq, err = ws.Tracker().List(r.Context(), protocol, entityType)
	} else {
		seq, err = ws.Tracker().Browse(r.Context(), entityType)
	}
	if err != nil {
		writeError(w, a.log, err)
		return
	}

	out := EntityList{Workspace: ws.ID, Type: entityType, Entities: []*entity.Record{}, Offset: offset, Limit: limit}
	for rec := range seq {
		if out.Total >= offset && (!limited || len(out.Entities) < limit) {
			out.Entities = append(out.Entities, rec)
		}
		out.Total++
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	protocol, named, err := namedProtocol(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	var rec *entity.Record
	if named {
		rec, err = ws.Tracker().Get(r.Context(), protocol, r.PathValue("type"), r.PathValue("id"))
	} else {
		rec, err = ws.Tracker().Peek(r.Context(), r.PathValue("type"), r.PathValue("id"))
	}
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handlePutEntity replaces the document at {type}/{id}. The body is the
// entity data and must be a JSON object.
func (a *API) handlePutEntity(w http.ResponseWriter, r *http.Request) {
	protocol, err := requestProtocol(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	var data document.Value
	if err := decodeJSON(r, &data, false); err != nil {
		writeError(w, a.log, err)
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	rec, err := ws.Tracker().Upsert(r.Context(), protocol, r.PathValue("type"), r.PathValue("id"), data)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	status := http.StatusOK
	if rec.Version == 1 {
		status = http.StatusCreated
	}
	writeJSON(w, status, rec)
}

func (a *API) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	protocol, err := requestProtocol(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	if err := ws.Tracker().Delete(r.Context(), protocol, r.PathValue("type"), r.PathValue("id")); err != nil {
		writeError(w, a.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
