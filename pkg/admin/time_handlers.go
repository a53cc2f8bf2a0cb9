package admin

import (
	"fmt"
	"net/http"
	"time"

	"github.com/getmockd/vbackend/pkg/store"
)

// OffsetRequest sets a workspace clock offset. Offset is a Go duration
// string such as "-90m"; OffsetSeconds is used when Offset is empty.
type OffsetRequest struct {
	Offset        string   `json:"offset,omitempty"`
	OffsetSeconds *float64 `json:"offsetSeconds,omitempty"`
}

func (o OffsetRequest) duration(field string) (time.Duration, error) {
	switch {
	case o.Offset != "":
		d, err := time.ParseDuration(o.Offset)
		if err != nil {
			return 0, &store.ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", o.Offset)}
		}
		return d, nil
	case o.OffsetSeconds != nil:
		return time.Duration(*o.OffsetSeconds * float64(time.Second)), nil
	default:
		return 0, &store.ValidationError{Field: field, Message: "offset or offsetSeconds is required"}
	}
}

// AdvanceRequest moves a workspace clock forward (or back, when negative).
type AdvanceRequest struct {
	Duration string `json:"duration"`
}

// ScaleRequest sets how fast a workspace clock runs relative to the wall
// clock. 1 is real time, 2 twice as fast.
type ScaleRequest struct {
	Scale float64 `json:"scale"`
}

// SetTimeRequest pins a workspace clock to an instant.
type SetTimeRequest struct {
	Time time.Time `json:"time"`
}

func (a *API) handleGetTime(w http.ResponseWriter, r *http.Request) {
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, a.registry.Clock().Status(ws.ID))
}

func (a *API) handleSetOffset(w http.ResponseWriter, r *http.Request) {
	var req OffsetRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, a.log, err)
		return
	}
	d, err := req.duration("offset")
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	sim := a.registry.Clock()
	sim.SetOffset(ws.ID, d)
	writeJSON(w, http.StatusOK, sim.Status(ws.ID))
}

func (a *API) handleAdvanceTime(w http.ResponseWriter, r *http.Request) {
	var req AdvanceRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, a.log, err)
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, a.log, &store.ValidationError{Field: "duration", Message: fmt.Sprintf("invalid duration %q", req.Duration)})
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	sim := a.registry.Clock()
	if _, err := sim.Advance(ws.ID, d); err != nil {
		writeError(w, a.log, clockError("duration", err))
		return
	}
	writeJSON(w, http.StatusOK, sim.Status(ws.ID))
}

func (a *API) handleSetScale(w http.ResponseWriter, r *http.Request) {
	var req ScaleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, a.log, err)
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	sim := a.registry.Clock()
	if err := sim.SetScale(ws.ID, req.Scale); err != nil {
		writeError(w, a.log, clockError("scale", err))
		return
	}
	writeJSON(w, http.StatusOK, sim.Status(ws.ID))
}

// clockError turns a rejected clock change into a validation error on field.
func clockError(field string, err error) error {
	return &store.ValidationError{Field: field, Message: err.Error()}
}

func (a *API) handleSetTime(w http.ResponseWriter, r *http.Request) {
	var req SetTimeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, a.log, err)
		return
	}
	if req.Time.IsZero() {
		writeError(w, a.log, &store.ValidationError{Field: "time", Message: "an RFC 3339 time is required"})
		return
	}
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	sim := a.registry.Clock()
	sim.SetTime(ws.ID, req.Time)
	writeJSON(w, http.StatusOK, sim.Status(ws.ID))
}

func (a *API) handleResetTime(w http.ResponseWriter, r *http.Request) {
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	sim := a.registry.Clock()
	sim.Reset(ws.ID)
	writeJSON(w, http.StatusOK, sim.Status(ws.ID))
}
