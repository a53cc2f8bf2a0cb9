package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/getmockd/vbackend/pkg/store"
)

// maxBodySize caps request bodies.
const maxBodySize = 10 << 20

// Error codes produced by the HTTP layer itself.
const (
	CodeInvalidJSON = "invalid_json"
	CodeRateLimited = "rate_limited"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its HTTP status and error body. Internal errors
// are logged in full and reported generically.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	resp := store.ToErrorResponse(err)
	switch {
	case resp.StatusCode >= http.StatusInternalServerError && resp.Error == store.CodeInternal:
		log.Error("admin request failed", "error", err)
		resp.Message = "internal error"
	case resp.StatusCode >= http.StatusInternalServerError:
		log.Warn("admin request failed", "error", err)
	}
	if resp.Error == store.CodeLockTimeout {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, resp.StatusCode, resp)
}

// writeStatus writes an error body that does not come from the domain.
func writeStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &store.ErrorResponse{Error: code, Message: message, StatusCode: status})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched
// when optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return &store.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

// queryInt parses a non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false, &store.ValidationError{Field: name, Message: fmt.Sprintf("must be a non-negative integer, got %q", v)}
	}
	return n, true, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &store.ValidationError{Field: name, Message: fmt.Sprintf("must be a boolean, got %q", v)}
	}
	return b, nil
}
