package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getmockd/vbackend/pkg/admin"
	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/snapshot"
	"github.com/getmockd/vbackend/pkg/store"
	"github.com/getmockd/vbackend/pkg/workspace"
)

// CodeConnection marks an APIError raised before any response arrived.
const CodeConnection = "connection_error"

// APIError is an error response from the admin API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Hint       string
}

func (e *APIError) Error() string { return e.Message }

// Is maps the error code onto the store sentinels, so callers can test
// errors.Is(err, store.ErrNotFound) on the client side too.
func (e *APIError) Is(target error) bool {
	switch e.Code {
	case store.CodeNotFound:
		return target == store.ErrNotFound
	case store.CodeConflict:
		return target == store.ErrConflict
	case store.CodeLockTimeout:
		return target == store.ErrLockTimeout
	case store.CodeStorageIO:
		return target == store.ErrStorageIO
	case store.CodeInvalid:
		return target == store.ErrInvalid
	}
	return false
}

// AdminClient talks to a running server's admin API.
type AdminClient struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures an AdminClient.
type ClientOption func(*AdminClient)

// WithTimeout sets the HTTP timeout for the client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *AdminClient) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *AdminClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewAdminClient returns a client for the admin API at baseURL, for example
// "http://localhost:4290".
func NewAdminClient(baseURL string, opts ...ClientOption) *AdminClient {
	c := &AdminClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health returns the server's health report.
func (c *AdminClient) Health(ctx context.Context) (*admin.HealthResponse, error) {
	var out admin.HealthResponse
	return &out, c.do(ctx, http.MethodGet, "/health", nil, nil, &out)
}

// ListWorkspaces returns every workspace.
func (c *AdminClient) ListWorkspaces(ctx context.Context) ([]*workspace.Info, error) {
	var out admin.WorkspaceList
	if err := c.do(ctx, http.MethodGet, "/workspaces", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Workspaces, nil
}

// GetWorkspace describes one workspace.
func (c *AdminClient) GetWorkspace(ctx context.Context, ws string) (*workspace.Info, error) {
	var out workspace.Info
	return &out, c.do(ctx, http.MethodGet, wsPath(ws), nil, nil, &out)
}

// CreateWorkspace creates a workspace.
func (c *AdminClient) CreateWorkspace(ctx context.Context, ws string) (*workspace.Info, error) {
	var out workspace.Info
	return &out, c.do(ctx, http.MethodPost, "/workspaces", nil, admin.CreateWorkspaceRequest{ID: ws}, &out)
}

// DeleteWorkspace deletes a workspace with its records, clock and snapshots.
func (c *AdminClient) DeleteWorkspace(ctx context.Context, ws string) error {
	return c.do(ctx, http.MethodDelete, wsPath(ws), nil, nil, nil)
}

// Stats returns per-protocol operation counts for a workspace.
func (c *AdminClient) Stats(ctx context.Context, ws string) (*admin.StatsResponse, error) {
	var out admin.StatsResponse
	return &out, c.do(ctx, http.MethodGet, wsPath(ws, "stats"), nil, nil, &out)
}

// ListOptions narrows an entity listing.
type ListOptions struct {
	Type     string
	Protocol entity.Protocol
	Offset   int
	Limit    int
}

// ListEntities lists the entities of a workspace.
func (c *AdminClient) ListEntities(ctx context.Context, ws string, opts ListOptions) (*admin.EntityList, error) {
	q := url.Values{}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.Offset > 0 {
		q.Set("offset", fmt.Sprint(opts.Offset))
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprint(opts.Limit))
	}
	var out admin.EntityList
	return &out, c.do(ctx, http.MethodGet, wsPath(ws, "entities")+query(q), protocolHeader(opts.Protocol), nil, &out)
}

// GetEntity reads one entity.
func (c *AdminClient) GetEntity(ctx context.Context, ws string, protocol entity.Protocol, entityType, id string) (*entity.Record, error) {
	var out entity.Record
	return &out, c.do(ctx, http.MethodGet, wsPath(ws, "entities", entityType, id), protocolHeader(protocol), nil, &out)
}

// PutEntity replaces the document of one entity. data must be a JSON object.
func (c *AdminClient) PutEntity(ctx context.Context, ws string, protocol entity.Protocol, entityType, id string, data json.RawMessage) (*entity.Record, error) {
	var out entity.Record
	return &out, c.do(ctx, http.MethodPut, wsPath(ws, "entities", entityType, id), protocolHeader(protocol), data, &out)
}

// DeleteEntity removes one entity.
func (c *AdminClient) DeleteEntity(ctx context.Context, ws string, protocol entity.Protocol, entityType, id string) error {
	return c.do(ctx, http.MethodDelete, wsPath(ws, "entities", entityType, id), protocolHeader(protocol), nil, nil)
}

// ListSnapshots returns snapshot metadata, oldest first.
func (c *AdminClient) ListSnapshots(ctx context.Context, ws string) ([]*snapshot.Descriptor, error) {
	var out admin.SnapshotList
	if err := c.do(ctx, http.MethodGet, wsPath(ws, "snapshots"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Snapshots, nil
}

// GetSnapshot returns one snapshot's metadata.
func (c *AdminClient) GetSnapshot(ctx context.Context, ws, name string) (*snapshot.Descriptor, error) {
	var out snapshot.Descriptor
	return &out, c.do(ctx, http.MethodGet, wsPath(ws, "snapshots", name), nil, nil, &out)
}

// SaveSnapshot captures the workspace under a new name.
func (c *AdminClient) SaveSnapshot(ctx context.Context, ws string, req admin.SaveSnapshotRequest) (*snapshot.Descriptor, error) {
	var out snapshot.Descriptor
	return &out, c.do(ctx, http.MethodPost, wsPath(ws, "snapshots"), nil, req, &out)
}

// LoadSnapshot replaces the workspace's state with a snapshot's.
func (c *AdminClient) LoadSnapshot(ctx context.Context, ws, name string, restoreClock bool) (*admin.LoadSnapshotResponse, error) {
	var out admin.LoadSnapshotResponse
	body := admin.LoadSnapshotRequest{RestoreClock: restoreClock}
	return &out, c.do(ctx, http.MethodPost, wsPath(ws, "snapshots", name, "load"), nil, body, &out)
}

// DeleteSnapshot removes a snapshot.
func (c *AdminClient) DeleteSnapshot(ctx context.Context, ws, name string) error {
	return c.do(ctx, http.MethodDelete, wsPath(ws, "snapshots", name), nil, nil, nil)
}

// ValidateSnapshot checks a snapshot's stored state against its checksum.
func (c *AdminClient) ValidateSnapshot(ctx context.Context, ws, name string) (*snapshot.Validation, error) {
	var out snapshot.Validation
	return &out, c.do(ctx, http.MethodGet, wsPath(ws, "snapshots", name, "validate"), nil, nil, &out)
}

// DiffSnapshot compares a snapshot with another one, or with the live state
// when against is empty.
func (c *AdminClient) DiffSnapshot(ctx context.Context, ws, name, against string) (*snapshot.Diff, error) {
	q := url.Values{}
	if against != "" {
		q.Set("against", against)
	}
	var out snapshot.Diff
	return &out, c.do(ctx, http.MethodGet, wsPath(ws, "snapshots", name, "diff")+query(q), nil, nil, &out)
}

// Time returns the workspace clock.
func (c *AdminClient) Time(ctx context.Context, ws string) (*clock.Status, error) {
	var out clock.Status
	return &out, c.do(ctx, http.MethodGet, wsPath(ws, "time"), nil, nil, &out)
}

// SetOffset sets the workspace clock offset.
func (c *AdminClient) SetOffset(ctx context.Context, ws string, d time.Duration) (*clock.Status, error) {
	var out clock.Status
	return &out, c.do(ctx, http.MethodPut, wsPath(ws, "time", "offset"), nil, admin.OffsetRequest{Offset: d.String()}, &out)
}

// Advance moves the workspace clock by d.
func (c *AdminClient) Advance(ctx context.Context, ws string, d time.Duration) (*clock.Status, error) {
	var out clock.Status
	return &out, c.do(ctx, http.MethodPost, wsPath(ws, "time", "advance"), nil, admin.AdvanceRequest{Duration: d.String()}, &out)
}

// SetScale sets how fast the workspace clock runs relative to real time.
func (c *AdminClient) SetScale(ctx context.Context, ws string, factor float64) (*clock.Status, error) {
	var out clock.Status
	return &out, c.do(ctx, http.MethodPut, wsPath(ws, "time", "scale"), nil, admin.ScaleRequest{Scale: factor}, &out)
}

// SetTime pins the workspace clock to t.
func (c *AdminClient) SetTime(ctx context.Context, ws string, t time.Time) (*clock.Status, error) {
	var out clock.Status
	return &out, c.do(ctx, http.MethodPut, wsPath(ws, "time"), nil, admin.SetTimeRequest{Time: t}, &out)
}

// ResetTime returns the workspace clock to real time.
func (c *AdminClient) ResetTime(ctx context.Context, ws string) (*clock.Status, error) {
	var out clock.Status
	return &out, c.do(ctx, http.MethodDelete, wsPath(ws, "time"), nil, nil, &out)
}

// EventsURL returns the websocket URL of a workspace's change feed.
func (c *AdminClient) EventsURL(ws, entityType string) string {
	u := c.baseURL + wsPath(ws, "events")
	if entityType != "" {
		u += query(url.Values{"type": {entityType}})
	}
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func wsPath(ws string, elems ...string) string {
	var sb strings.Builder
	sb.WriteString("/workspaces/")
	sb.WriteString(url.PathEscape(ws))
	for _, e := range elems {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(e))
	}
	return sb.String()
}

func query(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func protocolHeader(p entity.Protocol) http.Header {
	if p == "" {
		return nil
	}
	return http.Header{admin.ProtocolHeader: {string(p)}}
}

// do sends a request. body is marshalled unless it is already raw JSON; a
// non-nil out receives the decoded response.
func (c *AdminClient) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		rd = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{
			Code:    CodeConnection,
			Message: fmt.Sprintf("cannot connect to admin API at %s: %v", c.baseURL, err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return parseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var e store.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Code: e.Error, Message: e.Message, Hint: e.Hint}
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       "unknown_error",
		Message:    fmt.Sprintf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
	}
}

// FormatError renders err for the terminal, with suggestions for the
// failures users hit most.
func FormatError(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return "Error: " + err.Error()
	}
	switch {
	case apiErr.Code == CodeConnection:
		return fmt.Sprintf(`Error: %s

Suggestions:
  • Start the server: vbackend serve
  • Check --admin-url or VBACKEND_ADMIN_URL`, apiErr.Message)
	case apiErr.Hint != "":
		return fmt.Sprintf("Error: %s\n\n%s", apiErr.Message, apiErr.Hint)
	}
	return "Error: " + apiErr.Message
}
