package admin

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/getmockd/vbackend/pkg/consistency"
)

// eventBuffer is how many events a slow feed client may fall behind
// before it is disconnected.
const eventBuffer = 256

const eventWriteTimeout = 5 * time.Second

// handleEvents streams the workspace's committed changes as JSON text
// messages. ?type= limits the feed to one entity type; restores are always
// sent. A client that cannot keep up is closed with StatusTryAgainLater
// rather than silently missing events.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := a.workspace(r)
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	entityType := r.URL.Query().Get("type")

	events := make(chan consistency.ChangeEvent, eventBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	unsubscribe := ws.Tracker().Subscribe(func(ev consistency.ChangeEvent) {
		if entityType != "" && ev.Operation != consistency.OpRestore && ev.Key.Type != entityType {
			return
		}
		select {
		case events <- ev:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	// Subscribed before the handshake completes, so every change committed
	// after the client sees the upgrade is delivered.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: a.corsOrigins,
	})
	if err != nil {
		a.log.Debug("event feed upgrade failed", "workspace", ws.ID, "error", err)
		return
	}
	defer conn.CloseNow()

	a.log.Debug("event feed opened", "workspace", ws.ID, "type", entityType)
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-overflow:
			conn.Close(websocket.StatusTryAgainLater, "event feed fell behind")
			return
		case ev := <-events:
			if err := writeEvent(ctx, conn, ev); err != nil {
				a.log.Debug("event feed closed", "workspace", ws.ID, "error", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev consistency.ChangeEvent) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
