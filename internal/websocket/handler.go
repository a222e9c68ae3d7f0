package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"larder/internal/auth"
	"larder/internal/sync"
)

// HandleWebSocket returns an HTTP handler that upgrades connections to
// WebSocket and runs them as Hub clients scoped to the authenticated user's
// data scope. Each connection holds a reference on the scope's mirror so
// the cache stays warm for as long as anyone is connected.
func HandleWebSocket(hub *Hub, mirrors *sync.Manager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scopeID := auth.ScopeID(r.Context())

		if _, err := mirrors.Acquire(scopeID); err != nil {
			logger.Error("acquire mirror", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer mirrors.Release(scopeID)

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // API is bearer-token gated, not origin gated
		})
		if err != nil {
			logger.Error("websocket accept", "error", err)
			return
		}

		client := NewClient(hub, conn, scopeID)
		client.Run(r.Context())
	}
}
