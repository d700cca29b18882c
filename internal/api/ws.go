package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quorumhq/quorum/internal/registry"
)

const maxClientMessageBytes = 64 * 1024

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// handleInteractWS admits a live conversation channel. Admission is checked
// with the x-signature / x-payload query parameters before the upgrade,
// because browser WebSocket clients cannot set custom headers. After the
// upgrade the connection is write-only from the hub's perspective; the read
// loop exists to detect the peer going away.
func (s *Server) handleInteractWS(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	if err := s.verifier.VerifyQuery(r); err != nil {
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "chat_id", chatID, "error", err)
		return
	}
	defer func() { _ = ws.Close() }()

	ws.SetReadLimit(maxClientMessageBytes)

	s.registry.Add(chatID, registry.NewConn(ws))
	s.logger.Info("conversation channel connected", "chat_id", chatID)

	defer func() {
		// Remove is last-writer-wins: if a replacement connection already
		// took the slot, this deletes its entry too and the conversation
		// degrades to persist-only until the client reconnects.
		s.registry.Remove(chatID)
		s.logger.Info("conversation channel disconnected", "chat_id", chatID)
	}()

	// Drain inbound frames. Queries arrive over the REST route, not here, so
	// anything the client sends is ignored.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
