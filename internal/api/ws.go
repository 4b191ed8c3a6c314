package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/foyerhq/foyer/internal/discovery"
)

// wsWriteTimeout bounds each outbound frame. A stuck client should not
// pin a handler goroutine forever.
const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server fronts a chat widget on the same device or LAN; origin
	// enforcement belongs to whatever reverse proxy sits in front.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is one inbound frame. The first frame may carry a
// conversation_id to resume a session; otherwise the server assigns one
// and echoes it in every response.
type wsMessage struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// wsError is sent for malformed frames; the connection stays open.
type wsError struct {
	Error string `json:"error"`
}

// handleWS runs a discovery dialogue over a WebSocket, one session per
// connection. Each visitor frame gets one verdict frame back, and the
// connection closes normally once the session reaches a terminal stage.
// GET /v1/discovery/ws
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var conversationID string
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "conversation", conversationID, "error", err)
			}
			return
		}
		if msg.Message == "" {
			s.writeWS(conn, wsError{Error: "message is required"})
			continue
		}

		// The session is pinned to the first frame's id (or the first
		// assigned one); later frames cannot hop conversations.
		if conversationID == "" {
			conversationID = msg.ConversationID
		}

		resp, err := s.runTurn(r.Context(), conversationID, msg.Message)
		if err != nil {
			s.logger.Error("websocket turn failed", "conversation", conversationID, "error", err)
			s.writeWS(conn, wsError{Error: "turn failed"})
			continue
		}
		conversationID = resp.ConversationID

		if !s.writeWS(conn, resp) {
			return
		}

		if discovery.Stage(resp.Stage).Terminal() {
			deadline := time.Now().Add(wsWriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(resp.Action)),
				deadline)
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}
