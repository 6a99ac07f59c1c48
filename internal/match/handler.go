package match

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/clashcode/arena/pkg/realtime"
)

// Handler upgrades /ws/matches connections and bridges them to the session
// owning the requested match.
type Handler struct {
	registry *Registry
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler builds the session WebSocket handler.
func NewHandler(registry *Registry, hub *realtime.Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "match_ws").Logger(),
	}
}

// ServeHTTP expects userId and matchId query parameters.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	matchID := r.URL.Query().Get("matchId")
	if userID == "" || matchID == "" {
		http.Error(w, "userId and matchId are required", http.StatusBadRequest)
		return
	}

	session, ok := h.registry.Get(matchID)
	if !ok {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	conn := realtime.NewConnection(wsConn, h.logger.With().Str("user_id", userID).Logger())
	h.hub.Register(userID, conn)
	h.hub.JoinRoom(session.RoomID(), userID)
	go conn.WritePump()

	h.sendInit(userID, session)

	conn.ReadPump(func(msg realtime.Message) error {
		session.HandleMessage(r.Context(), userID, msg)
		return nil
	})

	h.hub.LeaveRoom(session.RoomID(), userID)
	h.hub.Unregister(userID)
}

// sendInit replays the current blob state so reconnects resume mid-match.
func (h *Handler) sendInit(userID string, session *Session) {
	doc, err := session.coord.Match(context.Background(), session.matchID)
	if err != nil || doc == nil {
		return
	}
	players := make([]realtime.PlayerInfo, 0, len(doc.Players))
	for id, meta := range doc.Players {
		players = append(players, realtime.PlayerInfo{UserID: id, Username: meta.Username, Rating: meta.Rating})
	}
	problemJSON, _ := json.Marshal(doc.Problem)
	h.hub.Send(userID, realtime.NewMessage(realtime.TypeMatchInit, realtime.MatchInitPayload{
		MatchID:   session.matchID,
		ProblemID: doc.ProblemID,
		Problem:   problemJSON,
		StartedAt: doc.StartedAt,
		Players:   players,
	}))
}
