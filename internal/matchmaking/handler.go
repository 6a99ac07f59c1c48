package matchmaking

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/clashcode/arena/pkg/realtime"
)

// Handler upgrades /ws/queue connections and speaks the join/leave protocol.
type Handler struct {
	controller *Controller
	hub        *realtime.Hub
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewHandler builds the queue WebSocket handler.
func NewHandler(controller *Controller, hub *realtime.Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		controller: controller,
		hub:        hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "queue_ws").Logger(),
	}
}

// ServeHTTP expects a userId query parameter identifying the connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	conn := realtime.NewConnection(wsConn, h.logger.With().Str("user_id", userID).Logger())
	h.hub.Register(userID, conn)
	go conn.WritePump()

	conn.ReadPump(func(msg realtime.Message) error {
		switch msg.Type {
		case realtime.TypeJoin:
			var p realtime.JoinPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				return nil
			}
			if err := h.controller.Join(r.Context(), userID, p.Rating); err != nil {
				h.sendJoinError(userID, err)
			}
		case realtime.TypeLeave:
			if err := h.controller.Leave(r.Context(), userID); err != nil {
				h.logger.Warn().Err(err).Msg("leave failed")
			}
		}
		return nil
	})

	// A dropped connection counts as leaving the queue.
	if err := h.controller.Leave(r.Context(), userID); err != nil {
		h.logger.Debug().Err(err).Msg("disconnect dequeue failed")
	}
	h.hub.Unregister(userID)
}

func (h *Handler) sendJoinError(userID string, err error) {
	switch {
	case errors.Is(err, ErrAlreadyInMatch):
		// The redirect frame was already delivered by the controller.
	case errors.Is(err, ErrDuplicateJoin):
		h.hub.Send(userID, realtime.NewMessage(realtime.TypeError, realtime.ErrorPayload{
			Code:    "duplicate_join",
			Message: "Already being matched",
		}))
	default:
		h.hub.Send(userID, realtime.NewMessage(realtime.TypeError, realtime.ErrorPayload{
			Code:    "join_failed",
			Message: "Could not join the queue",
		}))
	}
}
