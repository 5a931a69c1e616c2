package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"mathblitz-service/internal/app"
	"mathblitz-service/internal/domain"
)

const (
	eventPollInterval = time.Second
	pingInterval      = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// WSHandler streams a game's event log over a websocket. It is a push
// mirror of GET /api/games/{gameCode}/events: the connection tails the
// log, it never mutates game state.
type WSHandler struct {
	games    *app.GameService
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(games *app.GameService, log *logrus.Logger) *WSHandler {
	return &WSHandler{
		games: games,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type eventMessage struct {
	Type    string           `json:"type"`
	Payload domain.GameEvent `json:"payload"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	gameCode := r.URL.Query().Get("gameCode")
	if gameCode == "" {
		http.Error(w, "missing gameCode", http.StatusBadRequest)
		return
	}

	if _, err := h.games.Game(r.Context(), gameCode); err != nil {
		status := http.StatusInternalServerError
		if domain.IsNotFound(err) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan eventMessage, 16)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		pinger := time.NewTicker(pingInterval)
		defer pinger.Stop()
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-pinger.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// The read loop only notices the client going away; inbound frames
	// carry no meaning on this endpoint.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPollInterval)
	defer ticker.Stop()

	var since time.Time
	for {
		events, err := h.games.Events(r.Context(), gameCode, since)
		if err != nil {
			h.log.WithError(err).WithField("gameCode", gameCode).Warn("ws event poll failed")
		}
		for _, ev := range events {
			select {
			case send <- eventMessage{Type: string(ev.Type), Payload: ev}:
				since = ev.CreatedAt
			case <-done:
				close(send)
				<-writerDone
				return
			case <-writerDone:
				return
			}
		}

		select {
		case <-ticker.C:
		case <-done:
			close(send)
			<-writerDone
			return
		case <-writerDone:
			return
		case <-r.Context().Done():
			close(send)
			<-writerDone
			return
		}
	}
}
