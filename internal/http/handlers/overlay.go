package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmylchreest/tvplay/internal/observability"
	"github.com/jmylchreest/tvplay/internal/overlay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	overlayBuffer = 4
)

// OverlaySource publishes overlay states. *overlay.Coordinator implements it.
type OverlaySource interface {
	Subscribe(buffer int) (<-chan overlay.State, func())
}

// OverlayStream pushes every overlay state to websocket clients as JSON,
// starting with the current one.
type OverlayStream struct {
	source   OverlaySource
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewOverlayStream creates the websocket handler. checkOrigin may be nil to
// use the same-origin check.
func NewOverlayStream(source OverlaySource, checkOrigin func(*http.Request) bool, logger *slog.Logger) *OverlayStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverlayStream{
		source:   source,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger,
	}
}

// ServeHTTP upgrades the connection and streams until the client goes away
// or the overlay closes.
func (s *OverlayStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("overlay websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	logger := s.logger.With(slog.String("remote_addr", r.RemoteAddr))
	if id := observability.RequestIDFromContext(r.Context()); id != "" {
		logger = observability.WithRequestID(logger, id)
	}
	logger.Debug("overlay client connected")

	states, unsubscribe := s.source.Subscribe(overlayBuffer)
	done := make(chan struct{})

	go s.readPump(conn, done)
	s.writePump(conn, states, done, logger)

	unsubscribe()
	logger.Debug("overlay client disconnected")
}

// readPump discards client messages and signals done when the client closes.
func (s *OverlayStream) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *OverlayStream) writePump(conn *websocket.Conn, states <-chan overlay.State, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case st, ok := <-states:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "player released"))
				return
			}
			if err := conn.WriteJSON(OverlayFromState(st)); err != nil {
				logger.Debug("overlay write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
