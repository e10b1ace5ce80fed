package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/meshwork-labs/meshd/internal/logging"
	"github.com/meshwork-labs/meshd/internal/mesh"
)

const (
	clientBuffer  = 64
	writeDeadline = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventHub fans the mesh's single event tap out to every connected
// WebSocket client. A client whose buffer fills is dropped; the stream
// favors liveness over completeness.
type eventHub struct {
	log *logging.Logger

	mu      sync.Mutex
	clients map[chan mesh.Event]struct{}
}

func newEventHub(log *logging.Logger) *eventHub {
	h := &eventHub{clients: make(map[chan mesh.Event]struct{})}
	if log != nil {
		h.log = log.Named("stream")
	}
	return h
}

func (h *eventHub) run(ctx context.Context, events <-chan mesh.Event) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-events:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(ctx, ev)
		}
	}
}

func (h *eventHub) broadcast(ctx context.Context, ev mesh.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// Slow consumer; closing the channel ends its writer.
			delete(h.clients, ch)
			close(ch)
			if h.log != nil {
				h.log.Warn(ctx, "dropping slow stream consumer")
			}
		}
	}
}

func (h *eventHub) subscribe() chan mesh.Event {
	ch := make(chan mesh.Event, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(ch chan mesh.Event) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// handleStream upgrades the connection and streams mesh events as
// JSON until the client disconnects or falls behind.
func (s *Server) handleStream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch := s.hub.subscribe()
	defer s.hub.unsubscribe(ch)

	// Drain reads so close frames and pings are processed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readDone:
			return nil
		case ev, ok := <-ch:
			if !ok {
				// Dropped as a slow consumer or hub shutdown.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream closed"),
					time.Now().Add(writeDeadline))
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(ev); err != nil {
				if s.hub.log != nil {
					s.hub.log.Debug(c.Request().Context(), "stream write failed", zap.Error(err))
				}
				return nil
			}
		}
	}
}
