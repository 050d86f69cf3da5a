package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"project-downlink/internal/engine"
	"project-downlink/internal/registry"
	"project-downlink/internal/security"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event types
const (
	EventDownloadStarted     = "download_started"
	EventDownloadProgress    = "download_progress"
	EventDownloadPaused      = "download_paused"
	EventDownloadResumed     = "download_resumed"
	EventDownloadRetried     = "download_retried"
	EventDownloadCancelled   = "download_cancelled"
	EventDownloadFinished    = "download_finished"
	EventDownloadFailed      = "download_failed"
	EventDownloadInterrupted = "download_interrupted"
	EventAudit               = "audit"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Event is one message on the event stream
type Event struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// DownloadEvent is the payload of every download_* event
type DownloadEvent struct {
	Download registry.Model `json:"download"`
	Index    *int           `json:"index,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans events out to connected websocket clients. Run must be running for
// clients to register.
type Hub struct {
	logger     *slog.Logger
	clients    map[string]*client
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It disconnects every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for id, c := range h.clients {
			close(c.send)
			delete(h.clients, id)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()

		case c := <-h.unregister:
			h.drop(c)

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- message:
				default:
					// slow consumer
					close(c.send)
					delete(h.clients, id)
					h.logger.Warn("Dropping slow event client", "client", id)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

// Emit broadcasts an event to all connected clients. Events are dropped when
// the broadcast buffer is full.
func (h *Hub) Emit(eventType string, data any) {
	bytes, err := json.Marshal(Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.logger.Warn("Failed to encode event", "type", eventType, "error", err)
		return
	}

	select {
	case h.broadcast <- bytes:
	default:
	}
}

// EmitAudit forwards audit entries to the stream.
func (h *Hub) EmitAudit(entry security.AccessLogEntry) {
	h.Emit(EventAudit, entry)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the security middleware already restricts callers to loopback
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request and streams events until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; clients do not send commands over
// the stream.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("Event client closed", "client", c.id, "error", err)
			}
			return
		}
	}
}

// Events publishes download lifecycle events to a Hub.
type Events struct {
	hub *Hub
}

var _ engine.Observer = (*Events)(nil)

func NewEvents(hub *Hub) *Events {
	return &Events{hub: hub}
}

func (e *Events) emit(eventType string, m registry.Model) {
	e.hub.Emit(eventType, DownloadEvent{Download: m})
}

func (e *Events) emitIndexed(eventType string, m registry.Model, index int) {
	e.hub.Emit(eventType, DownloadEvent{Download: m, Index: &index})
}

func (e *Events) OnProgressUpdated(m registry.Model) { e.emit(EventDownloadProgress, m) }

func (e *Events) OnInterruptedTasksPopulated(m registry.Model) {
	e.emit(EventDownloadInterrupted, m)
}

func (e *Events) OnStarted(m registry.Model, index int) {
	e.emitIndexed(EventDownloadStarted, m, index)
}

func (e *Events) OnPaused(m registry.Model)    { e.emit(EventDownloadPaused, m) }
func (e *Events) OnResumed(m registry.Model)   { e.emit(EventDownloadResumed, m) }
func (e *Events) OnCancelled(m registry.Model) { e.emit(EventDownloadCancelled, m) }
func (e *Events) OnFinished(m registry.Model)  { e.emit(EventDownloadFinished, m) }

func (e *Events) OnRetried(m registry.Model, index int) {
	e.emitIndexed(EventDownloadRetried, m, index)
}

func (e *Events) OnFailed(m registry.Model, err error) {
	event := DownloadEvent{Download: m}
	if err != nil {
		event.Error = err.Error()
	}
	e.hub.Emit(EventDownloadFailed, event)
}
