package playermodule

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/juniorrony/torrenstream-sub000/internal/events"
	"github.com/juniorrony/torrenstream-sub000/internal/modules/streamingmodule"
)

const (
	observerWriteWait  = 10 * time.Second
	observerPingPeriod = 30 * time.Second
)

// observerSnapshot is one push to a connected observer: the event that
// triggered it plus the current timeline and session indicators.
type observerSnapshot struct {
	Event    string                            `json:"event"`
	State    *PlaybackState                    `json:"state"`
	Session  *streamingmodule.StreamingSession `json:"session,omitempty"`
	SentAtMs int64                             `json:"sent_at_ms"`
}

// Observer streams playback state to the presentation layer over a
// websocket. Read-only: observers never mutate playback state.
type Observer struct {
	controller *Controller
	sessions   *streamingmodule.Manager
	eventBus   events.EventBus
	logger     hclog.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan observerSnapshot
}

// NewObserver creates a playback state observer.
func NewObserver(controller *Controller, sessions *streamingmodule.Manager, eventBus events.EventBus, logger hclog.Logger) *Observer {
	return &Observer{
		controller: controller,
		sessions:   sessions,
		eventBus:   eventBus,
		logger:     logger.Named("observer"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The presentation layer may be served from another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan observerSnapshot),
	}
}

// Start subscribes the observer to playback and session events.
func (o *Observer) Start(ctx context.Context) error {
	if o.eventBus == nil {
		return nil
	}
	_, err := o.eventBus.Subscribe(ctx, events.EventFilter{
		Sources: []string{"controller", "session-manager", "sync-engine"},
	}, func(event events.Event) error {
		o.broadcast(string(event.Type))
		return nil
	})
	return err
}

// HandleWebSocket upgrades the connection and streams state snapshots
// until the client disconnects.
func (o *Observer) HandleWebSocket(c *gin.Context) {
	conn, err := o.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		o.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	send := make(chan observerSnapshot, 16)
	o.mu.Lock()
	o.clients[conn] = send
	o.mu.Unlock()

	o.logger.Debug("observer connected", "remote", conn.RemoteAddr().String())

	// Initial snapshot so the client renders current state immediately.
	send <- o.snapshot("connected")

	go o.writeLoop(conn, send)
	o.readLoop(conn)
}

func (o *Observer) snapshot(trigger string) observerSnapshot {
	return observerSnapshot{
		Event:    trigger,
		State:    o.controller.State(),
		Session:  o.sessions.Current(),
		SentAtMs: time.Now().UnixMilli(),
	}
}

// broadcast queues a fresh snapshot for every connected client. A client
// whose buffer is full skips this push; the next one catches it up.
func (o *Observer) broadcast(trigger string) {
	snap := o.snapshot(trigger)

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, send := range o.clients {
		select {
		case send <- snap:
		default:
		}
	}
}

func (o *Observer) writeLoop(conn *websocket.Conn, send chan observerSnapshot) {
	ticker := time.NewTicker(observerPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(observerWriteWait))
			if err := conn.WriteJSON(snap); err != nil {
				o.drop(conn)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(observerWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.drop(conn)
				return
			}
		}
	}
}

// readLoop discards inbound messages and detects disconnects.
func (o *Observer) readLoop(conn *websocket.Conn) {
	defer o.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (o *Observer) drop(conn *websocket.Conn) {
	o.mu.Lock()
	if send, ok := o.clients[conn]; ok {
		delete(o.clients, conn)
		close(send)
	}
	o.mu.Unlock()
	conn.Close()
}
