package http

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	monitoringapp "solar-fleet/internal/monitoring/application"
	monitoring "solar-fleet/internal/monitoring/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	clientBuffer   = 8
)

// SnapshotSummary is the websocket message sent after each pass.
type SnapshotSummary struct {
	Type        string                    `json:"type"`
	PassID      string                    `json:"pass_id"`
	Mode        monitoringapp.RefreshMode `json:"mode"`
	CollectedAt time.Time                 `json:"collected_at"`
	Stats       monitoringapp.Stats       `json:"stats"`
	Alerts      []monitoring.Alert        `json:"alerts"`
	Error       string                    `json:"error,omitempty"`
}

// SnapshotHub broadcasts snapshot summaries to websocket clients.
type SnapshotHub struct {
	mu       sync.Mutex
	clients  map[*hubClient]struct{}
	upgrader websocket.Upgrader
	logger   *log.Logger
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewSnapshotHub constructs a hub.
func NewSnapshotHub(logger *log.Logger) *SnapshotHub {
	return &SnapshotHub{
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Publish implements SnapshotListener.
func (h *SnapshotHub) Publish(snap *monitoringapp.Snapshot) {
	if h == nil || snap == nil {
		return
	}
	payload, err := json.Marshal(summarize(snap))
	if err != nil {
		h.logf("fleet ws marshal failed: pass=%s err=%v", snap.PassID, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			delete(h.clients, client)
			close(client.send)
			h.logf("fleet ws client dropped: remote=%s reason=slow", client.conn.RemoteAddr())
		}
	}
}

// Clients returns the number of connected clients.
func (h *SnapshotHub) Clients() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams summaries until the peer leaves.
// The latest snapshot, when present, is sent first.
func (h *SnapshotHub) ServeWS(w http.ResponseWriter, r *http.Request, latest *monitoringapp.Snapshot) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("fleet ws upgrade failed: err=%v", err)
		return
	}
	client := &hubClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if latest != nil {
		if payload, err := json.Marshal(summarize(latest)); err == nil {
			client.send <- payload
		}
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	h.readPump(client)
}

func (h *SnapshotHub) remove(client *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// readPump drains control frames so pongs are processed.
func (h *SnapshotHub) readPump(client *hubClient) {
	defer func() {
		h.remove(client)
		client.conn.Close()
	}()
	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logf("fleet ws read failed: remote=%s err=%v", client.conn.RemoteAddr(), err)
			}
			return
		}
	}
}

func (h *SnapshotHub) writePump(client *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *SnapshotHub) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

func summarize(snap *monitoringapp.Snapshot) SnapshotSummary {
	return SnapshotSummary{
		Type:        "snapshot",
		PassID:      snap.PassID,
		Mode:        snap.Mode,
		CollectedAt: snap.CollectedAt,
		Stats:       snap.Stats,
		Alerts:      snap.Alerts,
		Error:       snap.Error,
	}
}
