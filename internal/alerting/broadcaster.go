package alerting

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"assetsense/internal/model"
)

const writeDeadline = 5 * time.Second

// Broadcaster fans alert events out to the currently connected WebSocket
// subscribers. Delivery is best effort, at most once: subscribers that
// fail a write are dropped on that broadcast pass, and there is no replay
// for late joiners.
type Broadcaster struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mu       sync.Mutex
	subs     map[*websocket.Conn]struct{}
	gauge    prometheus.Gauge
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[*websocket.Conn]struct{}),
	}
}

// SetSubscriberGauge attaches an optional gauge tracking the live
// subscriber count. Call before serving traffic.
func (b *Broadcaster) SetSubscriberGauge(g prometheus.Gauge) {
	b.gauge = g
}

func (b *Broadcaster) updateGauge() {
	if b.gauge != nil {
		b.gauge.Set(float64(len(b.subs)))
	}
}

// Handler upgrades the request and registers the connection. The read
// loop exists only to notice the peer going away.
func (b *Broadcaster) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("websocket upgrade failed", "err", err)
		}
		return
	}
	b.Subscribe(conn)
	go func() {
		defer func() {
			b.Unsubscribe(conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Broadcaster) Subscribe(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	b.mu.Lock()
	b.subs[conn] = struct{}{}
	count := len(b.subs)
	b.updateGauge()
	b.mu.Unlock()
	if b.logger != nil {
		b.logger.Info("alert subscriber connected", "remote", conn.RemoteAddr().String(), "subscribers", count)
	}
}

func (b *Broadcaster) Unsubscribe(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, conn)
	b.updateGauge()
	b.mu.Unlock()
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Broadcast serializes the event once and writes it to every subscriber.
// Failed writes prune the subscriber without failing the pass for the
// rest.
func (b *Broadcaster) Broadcast(event model.AlertEvent) {
	payload, err := json.Marshal(map[string]any{
		"type": "sensor_alert",
		"data": event,
	})
	if err != nil {
		if b.logger != nil {
			b.logger.Error("alert marshal failed", "err", err)
		}
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.subs {
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			if b.logger != nil {
				b.logger.Warn("dropping dead alert subscriber", "remote", conn.RemoteAddr().String(), "err", err)
			}
			delete(b.subs, conn)
			_ = conn.Close()
		}
	}
	b.updateGauge()
}

func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.subs {
		_ = conn.Close()
		delete(b.subs, conn)
	}
	b.updateGauge()
}
