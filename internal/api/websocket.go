package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ShayCichocki/orchestra/internal/orchestrator"
	"github.com/ShayCichocki/orchestra/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// message is the envelope written to websocket clients.
type message struct {
	Type string              `json:"type"`
	Data *orchestrator.Event `json:"data,omitempty"`
}

// EventGateway streams engine events to websocket clients.
type EventGateway struct {
	events  *orchestrator.EventEmitter
	log     *logging.Logger
	metrics *Metrics
}

// NewEventGateway creates a gateway over the engine's emitter.
func NewEventGateway(events *orchestrator.EventEmitter, log *logging.Logger, metrics *Metrics) *EventGateway {
	return &EventGateway{events: events, log: log, metrics: metrics}
}

// HandleWebSocket upgrades the connection and forwards events until either
// side goes away. ?plan_id= restricts the stream to one plan; agent events
// are always forwarded.
//
// Client messages:
//
//	{"type": "ping"} -> {"type": "pong"}
func (g *EventGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	planID := r.URL.Query().Get("plan_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	g.metrics.WSConnectionsActive.Inc()
	defer g.metrics.WSConnectionsActive.Dec()

	events, unsubscribe := g.events.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	pongs := make(chan struct{}, 1)
	go g.readPump(conn, cancel, pongs)

	g.log.Debug("websocket client connected", "plan_id", planID)
	g.writePump(ctx, conn, events, pongs, planID)
}

// readPump handles client messages. It cancels ctx when the client disconnects.
func (g *EventGateway) readPump(conn *websocket.Conn, cancel context.CancelFunc, pongs chan<- struct{}) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.WithError(err).Debug("websocket read error")
			}
			return
		}
		g.metrics.WSMessagesTotal.WithLabelValues("in", "message").Inc()

		var req message
		if json.Unmarshal(msg, &req) == nil && req.Type == "ping" {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

// writePump is the only writer on conn.
func (g *EventGateway) writePump(ctx context.Context, conn *websocket.Conn, events <-chan orchestrator.Event, pongs <-chan struct{}, planID string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine closed"), time.Now().Add(writeWait))
				return
			}
			if planID != "" && ev.PlanID != "" && ev.PlanID != planID {
				continue
			}
			if !g.write(conn, message{Type: "event", Data: &ev}) {
				return
			}
		case <-pongs:
			if !g.write(conn, message{Type: "pong"}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *EventGateway) write(conn *websocket.Conn, msg message) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		g.log.WithError(err).Debug("websocket write failed")
		return false
	}
	g.metrics.WSMessagesTotal.WithLabelValues("out", msg.Type).Inc()
	return true
}
