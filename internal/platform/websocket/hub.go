// Package websocket streams queue board changes to connected displays. Each
// client is pinned to one tenant and follows one or more of its stages.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/tenant"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// ClientMessage lets a display switch the stages it follows.
type ClientMessage struct {
	Action string   `json:"action"`
	Stages []string `json:"stages"`
}

type Client struct {
	ID       string
	TenantID uuid.UUID
	Topics   []string
	Send     chan []byte
}

// Hub tracks clients by board topic. It implements events.Publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.add(topic, client)
	}
}

func (h *Hub) add(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) remove(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Unregister removes client and closes its Send channel. Safe to call twice.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.remove(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

// Follow replaces the stages client follows. Topics are always built from the
// client's own tenant.
func (h *Hub) Follow(client *Client, stages []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.remove(topic, client)
	}
	client.Topics = client.Topics[:0]
	for _, stage := range stages {
		topic := events.Topic(client.TenantID, stage)
		h.add(topic, client)
		client.Topics = append(client.Topics, topic)
	}
}

// Publish delivers ev to every client following its board. Slow clients
// miss events rather than block the publisher.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[ev.Topic()] {
		select {
		case client.Send <- data:
		default:
			h.logger.Debug().Str("client", client.ID).Msg("board client too slow, event dropped")
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Handler upgrades board requests to websocket connections.
type Handler struct {
	hub        *Hub
	validStage func(string) bool
	upgrader   gorillawebsocket.Upgrader
}

// NewHandler builds a handler. validStage rejects unknown stage names.
func NewHandler(hub *Hub, validStage func(string) bool, allowedOrigins []string) *Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Handler{
		hub:        hub,
		validStage: validStage,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
	}
}

// RegisterRoutes mounts GET /ws on g. g must already resolve the tenant.
func (wsh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.Connect)
}

// Connect serves GET /ws?stage=doctor&stage=billing.
func (wsh *Handler) Connect(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}

	stages := c.QueryParams()["stage"]
	if len(stages) == 0 {
		return apperr.Validation("stage is required")
	}
	for _, s := range stages {
		if !wsh.validStage(s) {
			return apperr.Validation("invalid stage %q", s)
		}
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		return nil
	}

	client := &Client{
		ID:       uuid.NewString(),
		TenantID: rc.TenantID(),
		Send:     make(chan []byte, sendBuffer),
	}
	wsh.hub.Register(client)
	wsh.hub.Follow(client, stages)

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)
	return nil
}

func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if _, ok := err.(*json.SyntaxError); ok {
				continue
			}
			return
		}
		if msg.Action != "follow" {
			continue
		}
		valid := msg.Stages[:0]
		for _, s := range msg.Stages {
			if wsh.validStage(s) {
				valid = append(valid, s)
			}
		}
		wsh.hub.Follow(client, valid)
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
