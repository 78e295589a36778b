package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/subtracker/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Message is a websocket frame sent to clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Message types.
const (
	MsgSnapshot = "snapshot"
	MsgChange   = "change"
	MsgResync   = "resync"
	MsgPong     = "pong"
)

// HubConfig wires the hub to its collaborators.
type HubConfig struct {
	// AllowedOrigins are wildcard patterns matched against the Origin host
	// and the full Origin value. Empty allows same-host requests only.
	AllowedOrigins []string
	// Owner resolves the authenticated owner of a request. An empty result
	// rejects the upgrade.
	Owner func(r *http.Request) string
	// Snapshot builds the full state sent on connect and after a lag.
	Snapshot func(ctx context.Context, ownerID string) (any, error)
	// OnChange is called for every change delivered to a client and may push
	// derived messages.
	OnChange func(ctx context.Context, ownerID string, c Change, send func(Message))
	// Attach, when set, is called once per connection and returns hooks
	// scoped to that connection.
	Attach func(ownerID string, send func(Message)) ClientHooks
}

// ClientHooks are per-connection callbacks. Detach runs once after the
// connection closes.
type ClientHooks struct {
	OnChange func(ctx context.Context, c Change)
	Detach   func()
}

// Hub streams an owner's changes to connected websocket clients.
type Hub struct {
	broker   *Broker
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	hub   *Hub
	conn  *websocket.Conn
	id    string
	owner string
	sub   *Subscription
	send  chan Message
	done  chan struct{}
	once  sync.Once
	hooks ClientHooks
}

// NewHub creates a hub over broker.
func NewHub(broker *Broker, cfg HubConfig) *Hub {
	h := &Hub{
		broker:  broker,
		cfg:     cfg,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     h.CheckOrigin,
	}
	return h
}

// CheckOrigin accepts requests without an Origin header, same-host origins,
// and origins matching a configured pattern.
func (h *Hub) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, pattern := range h.cfg.AllowedOrigins {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if wildcard.Match(pattern, origin) || wildcard.Match(pattern, u.Host) || wildcard.Match(pattern, u.Hostname()) {
			return true
		}
	}
	log.Warn().Str("origin", origin).Str("host", r.Host).Msg("Rejected websocket origin")
	return false
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and starts streaming.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner := ""
	if h.cfg.Owner != nil {
		owner = h.cfg.Owner(r)
	}
	if owner == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		id:    uuid.NewString(),
		owner: owner,
		sub:   h.broker.Subscribe(Filter{OwnerID: owner}),
		send:  make(chan Message, sendBuffer),
		done:  make(chan struct{}),
	}
	if h.cfg.Attach != nil {
		c.hooks = h.cfg.Attach(owner, c.queue)
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeClients.Inc()
	log.Info().Str("client", c.id).Str("owner", owner).Msg("Websocket client connected")

	c.queueSnapshot(r.Context(), MsgSnapshot)
	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		h.broker.Unsubscribe(c.sub)
		close(c.done)
		_ = c.conn.Close()
		metrics.RealtimeClients.Dec()
		if c.hooks.Detach != nil {
			c.hooks.Detach()
		}
		log.Info().Str("client", c.id).Msg("Websocket client disconnected")
	})
}

func (c *client) queue(msg Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		log.Warn().Str("client", c.id).Str("type", msg.Type).Msg("Websocket send buffer full, dropping message")
	}
}

func (c *client) queueSnapshot(ctx context.Context, kind string) {
	if c.hub.cfg.Snapshot == nil {
		return
	}
	state, err := c.hub.cfg.Snapshot(context.WithoutCancel(ctx), c.owner)
	if err != nil {
		log.Error().Err(err).Str("client", c.id).Msg("Failed to build websocket snapshot")
		return
	}
	c.queue(Message{Type: kind, Data: state})
}

func (c *client) readPump() {
	defer c.hub.remove(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("Websocket read error")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("Ignoring malformed websocket message")
			continue
		}
		switch msg.Type {
		case "ping":
			c.queue(Message{Type: MsgPong, Data: map[string]int64{"timestamp": time.Now().Unix()}})
		case "resync":
			c.queueSnapshot(context.Background(), MsgResync)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.hub.remove(c)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-c.done:
			return
		case change, ok := <-c.sub.C:
			if !ok {
				return
			}
			if err := c.write(Message{Type: MsgChange, Data: change}); err != nil {
				return
			}
			if c.hub.cfg.OnChange != nil {
				c.hub.cfg.OnChange(ctx, c.owner, change, c.queue)
			}
			if c.hooks.OnChange != nil {
				c.hooks.OnChange(ctx, change)
			}
			if c.sub.Lagged() {
				c.sub.ClearLag()
				c.queueSnapshot(ctx, MsgResync)
			}
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) write(msg Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Debug().Err(err).Str("client", c.id).Msg("Websocket write failed")
		return err
	}
	return nil
}
