// Package realtime serves websocket clients: it pushes attendance events to
// them and accepts the attendance data they collected offline.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"rollcall/internal/broadcast"
	"rollcall/internal/logs"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
)

// Inbound and control event names.
const (
	EventConnectionStatus = "connectionStatus"
	EventAttendanceData   = "attendanceData"
)

// Syncer accepts attendance pushed by clients.
type Syncer interface {
	SyncExternalAttendance(ctx context.Context, records []roster.Entry) ([]string, error)
}

// Message is the websocket frame: {"event": ..., "data": ...}.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Config struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	SyncTimeout     time.Duration `yaml:"sync_timeout"`
	SendBuffer      int           `yaml:"send_buffer"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		SyncTimeout:     30 * time.Second,
		SendBuffer:      16,
		MaxMessageBytes: 1 << 20,
	}
}

// pingInterval must stay below the pong timeout.
func (c Config) pingInterval() time.Duration {
	return c.PongTimeout * 9 / 10
}

// Hub tracks connected clients. It is a broadcast.Sink and an http.Handler.
type Hub struct {
	cfg      Config
	syncer   Syncer
	logger   *logs.Logger
	metrics  *metrics.Registry
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

func NewHub(syncer Syncer, cfg Config, logger *logs.Logger, reg *metrics.Registry) *Hub {
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = def.SyncTimeout
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:     cfg,
		syncer:  syncer,
		logger:  logger,
		metrics: reg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[string]*client),
	}
}

func (h *Hub) Name() string { return "websocket" }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	// Queued before register so it is the first frame and never competes
	// with Deliver for buffer space.
	status, _ := encode(EventConnectionStatus, map[string]string{"status": "connected"})
	c.send <- status

	if !h.register(c) {
		_ = conn.Close()
		return
	}
	defer h.unregister(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.wg.Add(2) // read and write pumps
	h.metrics.Set(metrics.RealtimeClients, int64(len(h.clients)))
	h.logger.Info("client connected", "client", c.id, "remote", c.conn.RemoteAddr().String())
	return true
}

func (h *Hub) unregister(c *client) {
	c.close()
	h.mu.Lock()
	delete(h.clients, c.id)
	h.metrics.Set(metrics.RealtimeClients, int64(len(h.clients)))
	h.mu.Unlock()
	h.logger.Info("client disconnected", "client", c.id)
	h.wg.Done()
}

// Deliver queues e for every client. A client whose buffer is full is
// disconnected rather than allowed to stall the others.
func (h *Hub) Deliver(ctx context.Context, e broadcast.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := encode(string(e.Kind), e.Payload())
	if err != nil {
		return errors.Annotatef(err, "encode %s", e.Kind)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		case <-c.done:
		default:
			h.metrics.Inc(metrics.RealtimeClientsDroppedTotal)
			h.logger.Warn("dropping slow client", "client", c.id)
			c.close()
		}
	}
	return nil
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, c := range h.clients {
		c.close()
	}
	h.mu.Unlock()
	h.cancel()
	h.wg.Wait()
}

func (h *Hub) readPump(c *client) {
	conn := c.conn
	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("client read failed", "client", c.id, "err", err)
			}
			return
		}
		h.handle(c, data)
	}
}

func (h *Hub) handle(c *client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("malformed client message", "client", c.id, "err", err)
		return
	}

	switch msg.Event {
	case EventAttendanceData:
		var records []roster.Entry
		if err := json.Unmarshal(msg.Data, &records); err != nil {
			h.logger.Warn("malformed attendance data", "client", c.id, "err", err)
			return
		}
		ctx, cancel := context.WithTimeout(h.ctx, h.cfg.SyncTimeout)
		defer cancel()
		ids, err := h.syncer.SyncExternalAttendance(ctx, records)
		if err != nil {
			h.logger.Warn("attendance sync from client failed", "client", c.id, "err", err)
			return
		}
		h.logger.Info("attendance synced from client", "client", c.id, "records", len(records), "new", len(ids))
	default:
		h.logger.Debug("ignoring client event", "client", c.id, "event", msg.Event)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.pingInterval())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		h.wg.Done()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("client write failed", "client", c.id, "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// close signals the write pump, which closes the connection and in turn
// ends the read pump.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: event, Data: raw})
}
