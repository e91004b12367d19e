// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/newskylabs/kkrdata/pkg/datacache"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The API is read-mostly and binds to localhost by default.
		return true
	},
}

// Message types on the feed.
const (
	MsgInit      = "init"
	MsgJobUpdate = "job_update"
	MsgEvent     = "event"
)

// WSMessage represents a message sent over WebSocket.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// InitState is the payload of the first message a client receives.
type InitState struct {
	Jobs      []Job                      `json:"jobs"`
	Resources []datacache.ResourceStatus `json:"resources"`
	Version   string                     `json:"version"`
}

// Subscription selects what a client receives. The zero value receives
// everything except byte-level download progress.
//
// Clients set it with query parameters on connect
// (/api/ws?resource=font,train&progress=true) and may replace it later by
// sending a Subscription as a JSON text frame.
type Subscription struct {
	// Resources limits job updates and events to these resources. Empty
	// means all resources.
	Resources []string `json:"resources,omitempty"`

	// Progress enables download_progress events.
	Progress bool `json:"progress"`
}

func (s Subscription) accepts(o outbound) bool {
	if o.event == datacache.EventDownloadProgress && !s.Progress {
		return false
	}
	if len(s.Resources) == 0 || o.resource == "" {
		return true
	}
	for _, r := range s.Resources {
		if r == o.resource {
			return true
		}
	}
	return false
}

func subscriptionFromQuery(r *http.Request) Subscription {
	q := r.URL.Query()
	var sub Subscription
	for _, v := range q["resource"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				sub.Resources = append(sub.Resources, name)
			}
		}
	}
	sub.Progress, _ = strconv.ParseBool(q.Get("progress"))
	return sub
}

// outbound is an encoded message plus the fields clients filter on.
type outbound struct {
	resource string
	event    string
	data     []byte
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub

	mu  sync.Mutex
	sub Subscription
}

func (c *WSClient) subscription() Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

func (c *WSClient) subscribe(sub Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

// WSHub fans job updates and resolver events out to subscribed clients.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan outbound
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
	logger     *log.Logger
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *log.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		logger:     logger,
	}
}

// Run starts the hub's main loop.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "clients", n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.subscription().accepts(msg) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					if msg.event == datacache.EventDownloadProgress {
						// a slow reader only misses intermediate byte counts
						continue
					}
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *WSHub) publish(msgType, resource, event string, data any) {
	jsonData, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("websocket marshal failed", "type", msgType, "err", err)
		return
	}

	select {
	case h.broadcast <- outbound{resource: resource, event: event, data: jsonData}:
	default:
		h.logger.Debug("websocket broadcast channel full, dropping message", "type", msgType, "event", event)
	}
}

// BroadcastJob sends a job update to clients subscribed to its resource.
func (h *WSHub) BroadcastJob(job Job) {
	h.publish(MsgJobUpdate, job.Resource, "", job)
}

// BroadcastEvent sends a resolver progress event to clients subscribed to
// its resource.
func (h *WSHub) BroadcastEvent(ev datacache.ProgressEvent) {
	h.publish(MsgEvent, ev.Resource, ev.Event, ev)
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the connection, queues the initial state and
// registers the client with the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sub := subscriptionFromQuery(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := &WSClient{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  s.wsHub,
		sub:  sub,
	}

	// queued before registering so it is always the first frame
	if data, err := json.Marshal(WSMessage{Type: MsgInit, Data: s.initialState(sub)}); err == nil {
		client.send <- data
	}
	s.wsHub.register <- client

	go client.writePump()
	go client.readPump()
}

// initialState collects the jobs and resource states visible to sub.
func (s *Server) initialState(sub Subscription) InitState {
	state := InitState{Jobs: []Job{}, Resources: []datacache.ResourceStatus{}, Version: s.config.Version}
	for _, j := range s.jobs.ListJobs() {
		if sub.accepts(outbound{resource: j.Resource}) {
			state.Jobs = append(state.Jobs, j)
		}
	}
	resources, err := s.resolver.StatusAll()
	if err != nil {
		s.logger.Warn("resource status failed", "err", err)
	}
	for _, st := range resources {
		if sub.accepts(outbound{resource: st.Name}) {
			state.Resources = append(state.Resources, st)
		}
	}
	return state
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump applies subscription frames sent by the client and unregisters
// it when the connection goes away.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", "err", err)
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(data, &sub); err != nil {
			c.hub.logger.Debug("ignoring websocket frame", "err", err)
			continue
		}
		c.subscribe(sub)
	}
}
