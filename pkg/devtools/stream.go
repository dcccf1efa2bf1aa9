package devtools

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/weft/pkg/surface"
	"golang.org/x/net/html"
)

// MutationMessage is sent to websocket clients for every surface mutation.
type MutationMessage struct {
	Seq    uint64 `json:"seq"`
	Op     string `json:"op"`
	Node   string `json:"node"`
	Parent string `json:"parent,omitempty"`
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
	HTML   string `json:"html,omitempty"`
}

// clientBuffer is the number of messages queued per client before it is
// dropped as too slow.
const clientBuffer = 256

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Stream fans surface mutations out to websocket clients. Observers run
// on the scheduler loop, so each client has its own writer goroutine and
// a bounded queue.
type Stream struct {
	clients  map[*client]bool
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStream creates a stream with no clients.
func NewStream(logger *slog.Logger) *Stream {
	return &Stream{
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// HandleWebSocket upgrades the connection and streams mutations until the
// client disconnects.
func (s *Stream) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	s.logger.Debug("mutation stream client connected", "remote", req.RemoteAddr)

	go s.write(c)

	// Reads only detect the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.drop(c)
}

func (s *Stream) write(c *client) {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *Stream) drop(c *client) {
	s.mu.Lock()
	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
}

// Publish converts m and queues it for every client. Clients whose queue
// is full are disconnected.
func (s *Stream) Publish(doc *surface.Document, m surface.Mutation) {
	s.mu.RLock()
	n := len(s.clients)
	s.mu.RUnlock()
	if n == 0 {
		return
	}

	msg := MutationMessage{
		Seq:    m.Seq,
		Op:     m.Op.String(),
		Node:   describe(m.Node),
		Parent: describe(m.Parent),
		Key:    m.Key,
		Value:  m.Value,
	}
	if m.Op == surface.OpInsert && m.Node != nil {
		msg.HTML = doc.OuterHTML(m.Node)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	var slow []*client
	s.mu.RLock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()
	for _, c := range slow {
		s.logger.Warn("mutation stream client too slow, dropping")
		s.drop(c)
	}
}

// ClientCount returns the number of connected clients.
func (s *Stream) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close closes all client connections.
func (s *Stream) Close() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.drop(c)
	}
}

func describe(n *html.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type {
	case html.ElementNode:
		return n.Data
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	case html.DocumentNode:
		return "#document"
	default:
		return "#node"
	}
}
