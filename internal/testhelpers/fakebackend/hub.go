package fakebackend

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type messageFrame struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	DBMessageID    string    `json:"dbMessageId,omitempty"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id,omitempty"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	FileURL        string    `json:"file_url,omitempty"`
	FileType       string    `json:"file_type,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
}

type peer struct {
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex
	rooms  map[string]bool
}

func (p *peer) write(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = p.conn.WriteJSON(frame{Event: event, Data: raw})
}

// hub relays realtime events between connected users. Rooms are keyed by the
// conversation key; users are identified by the userId query parameter.
type hub struct {
	backend  *Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}
}

func newHub(backend *Server) *hub {
	return &hub{
		backend: backend,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
	}
}

func (h *hub) serve(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	p := &peer{userID: userID, conn: conn, rooms: make(map[string]bool)}
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()

	p.write("users_online", h.online())
	h.broadcast(p, "user_status", gin.H{"userId": userID, "status": "online"})

	go h.readLoop(p)
}

func (h *hub) readLoop(p *peer) {
	defer func() {
		h.mu.Lock()
		delete(h.peers, p)
		h.mu.Unlock()
		_ = p.conn.Close()
		h.broadcast(p, "user_status", gin.H{"userId": p.userID, "status": "offline"})
	}()

	for {
		var f frame
		if err := p.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Event {
		case "join_conversation":
			var join struct {
				ConversationID string `json:"conversationId"`
			}
			if json.Unmarshal(f.Data, &join) == nil && join.ConversationID != "" {
				h.mu.Lock()
				p.rooms[join.ConversationID] = true
				h.mu.Unlock()
			}
		case "send_message":
			var m messageFrame
			if json.Unmarshal(f.Data, &m) != nil {
				continue
			}
			h.relayMessage(p, m)
		case "typing", "stop_typing":
			var t struct {
				ConversationID string `json:"conversationId"`
				UserID         string `json:"userId"`
			}
			if json.Unmarshal(f.Data, &t) != nil {
				continue
			}
			h.toRoom(t.ConversationID, p, f.Event, t)
		}
	}
}

func (h *hub) relayMessage(sender *peer, m messageFrame) {
	s := h.backend
	s.mu.Lock()
	conv := s.conversationLocked(m.ConversationID, "", "")
	stored := s.storeLocked(conv, StoredMessage{
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Timestamp:  m.Timestamp,
		Status:     "sent",
		FileURL:    m.FileURL,
		FileType:   m.FileType,
		FileName:   m.FileName,
	})
	dropAcks := s.dropAcks
	s.mu.Unlock()

	m.DBMessageID = strconv.Itoa(stored.ID)
	m.Timestamp = stored.Timestamp
	if !dropAcks {
		sender.write("message_delivered", gin.H{"messageId": m.MessageID, "dbMessageId": m.DBMessageID, "status": "sent"})
	}
	h.toRoom(m.ConversationID, nil, "receive_message", m)
}

// toRoom sends to every member of room except skip.
func (h *hub) toRoom(room string, skip *peer, event string, data any) {
	h.mu.Lock()
	targets := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		if p != skip && p.rooms[room] {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()
	for _, p := range targets {
		p.write(event, data)
	}
}

func (h *hub) broadcast(skip *peer, event string, data any) {
	h.mu.Lock()
	targets := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		if p != skip {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()
	for _, p := range targets {
		p.write(event, data)
	}
}

func (h *hub) online() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[string]bool)
	ids := make([]string, 0, len(h.peers))
	for p := range h.peers {
		if !seen[p.userID] {
			seen[p.userID] = true
			ids = append(ids, p.userID)
		}
	}
	return ids
}

func (h *hub) members(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0)
	for p := range h.peers {
		if p.rooms[room] {
			ids = append(ids, p.userID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (h *hub) closeAll() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
}
