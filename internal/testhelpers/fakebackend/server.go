// Package fakebackend runs an in-process marketplace backend: the message
// REST endpoints, the upload endpoint and the realtime websocket hub.
package fakebackend

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

// Conversation is a stored conversation row.
type Conversation struct {
	ID        int
	Key       string
	StudentID string
	TutorID   string
	Names     map[string]string
}

// StoredMessage is a stored message row.
type StoredMessage struct {
	ID         int       `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Status     string    `json:"status"`
	FileURL    string    `json:"file_url,omitempty"`
	FileType   string    `json:"file_type,omitempty"`
	FileName   string    `json:"file_name,omitempty"`
}

// Server is a fake backend bound to an httptest listener.
type Server struct {
	*httptest.Server

	engine *gin.Engine
	hub    *hub

	mu            sync.Mutex
	conversations map[string]*Conversation
	messages      map[int][]StoredMessage
	uploads       map[string][]byte
	nextConvID    int
	nextMsgID     int
	storeDown     bool
	dropAcks      bool
	requests      []string
}

// New starts a server. Close it with Server.Close.
func New() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		engine:        gin.New(),
		conversations: make(map[string]*Conversation),
		messages:      make(map[int][]StoredMessage),
		uploads:       make(map[string][]byte),
		nextConvID:    100,
		nextMsgID:     9000,
	}
	s.hub = newHub(s)
	s.engine.Use(gin.Recovery(), s.record)
	s.registerRoutes()
	s.Server = httptest.NewServer(s.engine)
	return s
}

// Close shuts down the hub and the listener.
func (s *Server) Close() {
	s.hub.closeAll()
	s.Server.Close()
}

// WebsocketURL is the realtime endpoint.
func (s *Server) WebsocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// AddConversation seeds a conversation between a student and a tutor.
func (s *Server) AddConversation(studentID, tutorID, studentName, tutorName string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationLocked(fmt.Sprintf("conversation:%s:%s", studentID, tutorID), studentName, tutorName)
}

// AddMessage stores a message directly, bypassing the hub.
func (s *Server) AddMessage(key, senderID, receiverID, text string, at time.Time) StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conversationLocked(key, "", "")
	return s.storeLocked(conv, StoredMessage{SenderID: senderID, ReceiverID: receiverID, Text: text, Timestamp: at, Status: "delivered"})
}

// Messages returns the stored history of key.
func (s *Server) Messages(key string) []StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[key]
	if !ok {
		return nil
	}
	return append([]StoredMessage(nil), s.messages[conv.ID]...)
}

// SetStoreDown makes the message endpoints answer 503.
func (s *Server) SetStoreDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeDown = down
}

// SetDropAcks stops the hub from sending message_delivered.
func (s *Server) SetDropAcks(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropAcks = drop
}

// DisconnectAll closes every websocket connection without a close frame.
func (s *Server) DisconnectAll() {
	s.hub.closeAll()
}

// RoomMembers returns the ids of users joined to the conversation room.
func (s *Server) RoomMembers(key string) []string {
	return s.hub.members(key)
}

// Requests returns "METHOD path" for every HTTP request served.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Upload returns the bytes stored under an upload URL path.
func (s *Server) Upload(urlPath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.uploads[path.Base(urlPath)]
	return data, ok
}

func (s *Server) record(c *gin.Context) {
	s.mu.Lock()
	s.requests = append(s.requests, c.Request.Method+" "+c.Request.URL.Path)
	s.mu.Unlock()
	c.Next()
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api/messages")
	api.Use(s.requireToken, s.storeAvailable)
	api.GET("/conversations/:userId", s.listConversations)
	api.GET("/conversation/:conversationId", s.fetchMessages)
	api.POST("/upload", s.upload)

	s.engine.GET("/uploads/:name", s.serveUpload)
	s.engine.GET("/ws", s.hub.serve)
}

func (s *Server) requireToken(c *gin.Context) {
	if !strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	c.Next()
}

func (s *Server) storeAvailable(c *gin.Context) {
	s.mu.Lock()
	down := s.storeDown
	s.mu.Unlock()
	if down {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	c.Next()
}

func (s *Server) listConversations(c *gin.Context) {
	userID := c.Param("userId")

	s.mu.Lock()
	out := make([]gin.H, 0)
	for _, conv := range s.conversations {
		var partner string
		switch userID {
		case conv.StudentID:
			partner = conv.TutorID
		case conv.TutorID:
			partner = conv.StudentID
		default:
			continue
		}
		row := gin.H{
			"id":             conv.ID,
			"conversationId": conv.Key,
			"partner_id":     partner,
			"partner_name":   conv.Names[partner],
			"unread_count":   0,
		}
		if history := s.messages[conv.ID]; len(history) > 0 {
			last := history[len(history)-1]
			row["last_message"] = last.Text
			row["last_message_time"] = last.Timestamp
		}
		out = append(out, row)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i]["id"].(int) < out[j]["id"].(int) })
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (s *Server) fetchMessages(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("conversationId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	s.mu.Lock()
	history := append([]StoredMessage{}, s.messages[id]...)
	s.mu.Unlock()

	// newest first, the client sorts
	sort.Slice(history, func(i, j int) bool { return history[i].Timestamp.After(history[j].Timestamp) })
	c.JSON(http.StatusOK, gin.H{"messages": history})
}

func (s *Server) upload(c *gin.Context) {
	if c.PostForm("conversationId") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	name := strings.ToLower(ulid.Make().String()) + "-" + path.Base(header.Filename)
	s.mu.Lock()
	s.uploads[name] = data
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"file_url": "/uploads/" + name})
}

func (s *Server) serveUpload(c *gin.Context) {
	data, ok := s.Upload(c.Param("name"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func (s *Server) conversationLocked(key, studentName, tutorName string) *Conversation {
	if conv, ok := s.conversations[key]; ok {
		return conv
	}
	parts := strings.Split(strings.TrimPrefix(key, "conversation:"), ":")
	conv := &Conversation{ID: s.nextConvID, Key: key, Names: make(map[string]string)}
	if len(parts) == 2 {
		conv.StudentID, conv.TutorID = parts[0], parts[1]
		conv.Names[conv.StudentID] = studentName
		conv.Names[conv.TutorID] = tutorName
	}
	s.nextConvID++
	s.conversations[key] = conv
	return conv
}

func (s *Server) storeLocked(conv *Conversation, m StoredMessage) StoredMessage {
	s.nextMsgID++
	m.ID = s.nextMsgID
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	s.messages[conv.ID] = append(s.messages[conv.ID], m)
	return m
}
