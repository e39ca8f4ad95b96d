package rendezvous

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Conn abstracts a WebSocket connection for testability.
// This interface is satisfied by *websocket.Conn from gorilla/websocket.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// WebSocket message types (matching gorilla/websocket constants).
const (
	TextMessage   = 1
	BinaryMessage = 2
	CloseMessage  = 8
	PingMessage   = 9
	PongMessage   = 10
)

// Session represents one connected client registering and querying
// locations over the rendezvous protocol.
type Session struct {
	ID       string
	RealmID  string
	JoinedAt time.Time
	LastSeen time.Time

	conn   Conn
	mu     sync.Mutex // protects conn writes
	closed bool
}

// NewSession creates a session bound to the given WebSocket connection.
func NewSession(id string, conn Conn) *Session {
	now := time.Now()
	return &Session{
		ID:       id,
		conn:     conn,
		JoinedAt: now,
		LastSeen: now,
	}
}

// Send marshals and writes msg to the session. Thread-safe.
func (s *Session) Send(msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("session %s connection is closed", s.ID)
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := s.conn.WriteMessage(TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// SendError sends an error message to the session.
func (s *Session) SendError(code, message string) error {
	return s.Send(NewErrorMessage(code, message))
}

// Close closes the session's connection.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// IsClosed returns whether the session's connection is closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// UpdateLastSeen updates the last-seen timestamp.
func (s *Session) UpdateLastSeen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastSeen = time.Now()
}

// SetRealmID updates the session's current realm.
func (s *Session) SetRealmID(realmID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RealmID = realmID
}

// GetRealmID returns the session's current realm ID.
func (s *Session) GetRealmID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.RealmID
}

// Connection returns the underlying WebSocket connection. Prefer Send
// for thread-safe writes.
func (s *Session) Connection() Conn {
	return s.conn
}

// Registry is the set of sessions currently connected to this node,
// keyed by session ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session to the registry.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Unregister removes a session from the registry.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get retrieves a session by ID.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
