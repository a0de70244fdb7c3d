package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one live client connection. A user may hold several.
type Session struct {
	ID     string
	UserID string

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	groups map[string]struct{}
}

func newSession(userID string, conn *websocket.Conn, buffer int) *Session {
	return &Session{
		ID:     uuid.Must(uuid.NewV7()).String(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		groups: make(map[string]struct{}),
	}
}

// Send queues a frame without blocking. It returns false when the frame was
// dropped because the queue is full or the session is closed.
func (s *Session) Send(frame []byte) bool {
	if s.Closed() {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Close marks the session closed. The write pump closes the connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// InGroup reports whether the session receives a conversation's events.
func (s *Session) InGroup(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.groups[conversationID]
	return ok
}

func (s *Session) trackGroup(conversationID string) {
	s.mu.Lock()
	s.groups[conversationID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) untrackGroup(conversationID string) {
	s.mu.Lock()
	delete(s.groups, conversationID)
	s.mu.Unlock()
}

func (s *Session) joinedGroups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.groups))
	for id := range s.groups {
		out = append(out, id)
	}
	return out
}
