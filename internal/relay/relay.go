// Package relay delivers conversation events to live websocket sessions.
//
// Delivery is best-effort: every session has a bounded outbound queue and
// an event is dropped for a session whose queue is full. Nothing here is
// persisted; clients recover missed events by paging the message ledger.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/service"
)

// Config holds relay tuning. PresenceRefresh re-announces online users
// before their presence entries expire; zero disables refreshing.
type Config struct {
	NodeID          string
	SendBuffer      int
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	EventTimeout    time.Duration
	PresenceRefresh time.Duration
}

// DefaultConfig returns production defaults for nodeID.
func DefaultConfig(nodeID string) Config {
	return Config{
		NodeID:         nodeID,
		SendBuffer:     64,
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 * 1024,
		EventTimeout:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.NodeID)
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = 2 * c.PingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = d.EventTimeout
	}
	return c
}

// Envelope is one relay event as exchanged between nodes. Join and Leave
// update group membership before the frame is delivered. With Targets set,
// the frame goes to those users' sessions instead of the whole group.
type Envelope struct {
	NodeID         string          `json:"node_id"`
	ConversationID string          `json:"conversation_id"`
	Event          model.EventType `json:"event,omitempty"`
	Join           []string        `json:"join,omitempty"`
	Leave          []string        `json:"leave,omitempty"`
	Targets        []string        `json:"targets,omitempty"`
	Frame          json.RawMessage `json:"frame,omitempty"`
}

// Publisher forwards locally produced envelopes to other nodes.
type Publisher interface {
	Publish(env *Envelope) error
}

// Backend runs the chat operations clients trigger over the socket.
type Backend interface {
	StartOneToOne(ctx context.Context, senderID, recipientID string, content service.Content) (*service.SendResult, error)
	CreateGroup(ctx context.Context, creatorID string, req *model.CreateGroupRequest) (*model.Conversation, []model.Participant, error)
	Send(ctx context.Context, senderID, conversationID string, content service.Content) (*service.SendResult, error)
}

// Memberships lists the conversations a user belongs to.
type Memberships interface {
	ListByUser(ctx context.Context, userID string) ([]model.Participant, error)
}

// encodeFrame builds a wire frame. It returns nil if v cannot be encoded.
func encodeFrame(event model.EventType, v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	frame, err := json.Marshal(model.Frame{Event: event, Data: data})
	if err != nil {
		return nil
	}
	return frame
}
