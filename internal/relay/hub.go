package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/presence"
	"github.com/capitalize-ai/messaging-platform/internal/service"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

// Hub owns the sessions of this node and routes events to them.
type Hub struct {
	cfg      Config
	registry *Registry
	groups   *Groups
	backend  Backend
	members  Memberships
	presence presence.Recorder
	bridge   Publisher
	logger   *logger.Logger
}

var _ service.Notifier = (*Hub)(nil)

type originKey struct{}

// withOrigin marks ctx as running on behalf of s.
func withOrigin(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, originKey{}, s)
}

func originSession(ctx context.Context) *Session {
	s, _ := ctx.Value(originKey{}).(*Session)
	return s
}

// NewHub creates a hub. presence may be nil.
func NewHub(cfg Config, backend Backend, members Memberships, rec presence.Recorder, log *logger.Logger) *Hub {
	return &Hub{
		cfg:      cfg.withDefaults(),
		registry: NewRegistry(),
		groups:   NewGroups(),
		backend:  backend,
		members:  members,
		presence: rec,
		logger:   log,
	}
}

// SetBridge installs the cross-node publisher. Call before serving.
func (h *Hub) SetBridge(p Publisher) {
	h.bridge = p
}

// NodeID identifies this node on the bridge.
func (h *Hub) NodeID() string {
	return h.cfg.NodeID
}

// Registry exposes the session registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run refreshes presence for local users until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.presence == nil || h.cfg.PresenceRefresh <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(h.cfg.PresenceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, userID := range h.registry.Users() {
				h.recordPresence(userID, model.PresenceOnline)
			}
		}
	}
}

// Serve runs a websocket session until the connection closes.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, userID string) {
	s := newSession(userID, conn, h.cfg.SendBuffer)
	if err := h.Connect(ctx, s); err != nil {
		h.logger.Warn("relay session rejected", zap.String("user_id", userID), zap.Error(err))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "unavailable"),
			time.Now().Add(h.cfg.WriteWait))
		conn.Close()
		return
	}
	defer h.Disconnect(s)

	go h.writePump(s)
	h.readPump(ctx, s)
}

// Connect registers a session and subscribes it to every conversation its
// user belongs to. The session is registered before memberships are read so
// a conversation started in between still reaches it through Join.
func (h *Hub) Connect(ctx context.Context, s *Session) error {
	first := h.registry.Register(s)
	metrics.RelaySessionsActive.Inc()
	if first {
		metrics.UsersOnline.Inc()
		h.recordPresence(s.UserID, model.PresenceOnline)
	}

	parts, err := h.members.ListByUser(ctx, s.UserID)
	if err != nil {
		h.Disconnect(s)
		return err
	}
	for _, p := range parts {
		h.groups.Join(p.ConversationID, s)
	}

	h.logger.Debug("relay session opened",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.Int("conversations", len(parts)),
	)
	return nil
}

// Disconnect removes only this session's bookkeeping. It is safe to call
// more than once.
func (h *Hub) Disconnect(s *Session) {
	s.Close()
	h.groups.LeaveAll(s)
	last, removed := h.registry.Unregister(s)
	if !removed {
		return
	}
	metrics.RelaySessionsActive.Dec()
	if last {
		metrics.UsersOnline.Dec()
		h.recordPresence(s.UserID, model.PresenceOffline)
	}
	h.logger.Debug("relay session closed",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID),
	)
}

func (h *Hub) recordPresence(userID string, status model.PresenceStatus) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteWait)
	defer cancel()

	var err error
	if status == model.PresenceOnline {
		err = h.presence.SetOnline(ctx, userID, h.cfg.NodeID)
	} else {
		err = h.presence.SetOffline(ctx, userID, h.cfg.NodeID)
	}
	if err != nil {
		h.logger.Warn("presence update failed",
			zap.String("user_id", userID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (h *Hub) readPump(ctx context.Context, s *Session) {
	defer s.Close()

	s.conn.SetReadLimit(h.cfg.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("relay read failed", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		h.handleFrame(ctx, s, data)
	}
}

func (h *Hub) writePump(s *Session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteWait))
			return
		}
	}
}

// emit delivers env to local sessions, except one, and forwards it to the
// other nodes.
func (h *Hub) emit(env *Envelope, except *Session) {
	env.NodeID = h.cfg.NodeID
	h.deliver(env, except)
	if h.bridge == nil {
		return
	}
	if err := h.bridge.Publish(env); err != nil {
		h.logger.Warn("relay bridge publish failed",
			zap.String("conversation_id", env.ConversationID),
			zap.String("event", string(env.Event)),
			zap.Error(err),
		)
	}
}

// DeliverRemote applies an envelope received from another node.
func (h *Hub) DeliverRemote(env *Envelope) {
	if env.NodeID == h.cfg.NodeID {
		return
	}
	h.deliver(env, nil)
}

func (h *Hub) deliver(env *Envelope, except *Session) {
	for _, userID := range env.Join {
		for _, s := range h.registry.Sessions(userID) {
			h.groups.Join(env.ConversationID, s)
		}
	}
	for _, userID := range env.Leave {
		for _, s := range h.registry.Sessions(userID) {
			h.groups.Leave(env.ConversationID, s)
		}
	}
	if len(env.Frame) == 0 {
		return
	}

	var targets []*Session
	if len(env.Targets) > 0 {
		for _, userID := range env.Targets {
			targets = append(targets, h.registry.Sessions(userID)...)
		}
	} else {
		targets = h.groups.Members(env.ConversationID)
	}

	for _, s := range targets {
		if s == except {
			continue
		}
		delivered := s.Send(env.Frame)
		metrics.RecordRelayEvent(string(env.Event), delivered)
		if !delivered && !s.Closed() {
			h.logger.Warn("relay event dropped",
				zap.String("session_id", s.ID),
				zap.String("user_id", s.UserID),
				zap.String("event", string(env.Event)),
			)
		}
	}
}

// ConversationStarted subscribes every member's sessions to a new
// conversation and announces it to all of them. The session that asked for
// the conversation is skipped; it gets conversation_started as its reply.
func (h *Hub) ConversationStarted(ctx context.Context, conv *model.Conversation, msg *model.Message, _ string, memberIDs []string) {
	h.emit(&Envelope{
		ConversationID: conv.ID,
		Event:          model.EventNewConversation,
		Join:           memberIDs,
		Targets:        memberIDs,
		Frame: encodeFrame(model.EventNewConversation, model.ConversationStarted{
			Conversation: conv,
			Message:      msg,
			IsNew:        true,
		}),
	}, originSession(ctx))
}

// MessageAppended broadcasts a message to the conversation's sessions,
// including the sender's.
func (h *Hub) MessageAppended(_ context.Context, conv *model.Conversation, msg *model.Message) {
	h.emit(&Envelope{
		ConversationID: conv.ID,
		Event:          model.EventNewMessage,
		Frame:          encodeFrame(model.EventNewMessage, msg),
	}, nil)
}

// MembersAdded subscribes the new members' sessions and tells them.
func (h *Hub) MembersAdded(_ context.Context, conv *model.Conversation, userIDs []string) {
	h.emit(&Envelope{
		ConversationID: conv.ID,
		Event:          model.EventNewConversation,
		Join:           userIDs,
		Targets:        userIDs,
		Frame: encodeFrame(model.EventNewConversation, model.ConversationStarted{
			Conversation: conv,
		}),
	}, nil)
}

// MemberLeft unsubscribes the user's sessions.
func (h *Hub) MemberLeft(_ context.Context, conv *model.Conversation, userID string) {
	h.emit(&Envelope{
		ConversationID: conv.ID,
		Leave:          []string{userID},
	}, nil)
}
