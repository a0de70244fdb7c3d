package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/identity"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

const fanoutConcurrency = 16

// Notifier receives committed changes for realtime delivery.
// Implementations must not block.
type Notifier interface {
	ConversationStarted(ctx context.Context, conv *model.Conversation, msg *model.Message, initiatorID string, memberIDs []string)
	MessageAppended(ctx context.Context, conv *model.Conversation, msg *model.Message)
	MembersAdded(ctx context.Context, conv *model.Conversation, userIDs []string)
	MemberLeft(ctx context.Context, conv *model.Conversation, userID string)
}

type nopNotifier struct{}

func (nopNotifier) ConversationStarted(context.Context, *model.Conversation, *model.Message, string, []string) {}
func (nopNotifier) MessageAppended(context.Context, *model.Conversation, *model.Message)                       {}
func (nopNotifier) MembersAdded(context.Context, *model.Conversation, []string)                                {}
func (nopNotifier) MemberLeft(context.Context, *model.Conversation, string)                                    {}

// Content is what a sender submits: text, files, or files with a caption.
type Content struct {
	Text    string
	Uploads []model.Upload
}

// SendResult is the outcome of a committed send. The message is durable
// even when the result is degraded.
type SendResult struct {
	Conversation      *model.Conversation
	Message           *model.Message
	Created           bool
	StalePreview      bool
	StaleAttachments  bool
	StaleParticipants []string
}

// Degraded reports whether any step after the ledger write failed.
func (r *SendResult) Degraded() bool {
	return r.StalePreview || r.StaleAttachments || len(r.StaleParticipants) > 0
}

// Response converts the result for API clients.
func (r *SendResult) Response() *model.SendMessageResponse {
	return &model.SendMessageResponse{
		Message:           r.Message,
		Degraded:          r.Degraded(),
		StaleParticipants: r.StaleParticipants,
	}
}

// ChatService coordinates writes that span the registry, the ledger and
// the participation index, then hands the result to the relay.
//
// Steps run in a fixed order: append, touch, fan-out. Nothing after the
// append is rolled back; a failed step leaves stale denormalized state that
// the next send to the conversation overwrites.
type ChatService struct {
	convs    *ConversationService
	parts    *ParticipantService
	messages *MessageService
	atts     *AttachmentService
	users    identity.Directory
	notifier Notifier
	logger   *logger.Logger
}

// NewChatService creates a new chat service.
func NewChatService(
	convs *ConversationService,
	parts *ParticipantService,
	messages *MessageService,
	atts *AttachmentService,
	users identity.Directory,
	log *logger.Logger,
) *ChatService {
	return &ChatService{
		convs:    convs,
		parts:    parts,
		messages: messages,
		atts:     atts,
		users:    users,
		notifier: nopNotifier{},
		logger:   log,
	}
}

// SetNotifier installs the realtime notifier. Call before serving traffic.
func (s *ChatService) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	s.notifier = n
}

// StartOneToOne sends a message to recipientID, opening the direct
// conversation first when needed.
func (s *ChatService) StartOneToOne(ctx context.Context, senderID, recipientID string, content Content) (res *SendResult, err error) {
	const op = "chat.StartOneToOne"
	ctx, span := tracer.Start(ctx, op)
	defer func() { endSpan(span, err) }()

	if recipientID == "" {
		return nil, apperr.Validation(op, "recipient_id is required")
	}
	if senderID == recipientID {
		return nil, apperr.Validation(op, "cannot start a conversation with yourself")
	}
	if err := validateContent(op, content); err != nil {
		return nil, err
	}
	if _, err := s.users.Get(ctx, recipientID); err != nil {
		return nil, err
	}

	atts, err := s.atts.Upload(ctx, content.Uploads)
	if err != nil {
		return nil, err
	}
	body := bodyFor(content, atts)

	conv, created, err := s.convs.FindOrCreateOneToOne(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureDirectMembers(ctx, conv, created, senderID, recipientID); err != nil {
		return nil, err
	}

	res, err = s.commit(ctx, conv, senderID, recipientID, body, atts, "", []string{senderID, recipientID})
	if err != nil {
		return nil, err
	}
	res.Created = created
	span.SetAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.Bool("conversation.created", created),
		attribute.Bool("send.degraded", res.Degraded()),
	)

	if created {
		s.notifier.ConversationStarted(ctx, res.Conversation, res.Message, senderID, []string{senderID, recipientID})
	} else {
		s.notifier.MessageAppended(ctx, res.Conversation, res.Message)
	}
	return res, nil
}

// ensureDirectMembers writes the two participation rows of a direct
// conversation. Rows that exist are left alone, so a retry after a failed
// batch completes the conversation.
func (s *ChatService) ensureDirectMembers(ctx context.Context, conv *model.Conversation, created bool, a, b string) error {
	missing := []string{a, b}
	if !created {
		rows, err := s.parts.ListByConversation(ctx, conv.ID)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(rows))
		for _, p := range rows {
			have[p.UserID] = true
		}
		missing = missing[:0]
		for _, id := range []string{a, b} {
			if !have[id] {
				missing = append(missing, id)
			}
		}
		if len(missing) == 0 {
			return nil
		}
	}

	at := conv.CreatedAt
	if conv.LastMessageAt != nil {
		at = *conv.LastMessageAt
	}
	rows := make([]model.Participant, 0, len(missing))
	for _, id := range missing {
		rows = append(rows, model.Participant{
			UserID:         id,
			ConversationID: conv.ID,
			LastMessageAt:  at,
			JoinedAt:       at,
		})
	}
	return s.parts.AddMany(ctx, rows)
}

// CreateGroup creates a group with the creator as its only admin.
func (s *ChatService) CreateGroup(ctx context.Context, creatorID string, req *model.CreateGroupRequest) (conv *model.Conversation, rows []model.Participant, err error) {
	const op = "chat.CreateGroup"
	ctx, span := tracer.Start(ctx, op)
	defer func() { endSpan(span, err) }()

	ids := distinct(append([]string{creatorID}, req.ParticipantIDs...))
	if len(ids) < 2 {
		return nil, nil, apperr.Validation(op, "a group needs at least one other participant")
	}
	if err := s.parts.requireUsers(ctx, op, ids[1:]); err != nil {
		return nil, nil, err
	}

	conv, err = s.convs.CreateGroup(ctx, creatorID, req.GroupName, req.GroupImage)
	if err != nil {
		return nil, nil, err
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID), attribute.Int("group.size", len(ids)))

	// One timestamp for every row so the group sorts identically in every
	// member's inbox.
	at := conv.CreatedAt
	rows = make([]model.Participant, len(ids))
	for i, id := range ids {
		rows[i] = model.Participant{
			UserID:         id,
			ConversationID: conv.ID,
			LastMessageAt:  at,
			JoinedAt:       at,
			IsAdmin:        id == creatorID,
		}
	}
	if err := s.parts.AddMany(ctx, rows); err != nil {
		return nil, nil, err
	}

	s.notifier.ConversationStarted(ctx, conv, nil, creatorID, ids)
	return conv, rows, nil
}

// Send appends a message to a conversation the sender belongs to.
func (s *ChatService) Send(ctx context.Context, senderID, conversationID string, content Content) (res *SendResult, err error) {
	const op = "chat.Send"
	ctx, span := tracer.Start(ctx, op)
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	if err := validateContent(op, content); err != nil {
		return nil, err
	}
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.parts.Require(ctx, senderID, conversationID); err != nil {
		return nil, err
	}

	atts, err := s.atts.Upload(ctx, content.Uploads)
	if err != nil {
		return nil, err
	}

	res, err = s.commit(ctx, conv, senderID, recipientFor(conv, senderID), bodyFor(content, atts), atts, "", []string{senderID})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("send.degraded", res.Degraded()))

	s.notifier.MessageAppended(ctx, res.Conversation, res.Message)
	return res, nil
}

// Forward copies a message into another conversation. The sender must
// belong to both.
func (s *ChatService) Forward(ctx context.Context, senderID, sourceConversationID, messageID, targetConversationID string) (res *SendResult, err error) {
	const op = "chat.Forward"
	ctx, span := tracer.Start(ctx, op)
	defer func() { endSpan(span, err) }()

	if targetConversationID == "" {
		return nil, apperr.Validation(op, "target_conversation_id is required")
	}
	if err := s.parts.Require(ctx, senderID, sourceConversationID); err != nil {
		return nil, err
	}
	src, err := s.messages.GetByID(ctx, sourceConversationID, messageID)
	if err != nil {
		return nil, err
	}
	if src.Status == model.StatusRecalled {
		return nil, apperr.Conflict(op, "cannot forward a recalled message")
	}

	target, err := s.convs.Get(ctx, targetConversationID)
	if err != nil {
		return nil, err
	}
	if err := s.parts.Require(ctx, senderID, targetConversationID); err != nil {
		return nil, err
	}

	res, err = s.commit(ctx, target, senderID, recipientFor(target, senderID), src.Body(), nil, src.ID, []string{senderID})
	if err != nil {
		return nil, err
	}
	s.notifier.MessageAppended(ctx, res.Conversation, res.Message)
	return res, nil
}

// commit runs append, touch and fan-out. Once the append succeeds the send
// is reported as successful; later failures only degrade the result.
func (s *ChatService) commit(
	ctx context.Context,
	conv *model.Conversation,
	senderID, recipientID string,
	body model.Body,
	atts []model.Attachment,
	forwardedFromID string,
	fallbackMembers []string,
) (*SendResult, error) {
	msg, err := s.messages.Append(ctx, NewMessage{
		ConversationID:  conv.ID,
		SenderID:        senderID,
		RecipientID:     recipientID,
		Body:            body,
		ForwardedFromID: forwardedFromID,
	})
	if err != nil {
		return nil, err
	}

	// The message is durable; a client going away must not cut the
	// remaining steps short.
	ctx = context.WithoutCancel(ctx)
	res := &SendResult{Conversation: conv, Message: msg}
	log := s.logger.With(
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
	)

	if len(atts) > 0 {
		if err := s.atts.Index(ctx, conv.ID, msg.ID, atts); err != nil {
			log.Warn("attachment index write failed", zap.Error(err))
			res.StaleAttachments = true
		}
	}

	preview := msg.Preview()
	if err := s.convs.TouchLastMessage(ctx, conv.ID, preview, msg.CreatedAt); err != nil {
		log.Warn("conversation preview update failed", zap.Error(err))
		res.StalePreview = true
	} else {
		at := msg.CreatedAt
		conv.LastMessageText = preview
		conv.LastMessageAt = &at
		conv.UpdatedAt = at
	}

	res.StaleParticipants = s.fanOut(ctx, log, conv.ID, msg.CreatedAt, fallbackMembers)
	if res.Degraded() {
		log.Warn("send completed degraded",
			zap.Bool("stale_preview", res.StalePreview),
			zap.Bool("stale_attachments", res.StaleAttachments),
			zap.Strings("stale_participants", res.StaleParticipants),
		)
	}
	return res, nil
}

// fanOut bumps LastMessageAt on every participation row concurrently and
// returns the users whose rows could not be updated. If the members cannot
// be listed, fallback is reported stale.
func (s *ChatService) fanOut(ctx context.Context, log *logger.Logger, conversationID string, at time.Time, fallback []string) []string {
	start := time.Now()
	members, err := s.parts.ListByConversation(ctx, conversationID)
	if err != nil {
		log.Warn("fan-out member lookup failed", zap.Error(err))
		metrics.RecordFanout(time.Since(start).Seconds(), true)
		return append([]string(nil), fallback...)
	}

	var (
		mu    sync.Mutex
		stale []string
		g     errgroup.Group
	)
	g.SetLimit(fanoutConcurrency)
	for _, p := range members {
		userID := p.UserID
		g.Go(func() error {
			err := s.parts.BumpLastMessageAt(ctx, conversationID, userID, at)
			switch {
			case err == nil:
			case apperr.Is(err, apperr.KindNotFound):
				// Left after the member list was read.
				log.Debug("fan-out skipped departed member", zap.String("user_id", userID))
			default:
				log.Warn("fan-out write failed", zap.String("user_id", userID), zap.Error(err))
				mu.Lock()
				stale = append(stale, userID)
				mu.Unlock()
			}
			// Failures are collected, not returned, so every row is attempted.
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(stale)
	metrics.RecordFanout(time.Since(start).Seconds(), len(stale) > 0)
	return stale
}

// AddParticipants adds users to a group on behalf of an admin.
func (s *ChatService) AddParticipants(ctx context.Context, actorID, conversationID string, userIDs []string) ([]model.Participant, error) {
	rows, err := s.parts.AddToGroup(ctx, actorID, conversationID, userIDs)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []model.Participant{}, nil
	}
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	added := make([]string, len(rows))
	for i, p := range rows {
		added[i] = p.UserID
	}
	s.notifier.MembersAdded(ctx, conv, added)
	return rows, nil
}

// Leave removes the user from a group.
func (s *ChatService) Leave(ctx context.Context, userID, conversationID string) error {
	if err := s.parts.Leave(ctx, userID, conversationID); err != nil {
		return err
	}
	if conv, err := s.convs.Get(ctx, conversationID); err == nil {
		s.notifier.MemberLeft(ctx, conv, userID)
	}
	return nil
}

// Conversation returns a conversation and its members to a participant.
func (s *ChatService) Conversation(ctx context.Context, userID, conversationID string) (*model.ConversationDetail, error) {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.parts.Require(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	members, err := s.parts.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &model.ConversationDetail{Conversation: conv, Participants: members}, nil
}

// UpdateGroup renames a group or changes its image. Admins only.
func (s *ChatService) UpdateGroup(ctx context.Context, actorID, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	if err := s.parts.RequireAdmin(ctx, actorID, conversationID); err != nil {
		return nil, err
	}
	return s.convs.UpdateGroup(ctx, conversationID, req)
}

// DeleteGroup soft-deletes a group. Admins only. Members asking to delete
// a direct conversation get a Conflict.
func (s *ChatService) DeleteGroup(ctx context.Context, actorID, conversationID string) error {
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := s.parts.Require(ctx, actorID, conversationID); err != nil {
		return err
	}
	if !conv.IsGroup() {
		return apperr.Conflict("chat.DeleteGroup", "direct conversations cannot be deleted, archive them instead")
	}
	if err := s.parts.RequireAdmin(ctx, actorID, conversationID); err != nil {
		return err
	}
	return s.convs.Delete(ctx, conversationID)
}

func validateContent(op string, c Content) error {
	if len(c.Uploads) == 0 && strings.TrimSpace(c.Text) == "" {
		return apperr.Validation(op, "message content is required")
	}
	return nil
}

func bodyFor(c Content, atts []model.Attachment) model.Body {
	if len(atts) == 0 {
		return model.TextBody{Text: c.Text}
	}
	refs := make([]model.AttachmentRef, len(atts))
	for i := range atts {
		refs[i] = atts[i].Ref()
	}
	return model.MediaBody{Attachments: refs, Caption: c.Text}
}

// recipientFor names the other member of a direct conversation.
func recipientFor(conv *model.Conversation, senderID string) string {
	if conv.IsGroup() {
		return ""
	}
	a, b, ok := strings.Cut(conv.PairKey, "#")
	if !ok {
		return ""
	}
	if a == senderID {
		return b
	}
	return a
}
