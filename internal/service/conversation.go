package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

// ConversationService is the conversation registry.
type ConversationService struct {
	convs  store.ConversationStore
	parts  store.ParticipantStore
	logger *logger.Logger
	now    func() time.Time
}

// NewConversationService creates a new conversation service.
func NewConversationService(st store.Store, log *logger.Logger) *ConversationService {
	return &ConversationService{
		convs:  st.Conversations(),
		parts:  st.Participants(),
		logger: log,
		now:    utcNow,
	}
}

// FindOrCreateOneToOne returns the direct conversation between a and b,
// creating it when none exists. created reports whether this call created it.
// Concurrent callers for the same pair all receive the same conversation.
// The row starts without a preview; the first append fills it in.
func (s *ConversationService) FindOrCreateOneToOne(ctx context.Context, a, b string) (*model.Conversation, bool, error) {
	const op = "conversation.FindOrCreateOneToOne"
	ctx, span := tracer.Start(ctx, op)
	var err error
	defer func() { endSpan(span, err) }()

	if a == "" || b == "" {
		err = apperr.Validation(op, "both participants are required")
		return nil, false, err
	}
	if a == b {
		err = apperr.Validation(op, "cannot start a conversation with yourself")
		return nil, false, err
	}

	key := model.PairKey(a, b)
	existing, getErr := s.convs.GetByPairKey(ctx, key)
	switch {
	case getErr == nil:
		span.SetAttributes(attribute.String("conversation.id", existing.ID), attribute.Bool("conversation.created", false))
		return existing, false, nil
	case !errors.Is(getErr, store.ErrNotFound):
		err = apperr.Dependency(op, getErr)
		return nil, false, err
	}

	now := s.now()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      model.ConversationOneToOne,
		PairKey:   key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// The store only inserts when the pair key is unclaimed, so losing a
	// race lands on the winner's conversation.
	stored, created, createErr := s.convs.CreateOneToOne(ctx, conv)
	if createErr != nil {
		err = apperr.Dependency(op, createErr)
		return nil, false, err
	}

	span.SetAttributes(attribute.String("conversation.id", stored.ID), attribute.Bool("conversation.created", created))
	if created {
		metrics.ConversationsTotal.WithLabelValues(string(model.ConversationOneToOne)).Inc()
		s.logger.Info("conversation created",
			zap.String("conversation_id", stored.ID),
			zap.String("type", string(stored.Type)),
		)
	}
	return stored, created, nil
}

// CreateGroup creates a group conversation. It does not write participants.
func (s *ConversationService) CreateGroup(ctx context.Context, creatorID, name, image string) (*model.Conversation, error) {
	const op = "conversation.CreateGroup"
	if creatorID == "" {
		return nil, apperr.Validation(op, "creator is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = model.DefaultGroupName
	}
	if image == "" {
		image = model.DefaultGroupImage
	}

	now := s.now()
	conv := &model.Conversation{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Type:       model.ConversationGroup,
		GroupName:  name,
		GroupImage: image,
		CreatorID:  creatorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.convs.Create(ctx, conv); err != nil {
		return nil, apperr.Dependency(op, err)
	}

	metrics.ConversationsTotal.WithLabelValues(string(model.ConversationGroup)).Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("type", string(conv.Type)),
		zap.String("creator_id", creatorID),
	)
	return conv, nil
}

// Get returns a live conversation.
func (s *ConversationService) Get(ctx context.Context, id string) (*model.Conversation, error) {
	const op = "conversation.Get"
	conv, err := s.convs.Get(ctx, id)
	if err != nil {
		return nil, storeErr(op, err, "conversation not found")
	}
	if conv.Deleted {
		return nil, apperr.NotFound(op, "conversation not found")
	}
	return conv, nil
}

// TouchLastMessage records the latest message preview. Last writer wins.
func (s *ConversationService) TouchLastMessage(ctx context.Context, id, text string, at time.Time) error {
	const op = "conversation.TouchLastMessage"
	if err := s.convs.TouchLastMessage(ctx, id, text, at); err != nil {
		return storeErr(op, err, "conversation not found")
	}
	return nil
}

// UpdateGroup changes a group's name or image. Empty fields are unchanged.
// The caller is responsible for checking the actor is an admin.
func (s *ConversationService) UpdateGroup(ctx context.Context, id string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	const op = "conversation.UpdateGroup"
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup() {
		return nil, apperr.Conflict(op, "only group conversations can be renamed")
	}

	var name, image *string
	if n := strings.TrimSpace(req.GroupName); n != "" {
		name = &n
	}
	if req.GroupImage != "" {
		image = &req.GroupImage
	}
	if name == nil && image == nil {
		return conv, nil
	}

	updated, err := s.convs.UpdateGroup(ctx, id, name, image, s.now())
	if err != nil {
		return nil, storeErr(op, err, "conversation not found")
	}
	return updated, nil
}

// Delete soft-deletes a group. Direct conversations are archived per user
// instead, so a pair never ends up with two live conversations.
func (s *ConversationService) Delete(ctx context.Context, id string) error {
	const op = "conversation.Delete"
	conv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !conv.IsGroup() {
		return apperr.Conflict(op, "direct conversations cannot be deleted, archive them instead")
	}
	if err := s.convs.SoftDelete(ctx, id, s.now()); err != nil {
		return storeErr(op, err, "conversation not found")
	}
	s.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return nil
}

// ListForUser returns a page of the user's conversations, most recent
// activity first.
func (s *ConversationService) ListForUser(ctx context.Context, userID string, limit int, cursor string, includeArchived bool) (*model.ListConversationsResponse, error) {
	const op = "conversation.ListForUser"
	limit = clampPageSize(limit)

	q := store.InboxQuery{
		UserID:          userID,
		IncludeArchived: includeArchived,
		Limit:           limit + 1,
	}
	if cursor != "" {
		var c inboxCursor
		if err := decodeCursor(op, cursor, &c); err != nil {
			return nil, err
		}
		q.After = &store.InboxCursor{LastMessageAt: c.LastMessageAt, ConversationID: c.ConversationID}
	}

	rows, err := s.parts.Inbox(ctx, q)
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}

	resp := &model.ListConversationsResponse{Conversations: []model.InboxEntry{}}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		resp.HasMore = true
		resp.NextCursor = encodeCursor(inboxCursor{
			LastMessageAt:  last.LastMessageAt,
			ConversationID: last.ConversationID,
		})
	}

	for i := range rows {
		conv, err := s.convs.Get(ctx, rows[i].ConversationID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Dependency(op, err)
		}
		if conv.Deleted {
			continue
		}
		resp.Conversations = append(resp.Conversations, model.InboxEntry{
			Conversation: conv,
			Participant:  &rows[i],
		})
	}
	return resp, nil
}
