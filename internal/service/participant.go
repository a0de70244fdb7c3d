package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/identity"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// Authorizer answers whether a user may act in a conversation.
type Authorizer interface {
	IsParticipant(ctx context.Context, userID, conversationID string) (bool, error)
}

// ParticipantService is the participation index.
type ParticipantService struct {
	parts  store.ParticipantStore
	convs  *ConversationService
	users  identity.Directory
	logger *logger.Logger
	now    func() time.Time
}

var _ Authorizer = (*ParticipantService)(nil)

// NewParticipantService creates a new participant service.
func NewParticipantService(st store.Store, convs *ConversationService, users identity.Directory, log *logger.Logger) *ParticipantService {
	return &ParticipantService{
		parts:  st.Participants(),
		convs:  convs,
		users:  users,
		logger: log,
		now:    utcNow,
	}
}

// AddMany writes rows as a unit. A failure is retryable: rows already
// present are skipped on the next attempt.
func (s *ParticipantService) AddMany(ctx context.Context, rows []model.Participant) error {
	const op = "participant.AddMany"
	if err := s.parts.AddMany(ctx, rows); err != nil {
		s.logger.Warn("participant batch failed",
			zap.Int("rows", len(rows)),
			zap.Error(err),
		)
		return apperr.Retryable(op, "participants were not written", err)
	}
	return nil
}

// ListByConversation returns every participant of a conversation.
func (s *ParticipantService) ListByConversation(ctx context.Context, conversationID string) ([]model.Participant, error) {
	rows, err := s.parts.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, apperr.Dependency("participant.ListByConversation", err)
	}
	return rows, nil
}

// ListByUser returns every participation of a user.
func (s *ParticipantService) ListByUser(ctx context.Context, userID string) ([]model.Participant, error) {
	rows, err := s.parts.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Dependency("participant.ListByUser", err)
	}
	return rows, nil
}

// Get returns the user's participation in a conversation.
func (s *ParticipantService) Get(ctx context.Context, userID, conversationID string) (*model.Participant, error) {
	p, err := s.parts.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, storeErr("participant.Get", err, "not a participant of this conversation")
	}
	return p, nil
}

// IsParticipant reports whether userID belongs to conversationID.
func (s *ParticipantService) IsParticipant(ctx context.Context, userID, conversationID string) (bool, error) {
	_, err := s.parts.Get(ctx, userID, conversationID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, apperr.Dependency("participant.IsParticipant", err)
	}
}

// Require returns an Authorization error unless userID belongs to
// conversationID.
func (s *ParticipantService) Require(ctx context.Context, userID, conversationID string) error {
	ok, err := s.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("participant.Require", "not a participant of this conversation")
	}
	return nil
}

// RequireAdmin returns an Authorization error unless userID is an admin
// of conversationID.
func (s *ParticipantService) RequireAdmin(ctx context.Context, userID, conversationID string) error {
	const op = "participant.RequireAdmin"
	p, err := s.parts.Get(ctx, userID, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Forbidden(op, "not a participant of this conversation")
	}
	if err != nil {
		return apperr.Dependency(op, err)
	}
	if !p.IsAdmin {
		return apperr.Forbidden(op, "only group admins can do this")
	}
	return nil
}

// BumpLastMessageAt records new activity on one participation row.
func (s *ParticipantService) BumpLastMessageAt(ctx context.Context, conversationID, userID string, at time.Time) error {
	if err := s.parts.SetLastMessageAt(ctx, userID, conversationID, at); err != nil {
		return storeErr("participant.BumpLastMessageAt", err, "participant not found")
	}
	return nil
}

func (s *ParticipantService) patch(ctx context.Context, op, userID, conversationID string, patch store.ParticipantPatch) (*model.Participant, error) {
	p, err := s.parts.Patch(ctx, userID, conversationID, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Forbidden(op, "not a participant of this conversation")
		}
		return nil, apperr.Dependency(op, err)
	}
	return p, nil
}

// MarkRead records that the user has read the conversation up to at.
func (s *ParticipantService) MarkRead(ctx context.Context, userID, conversationID string, at time.Time) (*model.Participant, error) {
	if at.IsZero() {
		at = s.now()
	}
	return s.patch(ctx, "participant.MarkRead", userID, conversationID, store.ParticipantPatch{LastReadAt: &at})
}

// SetMuted toggles notifications for the user.
func (s *ParticipantService) SetMuted(ctx context.Context, userID, conversationID string, muted bool) (*model.Participant, error) {
	return s.patch(ctx, "participant.SetMuted", userID, conversationID, store.ParticipantPatch{IsMuted: &muted})
}

// SetArchived hides or restores the conversation in the user's inbox.
func (s *ParticipantService) SetArchived(ctx context.Context, userID, conversationID string, archived bool) (*model.Participant, error) {
	return s.patch(ctx, "participant.SetArchived", userID, conversationID, store.ParticipantPatch{IsArchived: &archived})
}

// Leave removes the user from a group.
func (s *ParticipantService) Leave(ctx context.Context, userID, conversationID string) error {
	const op = "participant.Leave"
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsGroup() {
		return apperr.Conflict(op, "cannot leave a direct conversation")
	}
	if err := s.parts.Delete(ctx, userID, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Forbidden(op, "not a participant of this conversation")
		}
		return apperr.Dependency(op, err)
	}
	s.logger.Info("participant left",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", userID),
	)
	return nil
}

// AddToGroup adds users to a group on behalf of an admin. Users already in
// the group are skipped. It returns the rows that were added.
func (s *ParticipantService) AddToGroup(ctx context.Context, actorID, conversationID string, userIDs []string) ([]model.Participant, error) {
	const op = "participant.AddToGroup"
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup() {
		return nil, apperr.Conflict(op, "participants can only be added to groups")
	}
	if err := s.RequireAdmin(ctx, actorID, conversationID); err != nil {
		return nil, err
	}

	ids := distinct(userIDs)
	if len(ids) == 0 {
		return nil, apperr.Validation(op, "user_ids is required")
	}
	if err := s.requireUsers(ctx, op, ids); err != nil {
		return nil, err
	}

	existing, err := s.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	members := make(map[string]bool, len(existing))
	for _, p := range existing {
		members[p.UserID] = true
	}

	now := s.now()
	activity := now
	if conv.LastMessageAt != nil {
		activity = *conv.LastMessageAt
	}
	var rows []model.Participant
	for _, id := range ids {
		if members[id] {
			continue
		}
		rows = append(rows, model.Participant{
			UserID:         id,
			ConversationID: conversationID,
			LastMessageAt:  activity,
			JoinedAt:       now,
		})
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := s.AddMany(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// requireUsers returns NotFound unless every id resolves to a user.
func (s *ParticipantService) requireUsers(ctx context.Context, op string, ids []string) error {
	users, err := s.users.BatchGet(ctx, ids)
	if err != nil {
		return err
	}
	found := make(map[string]bool, len(users))
	for _, u := range users {
		found[u.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return apperr.NotFound(op, "user "+id+" not found")
		}
	}
	return nil
}

// distinct drops empty and repeated IDs, keeping first-seen order.
func distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
