package service

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/apperr"
	"github.com/capitalize-ai/messaging-platform/internal/blob"
	"github.com/capitalize-ai/messaging-platform/internal/model"
	"github.com/capitalize-ai/messaging-platform/internal/msgid"
	"github.com/capitalize-ai/messaging-platform/internal/store"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

const (
	maxUploadsPerMessage = 10
	uploadConcurrency    = 4
)

// AttachmentService stores uploaded files and indexes them by message and
// conversation.
type AttachmentService struct {
	atts     store.AttachmentStore
	messages store.MessageStore
	blobs    blob.Store
	ids      *msgid.Generator
	logger   *logger.Logger
}

// NewAttachmentService creates a new attachment service.
func NewAttachmentService(st store.Store, blobs blob.Store, ids *msgid.Generator, log *logger.Logger) *AttachmentService {
	return &AttachmentService{
		atts:     st.Attachments(),
		messages: st.Messages(),
		blobs:    blobs,
		ids:      ids,
		logger:   log,
	}
}

// Upload sends every file to the blob store. Any failure fails the whole
// batch. The returned attachments are not indexed until Index is called.
func (s *AttachmentService) Upload(ctx context.Context, uploads []model.Upload) ([]model.Attachment, error) {
	const op = "attachment.Upload"
	if len(uploads) == 0 {
		return nil, nil
	}
	if len(uploads) > maxUploadsPerMessage {
		return nil, apperr.Validation(op, "too many attachments")
	}

	for _, up := range uploads {
		if len(up.Data) == 0 {
			return nil, apperr.Validation(op, "empty file "+up.FileName)
		}
	}

	out := make([]model.Attachment, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i := range uploads {
		i := i
		up := uploads[i]
		id, ts := s.ids.Next()
		out[i] = model.Attachment{
			ID:        id,
			Type:      model.AttachmentTypeFor(up.MimeType),
			FileName:  up.FileName,
			MimeType:  up.MimeType,
			CreatedAt: ts,
		}
		g.Go(func() error {
			url, err := s.blobs.Upload(gctx, up.Data, up.FileName, up.MimeType)
			if err != nil {
				return err
			}
			out[i].URL = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("attachment upload failed",
			zap.Int("files", len(uploads)),
			zap.Error(err),
		)
		return nil, apperr.Dependency(op, err)
	}
	return out, nil
}

// Index records attachments under the message that carries them.
func (s *AttachmentService) Index(ctx context.Context, conversationID, messageID string, atts []model.Attachment) error {
	for i := range atts {
		atts[i].ConversationID = conversationID
		atts[i].MessageID = messageID
	}
	if err := s.atts.CreateMany(ctx, atts); err != nil {
		return apperr.Dependency("attachment.Index", err)
	}
	return nil
}

// ListByConversation returns a page of a conversation's attachments, newest
// first.
func (s *AttachmentService) ListByConversation(ctx context.Context, conversationID string, limit int, cursor string) (*model.ListAttachmentsResponse, error) {
	const op = "attachment.ListByConversation"
	limit = clampPageSize(limit)
	before, err := decodeIDCursor(op, cursor)
	if err != nil {
		return nil, err
	}
	rows, err := s.atts.ListByConversation(ctx, conversationID, before, limit+1)
	if err != nil {
		return nil, apperr.Dependency(op, err)
	}

	resp := &model.ListAttachmentsResponse{Attachments: rows}
	if len(rows) > limit {
		resp.Attachments = rows[:limit]
		resp.NextCursor = encodeIDCursor(rows[limit-1].ID)
	}
	if resp.Attachments == nil {
		resp.Attachments = []model.Attachment{}
	}
	return resp, nil
}

// ListByMessage returns a message's attachments.
func (s *AttachmentService) ListByMessage(ctx context.Context, messageID string) ([]model.Attachment, error) {
	rows, err := s.atts.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, apperr.Dependency("attachment.ListByMessage", err)
	}
	return rows, nil
}

// Find returns one attachment of a message.
func (s *AttachmentService) Find(ctx context.Context, messageID, attachmentID string) (*model.Attachment, error) {
	const op = "attachment.Find"
	rows, err := s.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].ID == attachmentID {
			return &rows[i], nil
		}
	}
	return nil, apperr.NotFound(op, "attachment not found")
}

// Delete removes an attachment. Only the sender of the carrying message may
// delete it. The message keeps its reference.
func (s *AttachmentService) Delete(ctx context.Context, actorID, messageID, attachmentID string) error {
	const op = "attachment.Delete"
	att, err := s.Find(ctx, messageID, attachmentID)
	if err != nil {
		return err
	}
	msg, err := s.messages.Get(ctx, att.ConversationID, messageID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Dependency(op, err)
	}
	if msg == nil || msg.SenderID != actorID {
		return apperr.Forbidden(op, "only the sender can delete an attachment")
	}
	if err := s.atts.Delete(ctx, messageID, attachmentID); err != nil {
		return storeErr(op, err, "attachment not found")
	}
	s.logger.Info("attachment deleted",
		zap.String("message_id", messageID),
		zap.String("attachment_id", attachmentID),
	)
	return nil
}
