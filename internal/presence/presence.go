// Package presence records which users have live connections.
package presence

import (
	"context"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

// Recorder tracks user presence across relay nodes. A user is online while
// at least one node reports them online.
type Recorder interface {
	SetOnline(ctx context.Context, userID, nodeID string) error
	SetOffline(ctx context.Context, userID, nodeID string) error
	Status(ctx context.Context, userID string) (model.PresenceStatus, error)
}
