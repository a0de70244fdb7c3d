package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-platform/internal/relay"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
	"github.com/capitalize-ai/messaging-platform/pkg/metrics"
)

// SubjectPrefix is the prefix for all relay subjects.
const SubjectPrefix = "chat.relay"

// RelaySubject returns the subject a conversation's relay events use.
func RelaySubject(conversationID string) string {
	return SubjectPrefix + "." + conversationID
}

// RelayWildcard matches the relay events of every conversation.
func RelayWildcard() string {
	return SubjectPrefix + ".>"
}

// Bridge carries relay envelopes between nodes. It implements
// relay.Publisher.
type Bridge struct {
	client *Client
	nodeID string
	sub    *nats.Subscription
	logger *logger.Logger
}

var _ relay.Publisher = (*Bridge)(nil)

// NewBridge creates a bridge for the node nodeID.
func NewBridge(client *Client, nodeID string, log *logger.Logger) *Bridge {
	return &Bridge{
		client: client,
		nodeID: nodeID,
		logger: log.With(zap.String("node_id", nodeID)),
	}
}

// Publish sends env to every other node.
func (b *Bridge) Publish(env *relay.Envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		metrics.BridgeMessagesTotal.WithLabelValues("out", "error").Inc()
		return err
	}
	if err := b.client.Conn().Publish(RelaySubject(env.ConversationID), data); err != nil {
		metrics.BridgeMessagesTotal.WithLabelValues("out", "error").Inc()
		return fmt.Errorf("failed to publish relay envelope: %w", err)
	}
	metrics.BridgeMessagesTotal.WithLabelValues("out", "ok").Inc()
	return nil
}

// Start subscribes to relay events from other nodes and hands each one to
// deliver. Envelopes published by this node are skipped.
func (b *Bridge) Start(deliver func(*relay.Envelope)) error {
	sub, err := b.client.Conn().Subscribe(RelayWildcard(), func(msg *nats.Msg) {
		env, err := decodeEnvelope(msg.Data)
		if err != nil {
			metrics.BridgeMessagesTotal.WithLabelValues("in", "error").Inc()
			b.logger.Warn("dropping malformed relay envelope",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			return
		}
		if env.NodeID == b.nodeID {
			return
		}
		metrics.BridgeMessagesTotal.WithLabelValues("in", "ok").Inc()
		deliver(env)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", RelayWildcard(), err)
	}
	b.sub = sub
	b.logger.Info("relay bridge started", zap.String("subject", RelayWildcard()))
	return nil
}

// Close stops receiving envelopes.
func (b *Bridge) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}

func encodeEnvelope(env *relay.Envelope) ([]byte, error) {
	if env.NodeID == "" {
		return nil, fmt.Errorf("relay envelope has no node ID")
	}
	if env.ConversationID == "" || strings.ContainsAny(env.ConversationID, ".*> ") {
		return nil, fmt.Errorf("invalid conversation ID %q for relay subject", env.ConversationID)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay envelope: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (*relay.Envelope, error) {
	var env relay.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal relay envelope: %w", err)
	}
	if env.NodeID == "" || env.ConversationID == "" {
		return nil, fmt.Errorf("relay envelope missing node or conversation ID")
	}
	return &env, nil
}
