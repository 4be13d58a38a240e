package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	"github.com/angelmondragon/partscan-backend/pkg/logger"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
	"github.com/angelmondragon/partscan-backend/pkg/outbox/payloads"
)

const consumerName = "operator-notifications"

type creator interface {
	CreateOnce(ctx context.Context, notification *models.Notification) (bool, error)
}

type claimer interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer turns stock and request lifecycle events into notifications.
type Consumer struct {
	repo         creator
	subscription *pubsub.Subscriber
	claims       claimer
	logg         *logger.Logger
}

func NewConsumer(repo creator, subscription *pubsub.Subscriber, claims claimer, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("alerts subscription required")
	}
	if claims == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{repo: repo, subscription: subscription, claims: claims, logg: logg}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.Handle(ctx, msg.ID, msg.Attributes["event_type"], msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Handle processes one delivery and reports whether it should be acked.
// Undecodable messages are acked so they do not redeliver forever.
func (c *Consumer) Handle(ctx context.Context, messageID, eventType string, data []byte) bool {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	kind, err := enums.ParseOutboxEventType(eventType)
	if err != nil {
		c.logg.Warn(logCtx, "unknown event type")
		return true
	}
	switch kind {
	case enums.EventStockDepleted, enums.EventRequestFulfilled, enums.EventRequestCancelled:
	default:
		return true
	}

	envelope, eventID, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(logCtx, "undecodable envelope", err)
		return true
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	notification, err := build(kind, eventID, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return true
	}

	claimed, err := c.claims.Claim(ctx, consumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if !claimed {
		c.logg.Info(logCtx, "event already processed")
		return true
	}

	if _, err := c.repo.CreateOnce(ctx, notification); err != nil {
		c.logg.Error(logCtx, "notification insert failed", err)
		if releaseErr := c.claims.Release(ctx, consumerName, eventID); releaseErr != nil {
			c.logg.Error(logCtx, "idempotency release failed", releaseErr)
		}
		return false
	}
	c.logg.Info(c.logg.WithField(logCtx, "notification_type", string(notification.Type)), "notification created")
	return true
}

func build(eventType enums.OutboxEventType, eventID uuid.UUID, raw json.RawMessage) (*models.Notification, error) {
	n := &models.Notification{EventID: eventID}
	switch eventType {
	case enums.EventStockDepleted:
		var payload payloads.StockDepletedEvent
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		if payload.PartID == "" {
			return nil, fmt.Errorf("part id missing")
		}
		n.Type = enums.NotificationStockDepleted
		n.PartID = &payload.PartID
		if payload.Quantity == 0 {
			n.Title = fmt.Sprintf("Part %s is out of stock", payload.PartID)
		} else {
			n.Title = fmt.Sprintf("Part %s is low on stock", payload.PartID)
		}
		n.Message = fmt.Sprintf("Part %s has %d on hand (threshold %d). Restock before the next build.",
			payload.PartID, payload.Quantity, payload.Threshold)
	case enums.EventRequestFulfilled:
		var payload payloads.RequestFulfilledEvent
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		if payload.RequestID == uuid.Nil {
			return nil, fmt.Errorf("request id missing")
		}
		n.Type = enums.NotificationRequestFulfilled
		n.RequestID = &payload.RequestID
		n.Title = fmt.Sprintf("Request for %s fulfilled", payload.ProductID)
		n.Message = fmt.Sprintf("All %d parts for request %s have been scanned.", payload.NeededTotal, payload.RequestID)
	case enums.EventRequestCancelled:
		var payload payloads.RequestCancelledEvent
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		if payload.RequestID == uuid.Nil {
			return nil, fmt.Errorf("request id missing")
		}
		n.Type = enums.NotificationRequestCancelled
		n.RequestID = &payload.RequestID
		n.Title = fmt.Sprintf("Request for %s cancelled", payload.ProductID)
		n.Message = fmt.Sprintf("Request %s was cancelled at %d of %d scanned. Scanned parts were not returned to stock.",
			payload.RequestID, payload.ScannedTotal, payload.NeededTotal)
	default:
		return nil, fmt.Errorf("unsupported event type %s", eventType)
	}
	return n, nil
}
