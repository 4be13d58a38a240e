package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
	"github.com/angelmondragon/partscan-backend/pkg/outbox/registry"
)

type disposition int

const (
	dispositionPublished disposition = iota
	dispositionRetry
	dispositionDeadLetter
)

// delivery is the result of trying to publish one outbox row.
type delivery struct {
	event    models.OutboxEvent
	topic    string
	envelope outbox.PayloadEnvelope
	outcome  disposition
	reason   enums.OutboxDLQErrorReason
	err      error
}

type drainSummary struct {
	claimed      int
	published    int
	retrying     int
	deadLettered int
	pending      int64
}

// drain claims one batch, publishes each row and records the outcome in the
// same transaction, so a crash mid-batch republishes rather than loses rows.
func (s *Service) drain(ctx context.Context) (drainSummary, error) {
	var summary drainSummary
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		summary = drainSummary{}
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		summary.claimed = len(events)
		for _, event := range events {
			d := s.deliver(ctx, event)
			if err := s.settle(ctx, tx, d); err != nil {
				return err
			}
			switch d.outcome {
			case dispositionPublished:
				summary.published++
			case dispositionRetry:
				summary.retrying++
			case dispositionDeadLetter:
				summary.deadLettered++
			}
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	if summary.claimed > 0 {
		pending, err := s.repo.CountPending(nil)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "count pending outbox rows failed")
		} else {
			summary.pending = pending
			s.metrics.SetPending(pending)
		}
	}
	return summary, nil
}

func (s *Service) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	d := delivery{event: event}

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return d.deadLetter(enums.OutboxDLQReasonNonRetryable, err)
	}
	d.topic = resolved.Descriptor.Topic
	d.envelope = resolved.Envelope

	err = s.publish(ctx, event, resolved)
	var nonRetry registry.NonRetryableError
	switch {
	case err == nil:
		d.outcome = dispositionPublished
	case errors.As(err, &nonRetry):
		return d.deadLetter(enums.OutboxDLQReasonNonRetryable, err)
	case event.AttemptCount+1 >= s.maxAttempts:
		return d.deadLetter(enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err))
	default:
		d.outcome = dispositionRetry
		d.err = err
	}
	return d
}

func (d delivery) deadLetter(reason enums.OutboxDLQErrorReason, err error) delivery {
	d.outcome = dispositionDeadLetter
	d.reason = reason
	d.err = err
	return d
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, d delivery) error {
	logCtx := s.logg.WithFields(ctx, s.logFields(d))

	switch d.outcome {
	case dispositionPublished:
		if err := s.repo.MarkPublishedTx(tx, d.event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", d.event.ID, err)
		}
		s.metrics.IncPublished(string(d.event.EventType))
		s.logg.Debug(logCtx, "outbox event published")

	case dispositionRetry:
		s.logg.Warn(s.logg.WithField(logCtx, "error", d.err.Error()), "outbox publish failed, will retry")
		if err := s.repo.MarkFailedTx(tx, d.event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", d.event.ID, err)
		}
		s.metrics.IncFailed(string(d.event.EventType))

	case dispositionDeadLetter:
		s.logg.Warn(s.logg.WithField(logCtx, "error", d.err.Error()), "outbox event dead-lettered")
		msg := d.err.Error()
		entry := models.OutboxDLQ{
			EventID:       d.event.ID,
			EventType:     d.event.EventType,
			AggregateType: d.event.AggregateType,
			AggregateID:   d.event.AggregateID,
			Payload:       d.event.Payload,
			ErrorReason:   d.reason,
			ErrorMessage:  &msg,
			AttemptCount:  d.event.AttemptCount,
			FailedAt:      time.Now().UTC(),
		}
		if err := s.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", d.event.ID, err)
		}
		if err := s.repo.MarkTerminalTx(tx, d.event.ID, d.err, s.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", d.event.ID, err)
		}
		s.metrics.IncDeadLettered(string(d.reason))
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, resolved.Envelope),
	})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

// messageAttributes lets subscribers filter on event type, aggregate or the
// operator behind the change without decoding the body.
func messageAttributes(event models.OutboxEvent, envelope outbox.PayloadEnvelope) map[string]string {
	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID,
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if envelope.Actor != nil {
		if envelope.Actor.Operator != "" {
			attrs["operator"] = envelope.Actor.Operator
		}
		if envelope.Actor.Source != "" {
			attrs["source"] = envelope.Actor.Source
		}
	}
	return attrs
}

func (s *Service) logFields(d delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":      d.event.ID.String(),
		"event_type":     d.event.EventType,
		"aggregate_type": d.event.AggregateType,
		"aggregate_id":   d.event.AggregateID,
		"attempt_count":  d.event.AttemptCount,
	}
	if d.envelope.EventID != "" {
		fields["event_id"] = d.envelope.EventID
	}
	if d.topic != "" {
		fields["topic"] = d.topic
	}
	if d.outcome == dispositionDeadLetter {
		fields["error_reason"] = d.reason
	}
	return fields
}
