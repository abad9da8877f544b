package ingestion

import (
	"SynthLedger/internal/event"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes committed domain events to NATS for downstream
// consumers on synth.ledger.events.<EventType>.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is one domain event from a committed envelope.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	Index          int             `json:"index"` // position within the envelope
	EventType      string          `json:"event_type"`
	CommandType    string          `json:"command_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Data           json.RawMessage `json:"data"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Subject is where the event is published.
func (p PublishableEvent) Subject() string {
	return EventSubjectPrefix + p.EventType
}

// MsgID deduplicates republished events within the stream window.
func (p PublishableEvent) MsgID() string {
	return fmt.Sprintf("%d-%d", p.Sequence, p.Index)
}

// PublishablesFromEnvelope flattens an envelope into one message per event.
func PublishablesFromEnvelope(env *event.EventEnvelope) ([]PublishableEvent, error) {
	out := make([]PublishableEvent, 0, len(env.Events))
	for i, e := range env.Events {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
		}
		out = append(out, PublishableEvent{
			Sequence:       env.Sequence,
			Index:          i,
			EventType:      e.EventType().String(),
			CommandType:    env.CommandType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Data:           data,
			StateHash:      hex.EncodeToString(env.StateHash[:]),
			Timestamp:      env.Timestamp,
		})
	}
	return out, nil
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Downstream consumers can read the event log directly
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(evt.MsgID()))
	return err
}
