package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/cadencehq/agent-timeline/internal/event"
	"github.com/cadencehq/agent-timeline/internal/timeline"
)

const (
	// StreamName is the name of the agent events stream.
	StreamName = "AGENT_EVENTS"

	// SubjectPrefix is the prefix for all agent event subjects.
	SubjectPrefix = "agentev"
)

// EventHandler receives decoded events from the consumer, in stream order.
type EventHandler func(ctx context.Context, ev event.Event)

// EventStream handles JetStream operations for the agent event transport:
// publishing, the live consumer feeding the timeline engine, and history
// page fetches for backfill.
type EventStream struct {
	client *Client
}

// NewEventStream creates a new event stream manager.
func NewEventStream(client *Client) *EventStream {
	return &EventStream{client: client}
}

// EnsureStream ensures the agent events stream exists with proper configuration.
func (m *EventStream) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    100 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "All agent conversation events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for one event.
func EventSubject(ev event.Event) string {
	return fmt.Sprintf("%s.%s.%s.%s",
		SubjectPrefix, ev.ConversationID, event.Categorize(ev.Type), ev.Type)
}

// ConversationFilter returns the filter subject for all events in a conversation.
func ConversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.>", SubjectPrefix, conversationID)
}

// PublishEvent publishes an event. Used by the HITL response path; the
// response only takes local effect once it round-trips through the consumer.
func (m *EventStream) PublishEvent(ctx context.Context, ev event.Event) (uint64, error) {
	if err := ev.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to publish invalid event: %w", err)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, EventSubject(ev), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// Consume runs the live consumer, decoding each event and handing it to the
// handler in stream order. Malformed events are logged and skipped; they are
// a transport contract violation, not a reducer concern. Blocks until ctx is
// done.
func (m *EventStream) Consume(ctx context.Context, durable string, handler EventHandler) error {
	js := m.client.JetStream()

	consumer, err := js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: fmt.Sprintf("%s.>", SubjectPrefix),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ev, err := event.Decode(msg.Data())
		if err != nil {
			m.client.logger.Error("dropping malformed event",
				zap.Error(err),
				zap.String("subject", msg.Subject()),
			)
			msg.Term()
			return
		}
		handler(ctx, ev)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return ctx.Err()
}

// FetchEarlier returns a page of events for one conversation strictly older
// than the given cursor, newest-bounded to limit entries, for backfill
// pagination.
func (m *EventStream) FetchEarlier(ctx context.Context, conversationID string, before event.Cursor, limit int) (timeline.Page, error) {
	js := m.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: ConversationFilter(conversationID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return timeline.Page{}, fmt.Errorf("failed to create consumer: %w", err)
	}

	var older []event.Event
	reachedBoundary := false

	for !reachedBoundary {
		batch, err := consumer.Fetch(256, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return timeline.Page{}, fmt.Errorf("failed to fetch events: %w", err)
		}

		n := 0
		for msg := range batch.Messages() {
			n++
			ev, err := event.Decode(msg.Data())
			if err != nil {
				m.client.logger.Warn("skipping malformed historical event",
					zap.Error(err),
					zap.String("subject", msg.Subject()),
				)
				continue
			}
			if !ev.Cursor().Before(before) {
				// The stream is cursor-ordered per conversation, so the first
				// event at or past the cursor marks the end of the history
				// range. Stop here instead of draining the live tail.
				reachedBoundary = true
				break
			}
			older = append(older, ev)
		}
		if batch.Error() != nil && batch.Error() != context.DeadlineExceeded {
			return timeline.Page{}, fmt.Errorf("batch error: %w", batch.Error())
		}
		if n == 0 {
			break
		}
	}

	return buildPage(older, before, limit), nil
}

// buildPage trims collected history to the newest limit entries and derives
// the cursor the next backfill request should page from.
func buildPage(older []event.Event, before event.Cursor, limit int) timeline.Page {
	page := timeline.Page{HasMore: len(older) > limit}
	if page.HasMore {
		older = older[len(older)-limit:]
	}
	page.Events = older
	if len(older) > 0 {
		page.EarliestTimeUs = older[0].EventTimeUs
		page.EarliestCounter = older[0].EventCounter
	} else {
		page.EarliestTimeUs = before.TimeUs
		page.EarliestCounter = before.Counter
	}
	return page
}
