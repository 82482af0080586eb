package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cadencehq/agent-timeline/internal/event"
	"github.com/cadencehq/agent-timeline/internal/model"
	natsclient "github.com/cadencehq/agent-timeline/internal/nats"
	"github.com/cadencehq/agent-timeline/internal/timeline"
	"github.com/cadencehq/agent-timeline/pkg/logger"
	"github.com/cadencehq/agent-timeline/pkg/metrics"
	"github.com/cadencehq/agent-timeline/pkg/tracing"
)

// ErrNoPendingRequest is returned when a HITL response names a request id
// that does not match the pending slot of its kind.
var ErrNoPendingRequest = errors.New("no matching pending request")

// SnapshotSaver persists a state snapshot. Invoked on save-trigger events;
// advisory, never on the reduce path's critical section.
type SnapshotSaver func(ctx context.Context, state *timeline.ConversationState)

// TimelineService routes inbound events into the timeline store and serves
// snapshots, backfill, and HITL response submission.
type TimelineService struct {
	store               *timeline.Store
	events              *natsclient.EventStream
	conversationService *ConversationService
	logger              *logger.Logger
	saver               SnapshotSaver
	backfillPageSize    int

	watchMu  sync.Mutex
	watchers map[string]map[chan struct{}]struct{}
}

// NewTimelineService creates a new timeline service.
func NewTimelineService(
	store *timeline.Store,
	events *natsclient.EventStream,
	conversationService *ConversationService,
	backfillPageSize int,
	log *logger.Logger,
) *TimelineService {
	return &TimelineService{
		store:               store,
		events:              events,
		conversationService: conversationService,
		logger:              log,
		backfillPageSize:    backfillPageSize,
		watchers:            make(map[string]map[chan struct{}]struct{}),
	}
}

// SetSnapshotSaver installs the persistence hook for save-trigger events.
func (s *TimelineService) SetSnapshotSaver(saver SnapshotSaver) {
	s.saver = saver
}

// HandleEvent is the live consumer callback: it routes one event to the
// reducer for its conversation and records diagnostics. Events for
// conversations not open in the store are dropped with a diagnostic.
func (s *TimelineService) HandleEvent(ctx context.Context, ev event.Event) {
	ctx, span := tracing.Tracer("timeline").Start(ctx, "timeline.HandleEvent")
	defer span.End()

	start := time.Now()
	prev, err := s.store.Get(ev.ConversationID)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("unknown_conversation").Inc()
		s.logger.Warn("dropping event for unknown conversation",
			zap.String("conversation_id", ev.ConversationID),
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
		)
		return
	}

	next, err := s.store.Apply(ev)
	if err != nil {
		// The conversation was closed between Get and Apply.
		metrics.EventsDropped.WithLabelValues("unknown_conversation").Inc()
		return
	}

	metrics.RecordEventReduced(
		string(event.Categorize(ev.Type)),
		string(ev.Type),
		time.Since(start).Seconds(),
	)
	s.recordDiagnostics(prev, next, ev)
	s.updateHITLGauges(next)

	if event.IsSaveTrigger(ev.Type) && s.saver != nil {
		s.saver(ctx, next)
	}
	if event.IsCostRelevant(ev.Type) {
		s.logger.Debug("cost refresh",
			zap.String("conversation_id", ev.ConversationID),
			zap.Float64("total_usd", next.Cost.TotalUSD),
		)
	}

	s.notify(ev.ConversationID)
}

func (s *TimelineService) recordDiagnostics(prev, next *timeline.ConversationState, ev event.Event) {
	if d := next.DroppedDuplicates - prev.DroppedDuplicates; d > 0 {
		metrics.DuplicateEvents.Add(float64(d))
	}
	if d := next.OrphanEvents - prev.OrphanEvents; d > 0 {
		metrics.OrphanEvents.Add(float64(d))
		s.logger.Warn("event degraded to timeline-only visibility",
			zap.String("conversation_id", ev.ConversationID),
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
		)
	}
	if d := next.OutOfOrderEvents - prev.OutOfOrderEvents; d > 0 {
		metrics.OutOfOrderEvents.Add(float64(d))
		s.logger.Error("out-of-order event applied",
			zap.String("conversation_id", ev.ConversationID),
			zap.String("event_id", ev.ID),
			zap.Int64("event_time_us", ev.EventTimeUs),
		)
	}
	if d := next.DuplicateAsks - prev.DuplicateAsks; d > 0 {
		metrics.DuplicateHITLAsks.Add(float64(d))
		s.logger.Warn("duplicate hitl request ignored; slot still pending",
			zap.String("conversation_id", ev.ConversationID),
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
		)
	}
}

func (s *TimelineService) updateHITLGauges(state *timeline.ConversationState) {
	set := func(kind timeline.HITLKind, pending *timeline.PendingRequest) {
		v := 0.0
		if pending != nil {
			v = 1.0
		}
		metrics.PendingHITLRequests.WithLabelValues(string(kind)).Set(v)
	}
	set(timeline.HITLClarification, state.PendingClarification)
	set(timeline.HITLDecision, state.PendingDecision)
	set(timeline.HITLEnvVar, state.PendingEnvVar)
	set(timeline.HITLPermission, state.PendingPermission)
}

// Snapshot returns the read-only state and derived HITL summary for one
// conversation.
func (s *TimelineService) Snapshot(ctx context.Context, tenantID, conversationID string) (*model.StateResponse, error) {
	if _, err := s.conversationService.Get(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}

	state, err := s.store.Get(conversationID)
	if err != nil {
		return nil, ErrConversationNotFound
	}

	return &model.StateResponse{
		State:       state,
		HITLSummary: timeline.Summarize(state),
	}, nil
}

// LoadEarlier fetches one page of older history from the event stream and
// merges it into the conversation's timeline.
func (s *TimelineService) LoadEarlier(ctx context.Context, tenantID, conversationID string, limit int) (*model.BackfillResponse, error) {
	ctx, span := tracing.Tracer("timeline").Start(ctx, "timeline.LoadEarlier")
	defer span.End()

	if _, err := s.conversationService.Get(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	state, err := s.store.Get(conversationID)
	if err != nil {
		return nil, ErrConversationNotFound
	}

	if limit <= 0 || limit > s.backfillPageSize {
		limit = s.backfillPageSize
	}

	before := event.Cursor{TimeUs: state.EarliestTimeUs, Counter: state.EarliestCounter}
	if len(state.Timeline) == 0 {
		// Nothing loaded yet: every stored event counts as earlier.
		before = event.Cursor{TimeUs: math.MaxInt64, Counter: math.MaxUint64}
	}
	page, err := s.events.FetchEarlier(ctx, conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history page: %w", err)
	}

	merged, err := s.store.MergeEarlier(conversationID, page)
	if err != nil {
		return nil, fmt.Errorf("failed to merge history page: %w", err)
	}

	metrics.RecordBackfill(len(page.Events))
	s.notify(conversationID)

	return &model.BackfillResponse{
		Merged:         len(page.Events),
		HasEarlier:     merged.HasEarlier,
		EarliestTimeUs: merged.EarliestTimeUs,
		TimelineLength: len(merged.Timeline),
	}, nil
}

// SubmitHITLResponse publishes a human answer to the event stream. The
// pending slot is intentionally left untouched here: it clears only when
// the response event round-trips back through the consumer.
func (s *TimelineService) SubmitHITLResponse(ctx context.Context, tenantID, conversationID string, req *model.HITLResponseRequest) (*model.HITLResponseAck, error) {
	if _, err := s.conversationService.Get(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	state, err := s.store.Get(conversationID)
	if err != nil {
		return nil, ErrConversationNotFound
	}

	kind, err := timeline.ParseHITLKind(req.Kind)
	if err != nil {
		return nil, err
	}

	summary := timeline.Summarize(state)
	if summary == nil || summary.Kind != kind || summary.RequestID != req.RequestID {
		return nil, ErrNoPendingRequest
	}

	now := time.Now()
	ev := event.Event{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Type:           kind.ResponseType(),
		EventTimeUs:    now.UnixMicro(),
		HITL: &event.HITLPayload{
			RequestID: req.RequestID,
			Answer:    req.Answer,
		},
	}

	seq, err := s.events.PublishEvent(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to publish hitl response: %w", err)
	}

	s.logger.Info("hitl response published",
		zap.String("conversation_id", conversationID),
		zap.String("request_id", req.RequestID),
		zap.String("kind", req.Kind),
	)

	return &model.HITLResponseAck{RequestID: req.RequestID, Sequence: seq}, nil
}

// Watch registers for change notifications on one conversation. The
// returned cancel func must be called when the watcher goes away.
func (s *TimelineService) Watch(conversationID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.watchMu.Lock()
	set, ok := s.watchers[conversationID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		s.watchers[conversationID] = set
	}
	set[ch] = struct{}{}
	s.watchMu.Unlock()

	cancel := func() {
		s.watchMu.Lock()
		if set, ok := s.watchers[conversationID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(s.watchers, conversationID)
			}
		}
		s.watchMu.Unlock()
	}
	return ch, cancel
}

func (s *TimelineService) notify(conversationID string) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for ch := range s.watchers[conversationID] {
		select {
		case ch <- struct{}{}:
		default: // watcher is behind; it will pick up the latest snapshot
		}
	}
}
