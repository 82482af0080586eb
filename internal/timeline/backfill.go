package timeline

import (
	"errors"
	"sort"

	"github.com/cadencehq/agent-timeline/internal/event"
)

// Page is one batch of historical events returned by the history
// collaborator, strictly older than the state's current earliest event.
type Page struct {
	Events          []event.Event `json:"events"`
	HasMore         bool          `json:"has_more"`
	EarliestTimeUs  int64         `json:"earliest_time_us"`
	EarliestCounter uint64        `json:"earliest_counter"`
}

// ErrPageNotOlder reports a backfill page containing an event at or after
// the state's current earliest ordering key. Pages are range-disjoint from
// live content by construction; a violation is a collaborator bug.
var ErrPageNotOlder = errors.New("backfill page overlaps live timeline range")

// MergeEarlier prepends a page of older history to the timeline,
// deduplicating by event id against existing content (pages may overlap at
// their boundary). Streaming buffers, pending HITL slots, and agent state
// are never touched; backfill is purely additive history.
func MergeEarlier(s *ConversationState, page Page) (*ConversationState, error) {
	next := s.Clone()

	boundary := event.Cursor{TimeUs: next.EarliestTimeUs, Counter: next.EarliestCounter}

	older := make([]event.Event, 0, len(page.Events))
	for _, ev := range page.Events {
		if next.Contains(ev.ID) {
			continue
		}
		if len(next.Timeline) > 0 && !ev.Cursor().Before(boundary) {
			return nil, ErrPageNotOlder
		}
		older = append(older, ev)
	}

	sort.SliceStable(older, func(i, j int) bool {
		return older[i].Before(older[j])
	})

	if len(older) > 0 {
		merged := make([]event.Event, 0, len(older)+len(next.Timeline))
		merged = append(merged, older...)
		merged = append(merged, next.Timeline...)
		next.Timeline = merged
		for _, ev := range older {
			next.seen[ev.ID] = struct{}{}
		}
	}

	next.HasEarlier = page.HasMore
	next.EarliestTimeUs = page.EarliestTimeUs
	next.EarliestCounter = page.EarliestCounter

	return next, nil
}
