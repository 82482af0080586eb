package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/agent-timeline/internal/event"
)

func pageEvent(id string, timeUs int64, counter uint64) event.Event {
	return event.Event{
		ID:             id,
		ConversationID: "conv-1",
		Type:           event.TypeUserMessage,
		EventTimeUs:    timeUs,
		EventCounter:   counter,
		Message:        &event.MessagePayload{Role: "user", Content: id},
	}
}

func TestBuildPageKeepsNewestEntries(t *testing.T) {
	older := []event.Event{
		pageEvent("e1", 1000, 1),
		pageEvent("e2", 2000, 2),
		pageEvent("e3", 3000, 3),
	}

	page := buildPage(older, event.Cursor{TimeUs: 9000, Counter: 9}, 2)

	assert.True(t, page.HasMore)
	require.Len(t, page.Events, 2)
	assert.Equal(t, "e2", page.Events[0].ID, "trimming drops the oldest entries first")
	assert.Equal(t, "e3", page.Events[1].ID)
	assert.Equal(t, int64(2000), page.EarliestTimeUs)
	assert.Equal(t, uint64(2), page.EarliestCounter)
}

func TestBuildPageWithinLimit(t *testing.T) {
	older := []event.Event{
		pageEvent("e1", 1000, 1),
		pageEvent("e2", 2000, 2),
	}

	page := buildPage(older, event.Cursor{TimeUs: 9000, Counter: 9}, 10)

	assert.False(t, page.HasMore)
	require.Len(t, page.Events, 2)
	assert.Equal(t, int64(1000), page.EarliestTimeUs)
	assert.Equal(t, uint64(1), page.EarliestCounter)
}

func TestBuildPageEmptyKeepsCursor(t *testing.T) {
	page := buildPage(nil, event.Cursor{TimeUs: 9000, Counter: 4}, 10)

	assert.False(t, page.HasMore)
	assert.Empty(t, page.Events)
	assert.Equal(t, int64(9000), page.EarliestTimeUs, "an empty page must not move the cursor")
	assert.Equal(t, uint64(4), page.EarliestCounter)
}
