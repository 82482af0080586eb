package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/agent-timeline/internal/event"
)

func TestStoreOpenCloseGet(t *testing.T) {
	st := NewStore(0)

	s, err := st.Open("conv-a")
	require.NoError(t, err)
	assert.Equal(t, "conv-a", s.ConversationID)

	_, err = st.Open("conv-a")
	assert.ErrorIs(t, err, ErrConversationExists)

	got, err := st.Get("conv-a")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	require.NoError(t, st.Close("conv-a"))
	_, err = st.Get("conv-a")
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, st.Close("conv-a"), ErrConversationNotFound)
}

func TestStoreRoutesEventsByConversation(t *testing.T) {
	st := NewStore(0)
	_, err := st.Open("conv-a")
	require.NoError(t, err)
	_, err = st.Open("conv-b")
	require.NoError(t, err)

	evA := event.Event{
		ID: "e1", ConversationID: "conv-a", Type: event.TypeUserMessage,
		EventTimeUs: 1000, EventCounter: 1,
		Message: &event.MessagePayload{Role: "user", Content: "for a"},
	}
	_, err = st.Apply(evA)
	require.NoError(t, err)

	a, _ := st.Get("conv-a")
	b, _ := st.Get("conv-b")
	assert.Len(t, a.Timeline, 1)
	assert.Empty(t, b.Timeline, "event for conversation A must never reach B")
}

func TestStoreDropsEventsForUnknownConversations(t *testing.T) {
	st := NewStore(0)

	ev := event.Event{
		ID: "e1", ConversationID: "ghost", Type: event.TypeUserMessage,
		EventTimeUs: 1000, EventCounter: 1,
	}
	_, err := st.Apply(ev)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.Empty(t, st.List(), "unknown conversations are never created implicitly")
}

func TestStreamAdmissionCap(t *testing.T) {
	st := NewStore(5)

	for i := 0; i < 5; i++ {
		require.NoError(t, st.TryAcquireStream())
	}
	assert.Equal(t, 5, st.StreamingCount())

	// The sixth is rejected, not queued.
	assert.ErrorIs(t, st.TryAcquireStream(), ErrStreamLimitReached)

	// Stopping one stream admits one more.
	st.ReleaseStream()
	assert.NoError(t, st.TryAcquireStream())
	assert.ErrorIs(t, st.TryAcquireStream(), ErrStreamLimitReached)
}

func TestReleaseStreamNeverGoesNegative(t *testing.T) {
	st := NewStore(2)
	st.ReleaseStream()
	assert.Equal(t, 0, st.StreamingCount())
	require.NoError(t, st.TryAcquireStream())
	assert.Equal(t, 1, st.StreamingCount())
}

func TestStoreAbortDoesNotAffectOtherConversations(t *testing.T) {
	st := NewStore(0)
	_, err := st.Open("conv-a")
	require.NoError(t, err)
	_, err = st.Open("conv-b")
	require.NoError(t, err)

	require.NoError(t, st.TryAcquireStream())
	require.NoError(t, st.TryAcquireStream())

	aborted, err := st.Abort("conv-a", true)
	require.NoError(t, err)
	assert.Equal(t, StatusError, aborted.StreamStatus)

	st.ReleaseStream()
	assert.Equal(t, 1, st.StreamingCount(), "only the aborted conversation's slot is released")
}

func TestStoreMergeEarlierInstallsSnapshot(t *testing.T) {
	st := NewStore(0)
	_, err := st.Open(testConvID)
	require.NoError(t, err)

	_, err = st.Apply(histEvent("live-1", 5000, 1))
	require.NoError(t, err)

	page := Page{
		Events:          []event.Event{histEvent("old-1", 2000, 1)},
		EarliestTimeUs:  2000,
		EarliestCounter: 1,
	}
	merged, err := st.MergeEarlier(testConvID, page)
	require.NoError(t, err)
	assert.Len(t, merged.Timeline, 2)

	got, err := st.Get(testConvID)
	require.NoError(t, err)
	assert.Len(t, got.Timeline, 2)
}
