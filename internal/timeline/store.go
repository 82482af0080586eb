package timeline

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cadencehq/agent-timeline/internal/event"
)

var (
	// ErrConversationExists is returned when opening an id twice.
	ErrConversationExists = errors.New("conversation already open")
	// ErrConversationNotFound is returned for ids not present in the store.
	// Events for such conversations are dropped by the caller with a
	// diagnostic; they never create state implicitly.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrStreamLimitReached is returned by TryAcquireStream when the cap on
	// simultaneously streaming conversations is saturated. The store only
	// rejects; queuing policy belongs to the transport layer.
	ErrStreamLimitReached = errors.New("streaming conversation limit reached")
)

// DefaultMaxStreaming is the ceiling on simultaneously streaming
// conversations sharing the connection multiplexer.
const DefaultMaxStreaming = 5

// Store maps conversation ids to independent ConversationStates and routes
// inbound events to the right reducer instance. The streaming admission
// counter is the only state shared across conversations.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*ConversationState

	streaming    atomic.Int64
	maxStreaming int64
}

// NewStore creates a store with the given streaming cap; maxStreaming <= 0
// falls back to DefaultMaxStreaming.
func NewStore(maxStreaming int) *Store {
	if maxStreaming <= 0 {
		maxStreaming = DefaultMaxStreaming
	}
	return &Store{
		conversations: make(map[string]*ConversationState),
		maxStreaming:  int64(maxStreaming),
	}
}

// Open creates empty state for a conversation. A conversation must be
// opened before any of its events are routable.
func (st *Store) Open(conversationID string) (*ConversationState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.conversations[conversationID]; exists {
		return nil, ErrConversationExists
	}
	s := NewConversationState(conversationID)
	st.conversations[conversationID] = s
	return s, nil
}

// Close discards a conversation's state.
func (st *Store) Close(conversationID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.conversations[conversationID]; !exists {
		return ErrConversationNotFound
	}
	delete(st.conversations, conversationID)
	return nil
}

// Get returns the current snapshot for a conversation.
func (st *Store) Get(conversationID string) (*ConversationState, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, exists := st.conversations[conversationID]
	if !exists {
		return nil, ErrConversationNotFound
	}
	return s, nil
}

// List returns the ids of all open conversations.
func (st *Store) List() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := make([]string, 0, len(st.conversations))
	for id := range st.conversations {
		ids = append(ids, id)
	}
	return ids
}

// Apply routes an event to the reducer for its conversation and installs
// the resulting snapshot. Events for conversations not in the store return
// ErrConversationNotFound; the caller logs and drops them.
func (st *Store) Apply(ev event.Event) (*ConversationState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, exists := st.conversations[ev.ConversationID]
	if !exists {
		return nil, ErrConversationNotFound
	}
	next := Reduce(s, ev)
	st.conversations[ev.ConversationID] = next
	return next, nil
}

// MergeEarlier merges a history page into a conversation and installs the
// resulting snapshot.
func (st *Store) MergeEarlier(conversationID string, page Page) (*ConversationState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, exists := st.conversations[conversationID]
	if !exists {
		return nil, ErrConversationNotFound
	}
	next, err := MergeEarlier(s, page)
	if err != nil {
		return nil, err
	}
	st.conversations[conversationID] = next
	return next, nil
}

// Abort flushes a conversation's open buffers and ends its streaming,
// installing the resulting snapshot.
func (st *Store) Abort(conversationID string, failed bool) (*ConversationState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, exists := st.conversations[conversationID]
	if !exists {
		return nil, ErrConversationNotFound
	}
	next := Abort(s, failed)
	st.conversations[conversationID] = next
	return next, nil
}

// TryAcquireStream claims one streaming slot, failing with
// ErrStreamLimitReached when the cap is saturated.
func (st *Store) TryAcquireStream() error {
	for {
		cur := st.streaming.Load()
		if cur >= st.maxStreaming {
			return ErrStreamLimitReached
		}
		if st.streaming.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// ReleaseStream returns a streaming slot claimed by TryAcquireStream.
func (st *Store) ReleaseStream() {
	for {
		cur := st.streaming.Load()
		if cur <= 0 {
			return
		}
		if st.streaming.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// StreamingCount reports the number of claimed streaming slots.
func (st *Store) StreamingCount() int {
	return int(st.streaming.Load())
}
