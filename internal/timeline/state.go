// Package timeline implements the per-conversation event-timeline engine:
// the state reducer, agent execution state machine, multi-conversation
// store, history backfill merge, and HITL correlation.
package timeline

import (
	"github.com/cadencehq/agent-timeline/internal/event"
)

// StreamStatus is the live-streaming status of one conversation.
type StreamStatus string

const (
	StatusIdle       StreamStatus = "idle"
	StatusConnecting StreamStatus = "connecting"
	StatusStreaming  StreamStatus = "streaming"
	StatusError      StreamStatus = "error"
)

// ToolCallStatus is the lifecycle status of one tool invocation.
type ToolCallStatus string

const (
	ToolPreparing ToolCallStatus = "preparing"
	ToolRunning   ToolCallStatus = "running"
	ToolSuccess   ToolCallStatus = "success"
	ToolFailed    ToolCallStatus = "failed"
)

// ActiveToolCall tracks one tool invocation from act to observe.
type ActiveToolCall struct {
	ToolCallID  string         `json:"tool_call_id"`
	ToolName    string         `json:"tool_name"`
	Status      ToolCallStatus `json:"status"`
	Args        string         `json:"args,omitempty"`
	PartialArgs string         `json:"partial_args,omitempty"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartTimeUs int64          `json:"start_time_us"`
	EndTimeUs   int64          `json:"end_time_us,omitempty"`
	DurationUs  int64          `json:"duration_us,omitempty"`
}

// PendingTool is one entry of the in-flight tool name stack. Completions
// pop by call identity, not strictly LIFO, to tolerate reordered observes.
type PendingTool struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
}

// TextBuffer accumulates streamed assistant text for one text_id until the
// matching text_end arrives.
type TextBuffer struct {
	TextID      string `json:"text_id"`
	Content     string `json:"content"`
	StartTimeUs int64  `json:"start_time_us"`
}

// HITLKind distinguishes the four pending-request slots.
type HITLKind string

const (
	HITLClarification HITLKind = "clarification"
	HITLDecision      HITLKind = "decision"
	HITLEnvVar        HITLKind = "env_var"
	HITLPermission    HITLKind = "permission"
)

// PendingRequest is one outstanding human-in-the-loop prompt.
type PendingRequest struct {
	Kind        HITLKind `json:"kind"`
	RequestID   string   `json:"request_id"`
	Prompt      string   `json:"prompt,omitempty"`
	Options     []string `json:"options,omitempty"`
	VarName     string   `json:"var_name,omitempty"`
	AskedTimeUs int64    `json:"asked_time_us"`
}

// DoomLoopRecord is the latest unaddressed doom-loop detection. A newer
// detection replaces it; an intervention with a matching request id clears it.
type DoomLoopRecord struct {
	RequestID      string `json:"request_id"`
	Pattern        string `json:"pattern,omitempty"`
	Iterations     int    `json:"iterations,omitempty"`
	DetectedTimeUs int64  `json:"detected_time_us"`
}

// TaskItem is one entry of the agent's ordered task checklist.
type TaskItem struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// CostTotals are last-write-wins accumulated cost figures from the backend.
type CostTotals struct {
	TotalUSD     float64 `json:"total_usd"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
}

// ConversationState is the complete renderable snapshot of one conversation.
// It is mutated only through Reduce, MergeEarlier, and Abort, which return
// fresh copies and never modify their input.
type ConversationState struct {
	ConversationID string `json:"conversation_id"`

	// Timeline holds events ordered by (event_time_us, event_counter),
	// append-only from live streaming; backfill prepends strictly older
	// history.
	Timeline []event.Event `json:"timeline"`

	// Pagination cursors for history backfill.
	HasEarlier      bool   `json:"has_earlier"`
	EarliestTimeUs  int64  `json:"earliest_time_us"`
	EarliestCounter uint64 `json:"earliest_counter"`

	StreamStatus StreamStatus `json:"stream_status"`

	// Streaming buffers surfaced as provisional content.
	TextBuffers         map[string]*TextBuffer `json:"text_buffers,omitempty"`
	ThoughtBuffer       string                 `json:"thought_buffer,omitempty"`
	IsThinkingStreaming bool                   `json:"is_thinking_streaming"`

	AgentState AgentState `json:"agent_state"`

	ToolCalls    map[string]*ActiveToolCall `json:"tool_calls,omitempty"`
	PendingTools []PendingTool              `json:"pending_tools,omitempty"`

	Tasks []TaskItem `json:"tasks,omitempty"`

	// At most one pending request per HITL kind. A duplicate "asked" of an
	// occupied kind never overwrites the slot (first-pending-wins).
	PendingClarification *PendingRequest `json:"pending_clarification,omitempty"`
	PendingDecision      *PendingRequest `json:"pending_decision,omitempty"`
	PendingEnvVar        *PendingRequest `json:"pending_env_var,omitempty"`
	PendingPermission    *PendingRequest `json:"pending_permission,omitempty"`

	DoomLoop *DoomLoopRecord `json:"doom_loop,omitempty"`

	Cost        CostTotals        `json:"cost"`
	Suggestions []string          `json:"suggestions,omitempty"`
	AppContext  map[string]string `json:"app_context,omitempty"`
	Title       string            `json:"title,omitempty"`

	// Diagnostics surfaced instead of silently corrected.
	DroppedDuplicates int `json:"dropped_duplicates,omitempty"`
	OutOfOrderEvents  int `json:"out_of_order_events,omitempty"`
	OrphanEvents      int `json:"orphan_events,omitempty"`
	DuplicateAsks     int `json:"duplicate_asks,omitempty"`

	// seen tracks event ids already in the timeline, for deduplication.
	seen map[string]struct{}
	// latest is the ordering key of the newest applied live event.
	latest event.Cursor
	// priorAgentState is restored when a HITL reply lifts awaiting_input.
	priorAgentState AgentState
}

// NewConversationState returns the empty state for a newly opened
// conversation.
func NewConversationState(conversationID string) *ConversationState {
	return &ConversationState{
		ConversationID:  conversationID,
		StreamStatus:    StatusIdle,
		AgentState:      AgentIdle,
		TextBuffers:     make(map[string]*TextBuffer),
		ToolCalls:       make(map[string]*ActiveToolCall),
		seen:            make(map[string]struct{}),
		priorAgentState: AgentIdle,
	}
}

// Clone returns a deep copy. Reduce, MergeEarlier, and Abort clone before
// mutating so callers can hold old snapshots safely.
func (s *ConversationState) Clone() *ConversationState {
	next := *s

	next.Timeline = make([]event.Event, len(s.Timeline))
	copy(next.Timeline, s.Timeline)

	next.TextBuffers = make(map[string]*TextBuffer, len(s.TextBuffers))
	for id, buf := range s.TextBuffers {
		b := *buf
		next.TextBuffers[id] = &b
	}

	next.ToolCalls = make(map[string]*ActiveToolCall, len(s.ToolCalls))
	for id, call := range s.ToolCalls {
		c := *call
		next.ToolCalls[id] = &c
	}

	next.PendingTools = make([]PendingTool, len(s.PendingTools))
	copy(next.PendingTools, s.PendingTools)

	next.Tasks = make([]TaskItem, len(s.Tasks))
	copy(next.Tasks, s.Tasks)

	next.PendingClarification = clonePending(s.PendingClarification)
	next.PendingDecision = clonePending(s.PendingDecision)
	next.PendingEnvVar = clonePending(s.PendingEnvVar)
	next.PendingPermission = clonePending(s.PendingPermission)

	if s.DoomLoop != nil {
		d := *s.DoomLoop
		next.DoomLoop = &d
	}

	next.Suggestions = append([]string(nil), s.Suggestions...)

	if s.AppContext != nil {
		next.AppContext = make(map[string]string, len(s.AppContext))
		for k, v := range s.AppContext {
			next.AppContext[k] = v
		}
	}

	next.seen = make(map[string]struct{}, len(s.seen))
	for id := range s.seen {
		next.seen[id] = struct{}{}
	}

	return &next
}

func clonePending(p *PendingRequest) *PendingRequest {
	if p == nil {
		return nil
	}
	c := *p
	c.Options = append([]string(nil), p.Options...)
	return &c
}

// pendingSlot returns a pointer to the slot field for a HITL kind.
func (s *ConversationState) pendingSlot(kind HITLKind) **PendingRequest {
	switch kind {
	case HITLClarification:
		return &s.PendingClarification
	case HITLDecision:
		return &s.PendingDecision
	case HITLEnvVar:
		return &s.PendingEnvVar
	case HITLPermission:
		return &s.PendingPermission
	default:
		return nil
	}
}

// hasPendingHITL reports whether any pending slot is occupied.
func (s *ConversationState) hasPendingHITL() bool {
	return s.PendingClarification != nil || s.PendingDecision != nil ||
		s.PendingEnvVar != nil || s.PendingPermission != nil
}

// Contains reports whether an event id is already present in the timeline.
func (s *ConversationState) Contains(id string) bool {
	_, ok := s.seen[id]
	return ok
}

// appendEvent adds an event to the live tail of the timeline, marking it
// seen and advancing the latest cursor and backfill cursor bookkeeping.
func (s *ConversationState) appendEvent(ev event.Event) {
	if len(s.Timeline) == 0 {
		s.EarliestTimeUs = ev.EventTimeUs
		s.EarliestCounter = ev.EventCounter
	}
	s.Timeline = append(s.Timeline, ev)
	s.seen[ev.ID] = struct{}{}
	if s.latest.Before(ev.Cursor()) {
		s.latest = ev.Cursor()
	}
}
