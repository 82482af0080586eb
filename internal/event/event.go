// Package event defines the conversation event model for the timeline engine.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies one kind of conversation event. The set is closed: the
// reducer switches exhaustively over these constants and treats anything
// else as timeline-only content.
type Type string

// Agent lifecycle events.
const (
	TypeAgentStarted     Type = "agent_started"
	TypeAgentResumed     Type = "agent_resumed"
	TypeAgentCompleted   Type = "agent_completed"
	TypeThought          Type = "thought"
	TypeThoughtDelta     Type = "thought_delta"
	TypeRetry            Type = "retry"
	TypeTaskCreated      Type = "task_created"
	TypeTaskUpdated      Type = "task_updated"
	TypeTaskCompleted    Type = "task_completed"
	TypeContextCompacted Type = "context_compacted"
)

// Messaging events.
const (
	TypeUserMessage        Type = "user_message"
	TypeAssistantMessage   Type = "assistant_message"
	TypeTextStart          Type = "text_start"
	TypeTextDelta          Type = "text_delta"
	TypeTextEnd            Type = "text_end"
	TypeSuggestionsUpdated Type = "suggestions_updated"
	TypeTitleUpdated       Type = "title_updated"
	TypeAttachmentAdded    Type = "attachment_added"
	TypeMessageRedacted    Type = "message_redacted"
)

// Human-in-the-loop events.
const (
	TypeClarificationAsked    Type = "clarification_asked"
	TypeClarificationAnswered Type = "clarification_answered"
	TypeDecisionAsked         Type = "decision_asked"
	TypeDecisionMade          Type = "decision_made"
	TypeEnvVarRequested       Type = "env_var_requested"
	TypeEnvVarProvided        Type = "env_var_provided"
	TypePermissionAsked       Type = "permission_asked"
	TypePermissionReplied     Type = "permission_replied"
	TypeDoomLoopDetected      Type = "doom_loop_detected"
	TypeDoomLoopIntervened    Type = "doom_loop_intervened"
)

// Sandbox and tooling events.
const (
	TypeAct               Type = "act"
	TypeActDelta          Type = "act_delta"
	TypeObserve           Type = "observe"
	TypeSandboxCreated    Type = "sandbox_created"
	TypeSandboxReady      Type = "sandbox_ready"
	TypeSandboxTerminated Type = "sandbox_terminated"
	TypeSandboxError      Type = "sandbox_error"
	TypeCommandStarted    Type = "command_started"
	TypeCommandOutput     Type = "command_output"
	TypeCommandCompleted  Type = "command_completed"
	TypeFileCreated       Type = "file_created"
	TypeFileUpdated       Type = "file_updated"
	TypeFileDeleted       Type = "file_deleted"
)

// System events.
const (
	TypeConnected          Type = "connected"
	TypeHeartbeat          Type = "heartbeat"
	TypeError              Type = "error"
	TypeCancelled          Type = "cancelled"
	TypeCostUpdated        Type = "cost_updated"
	TypeUsageUpdated       Type = "usage_updated"
	TypeSnapshotSaved      Type = "snapshot_saved"
	TypeAppContextInjected Type = "app_context_injected"
	TypeRateLimited        Type = "rate_limited"
)

// Types lists every known event type, grouped by category order. Tests use
// this to keep the classifier truth tables exhaustive.
var Types = []Type{
	TypeAgentStarted, TypeAgentResumed, TypeAgentCompleted,
	TypeThought, TypeThoughtDelta, TypeRetry,
	TypeTaskCreated, TypeTaskUpdated, TypeTaskCompleted, TypeContextCompacted,

	TypeUserMessage, TypeAssistantMessage,
	TypeTextStart, TypeTextDelta, TypeTextEnd,
	TypeSuggestionsUpdated, TypeTitleUpdated, TypeAttachmentAdded, TypeMessageRedacted,

	TypeClarificationAsked, TypeClarificationAnswered,
	TypeDecisionAsked, TypeDecisionMade,
	TypeEnvVarRequested, TypeEnvVarProvided,
	TypePermissionAsked, TypePermissionReplied,
	TypeDoomLoopDetected, TypeDoomLoopIntervened,

	TypeAct, TypeActDelta, TypeObserve,
	TypeSandboxCreated, TypeSandboxReady, TypeSandboxTerminated, TypeSandboxError,
	TypeCommandStarted, TypeCommandOutput, TypeCommandCompleted,
	TypeFileCreated, TypeFileUpdated, TypeFileDeleted,

	TypeConnected, TypeHeartbeat, TypeError, TypeCancelled,
	TypeCostUpdated, TypeUsageUpdated, TypeSnapshotSaved,
	TypeAppContextInjected, TypeRateLimited,
}

// Cursor is the total ordering key for events within one conversation.
// TimeUs is a microsecond server timestamp; Counter breaks ties between
// events stamped in the same microsecond.
type Cursor struct {
	TimeUs  int64  `json:"time_us"`
	Counter uint64 `json:"counter"`
}

// Before reports whether c orders strictly before o.
func (c Cursor) Before(o Cursor) bool {
	if c.TimeUs != o.TimeUs {
		return c.TimeUs < o.TimeUs
	}
	return c.Counter < o.Counter
}

// Event is one immutable entry in a conversation's event stream. ID is
// unique per event instance and used only for deduplication; ordering is
// always by (EventTimeUs, EventCounter).
type Event struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Type           Type   `json:"type"`
	EventTimeUs    int64  `json:"event_time_us"`
	EventCounter   uint64 `json:"event_counter"`

	Message     *MessagePayload     `json:"message,omitempty"`
	Text        *TextPayload        `json:"text,omitempty"`
	Thought     *ThoughtPayload     `json:"thought,omitempty"`
	Tool        *ToolPayload        `json:"tool,omitempty"`
	HITL        *HITLPayload        `json:"hitl,omitempty"`
	DoomLoop    *DoomLoopPayload    `json:"doom_loop,omitempty"`
	Agent       *AgentPayload       `json:"agent,omitempty"`
	Cost        *CostPayload        `json:"cost,omitempty"`
	Task        *TaskPayload        `json:"task,omitempty"`
	Suggestions *SuggestionsPayload `json:"suggestions,omitempty"`
	AppContext  *AppContextPayload  `json:"app_context,omitempty"`
	Error       *ErrorPayload       `json:"error,omitempty"`

	// Incomplete marks entries synthesized by the engine when an open
	// streaming buffer is flushed on abort or terminal events. It never
	// appears on the wire.
	Incomplete bool `json:"incomplete,omitempty"`
}

// Cursor returns the event's ordering key.
func (e Event) Cursor() Cursor {
	return Cursor{TimeUs: e.EventTimeUs, Counter: e.EventCounter}
}

// Before reports whether e orders strictly before o.
func (e Event) Before(o Event) bool {
	return e.Cursor().Before(o.Cursor())
}

// MessagePayload carries full user or assistant messages.
type MessagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextPayload carries streamed assistant text. TextID correlates a
// text_start with its deltas and terminal text_end.
type TextPayload struct {
	TextID  string `json:"text_id"`
	Delta   string `json:"delta,omitempty"`
	Content string `json:"content,omitempty"`
}

// ThoughtPayload carries agent reasoning, streamed or whole. Only one
// thought stream is active at a time per conversation, so no key is needed.
type ThoughtPayload struct {
	Delta   string `json:"delta,omitempty"`
	Content string `json:"content,omitempty"`
}

// ToolPayload carries tool execution events, correlated by ToolCallID.
type ToolPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name,omitempty"`
	Args       string `json:"args,omitempty"`
	ArgsDelta  string `json:"args_delta,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HITLPayload carries human-in-the-loop requests and responses, correlated
// by RequestID.
type HITLPayload struct {
	RequestID string   `json:"request_id"`
	Prompt    string   `json:"prompt,omitempty"`
	Options   []string `json:"options,omitempty"`
	VarName   string   `json:"var_name,omitempty"`
	Answer    string   `json:"answer,omitempty"`
}

// DoomLoopPayload describes a detected repetitive, non-progressing pattern
// of agent actions.
type DoomLoopPayload struct {
	RequestID  string `json:"request_id"`
	Pattern    string `json:"pattern,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
}

// AgentPayload carries lifecycle details such as retry attempts.
type AgentPayload struct {
	Attempt int    `json:"attempt,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// CostPayload carries accumulated cost and token usage. The backend is the
// source of truth; values replace, never add.
type CostPayload struct {
	TotalUSD     float64 `json:"total_usd"`
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
}

// TaskPayload carries one entry of the agent's task checklist.
type TaskPayload struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"`
}

// SuggestionsPayload replaces the follow-up suggestion list.
type SuggestionsPayload struct {
	Suggestions []string `json:"suggestions"`
}

// AppContextPayload carries context injected by an external application.
type AppContextPayload struct {
	Source string            `json:"source"`
	Data   map[string]string `json:"data,omitempty"`
}

// ErrorPayload carries terminal or transient error details.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Structural validation errors. These indicate a contract violation by the
// transport layer, not a runtime condition.
var (
	ErrMissingID           = errors.New("event missing id")
	ErrMissingType         = errors.New("event missing type")
	ErrMissingConversation = errors.New("event missing conversation_id")
	ErrMissingOrdering     = errors.New("event missing ordering fields")
)

// Validate checks the structural fields every event must carry.
func (e Event) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	if e.Type == "" {
		return ErrMissingType
	}
	if e.ConversationID == "" {
		return ErrMissingConversation
	}
	if e.EventTimeUs <= 0 {
		return ErrMissingOrdering
	}
	return nil
}

// Decode parses and structurally validates a wire event.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid event: %w", err)
	}
	return e, nil
}
