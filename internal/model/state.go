package model

import (
	"github.com/cadencehq/agent-timeline/internal/timeline"
)

// StateResponse is the read-only snapshot exposed to rendering layers:
// the conversation state plus the derived HITL summary.
type StateResponse struct {
	State       *timeline.ConversationState `json:"state"`
	HITLSummary *timeline.HITLSummary       `json:"hitl_summary,omitempty"`
}

// BackfillRequest asks for events older than the conversation's current
// earliest ordering key.
type BackfillRequest struct {
	Limit int `json:"limit,omitempty"`
}

// BackfillResponse reports the outcome of a history merge.
type BackfillResponse struct {
	Merged         int   `json:"merged"`
	HasEarlier     bool  `json:"has_earlier"`
	EarliestTimeUs int64 `json:"earliest_time_us"`
	TimelineLength int   `json:"timeline_length"`
}

// HITLResponseRequest submits a human answer to a pending request. The
// pending slot clears only once the response event round-trips through the
// event stream.
type HITLResponseRequest struct {
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	Answer    string `json:"answer"`
}

// HITLResponseAck acknowledges that a response was published.
type HITLResponseAck struct {
	RequestID string `json:"request_id"`
	Sequence  uint64 `json:"sequence"`
}

// ErrorEvent represents an error sent over SSE.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents an SSE keepalive.
type HeartbeatEvent struct {
	TimestampUs int64 `json:"timestamp_us"`
}
