package timeline

import (
	"fmt"

	"github.com/cadencehq/agent-timeline/internal/event"
)

// ParseHITLKind maps a wire kind string to a HITLKind.
func ParseHITLKind(kind string) (HITLKind, error) {
	switch HITLKind(kind) {
	case HITLClarification, HITLDecision, HITLEnvVar, HITLPermission:
		return HITLKind(kind), nil
	default:
		return "", fmt.Errorf("unknown hitl kind %q", kind)
	}
}

// ResponseType returns the event type that answers a pending request of
// this kind.
func (k HITLKind) ResponseType() event.Type {
	switch k {
	case HITLClarification:
		return event.TypeClarificationAnswered
	case HITLDecision:
		return event.TypeDecisionMade
	case HITLEnvVar:
		return event.TypeEnvVarProvided
	case HITLPermission:
		return event.TypePermissionReplied
	default:
		return ""
	}
}

// HITLSummary is the single UI-facing "what is the user being asked right
// now" record. It is derived on read, never stored, so it cannot drift from
// the raw pending slots.
type HITLSummary struct {
	Kind        HITLKind `json:"kind"`
	RequestID   string   `json:"request_id"`
	Prompt      string   `json:"prompt,omitempty"`
	Options     []string `json:"options,omitempty"`
	VarName     string   `json:"var_name,omitempty"`
	AskedTimeUs int64    `json:"asked_time_us"`
}

// Summarize projects the pending slots into at most one summary by fixed
// precedence: clarification > decision > env-var > permission. Returns nil
// when nothing is pending.
func Summarize(s *ConversationState) *HITLSummary {
	for _, p := range []*PendingRequest{
		s.PendingClarification,
		s.PendingDecision,
		s.PendingEnvVar,
		s.PendingPermission,
	} {
		if p != nil {
			return &HITLSummary{
				Kind:        p.Kind,
				RequestID:   p.RequestID,
				Prompt:      p.Prompt,
				Options:     append([]string(nil), p.Options...),
				VarName:     p.VarName,
				AskedTimeUs: p.AskedTimeUs,
			}
		}
	}
	return nil
}
