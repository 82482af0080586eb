package event

// Category groups event types for routing, metrics, and subject naming.
type Category string

const (
	CategoryLifecycle Category = "lifecycle"
	CategoryMessaging Category = "messaging"
	CategoryHITL      Category = "hitl"
	CategoryTooling   Category = "tooling"
	CategorySystem    Category = "system"
	CategoryUnknown   Category = "unknown"
)

// Categorize returns the category an event type belongs to.
func Categorize(t Type) Category {
	switch t {
	case TypeAgentStarted, TypeAgentResumed, TypeAgentCompleted,
		TypeThought, TypeThoughtDelta, TypeRetry,
		TypeTaskCreated, TypeTaskUpdated, TypeTaskCompleted, TypeContextCompacted:
		return CategoryLifecycle
	case TypeUserMessage, TypeAssistantMessage,
		TypeTextStart, TypeTextDelta, TypeTextEnd,
		TypeSuggestionsUpdated, TypeTitleUpdated, TypeAttachmentAdded, TypeMessageRedacted:
		return CategoryMessaging
	case TypeClarificationAsked, TypeClarificationAnswered,
		TypeDecisionAsked, TypeDecisionMade,
		TypeEnvVarRequested, TypeEnvVarProvided,
		TypePermissionAsked, TypePermissionReplied,
		TypeDoomLoopDetected, TypeDoomLoopIntervened:
		return CategoryHITL
	case TypeAct, TypeActDelta, TypeObserve,
		TypeSandboxCreated, TypeSandboxReady, TypeSandboxTerminated, TypeSandboxError,
		TypeCommandStarted, TypeCommandOutput, TypeCommandCompleted,
		TypeFileCreated, TypeFileUpdated, TypeFileDeleted:
		return CategoryTooling
	case TypeConnected, TypeHeartbeat, TypeError, TypeCancelled,
		TypeCostUpdated, TypeUsageUpdated, TypeSnapshotSaved,
		TypeAppContextInjected, TypeRateLimited:
		return CategorySystem
	default:
		return CategoryUnknown
	}
}

// IsDelta reports whether t is an incremental fragment that must be
// accumulated into a streaming buffer rather than rendered on its own.
func IsDelta(t Type) bool {
	switch t {
	case TypeTextDelta, TypeThoughtDelta, TypeActDelta:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether t closes open streaming buffers and flips the
// conversation out of streaming status.
func IsTerminal(t Type) bool {
	switch t {
	case TypeAgentCompleted, TypeError, TypeCancelled:
		return true
	default:
		return false
	}
}

// RequiresHumanInput reports whether t asks the user for input. These events
// populate a pending slot and must never be silently dropped.
func RequiresHumanInput(t Type) bool {
	switch t {
	case TypeClarificationAsked, TypeDecisionAsked, TypeEnvVarRequested, TypePermissionAsked:
		return true
	default:
		return false
	}
}

// IsSaveTrigger reports whether the transport layer should persist a state
// snapshot after applying t. Advisory only; does not affect state shape.
func IsSaveTrigger(t Type) bool {
	switch t {
	case TypeUserMessage, TypeAssistantMessage, TypeObserve,
		TypeAgentCompleted, TypeError, TypeCancelled,
		TypeClarificationAnswered, TypeDecisionMade,
		TypeEnvVarProvided, TypePermissionReplied:
		return true
	default:
		return false
	}
}

// IsCostRelevant reports whether t should trigger a refresh of displayed
// cost. Advisory only.
func IsCostRelevant(t Type) bool {
	switch t {
	case TypeCostUpdated, TypeUsageUpdated, TypeObserve, TypeAgentCompleted:
		return true
	default:
		return false
	}
}
