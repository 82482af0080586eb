package timeline

// AgentState is the current phase of the agent execution cycle. There is no
// terminal state; conversations are long-lived and cycle indefinitely.
type AgentState string

const (
	AgentIdle          AgentState = "idle"
	AgentThinking      AgentState = "thinking"
	AgentPreparing     AgentState = "preparing"
	AgentActing        AgentState = "acting"
	AgentObserving     AgentState = "observing"
	AgentAwaitingInput AgentState = "awaiting_input"
	AgentRetrying      AgentState = "retrying"
)

// setAgentState moves the machine to next, remembering the interrupted
// state when entering awaiting_input so a HITL reply can restore it.
// Human input blocks progress: while awaiting_input, activity events only
// update the state a reply will restore, never the visible state.
func (s *ConversationState) setAgentState(next AgentState) {
	if next == AgentAwaitingInput {
		if s.AgentState != AgentAwaitingInput {
			s.priorAgentState = s.AgentState
		}
		s.AgentState = AgentAwaitingInput
		return
	}
	if s.AgentState == AgentAwaitingInput {
		s.priorAgentState = next
		return
	}
	s.AgentState = next
}

// forceIdle ends the execution cycle unconditionally. Terminal events and
// aborts override awaiting_input; the conversation is no longer progressing.
func (s *ConversationState) forceIdle() {
	s.AgentState = AgentIdle
	s.priorAgentState = AgentIdle
}

// resumeAgentState lifts awaiting_input after a HITL reply. If other slots
// are still pending the machine stays blocked; otherwise it returns to the
// state that preceded the interruption, defaulting to idle.
func (s *ConversationState) resumeAgentState() {
	if s.hasPendingHITL() {
		s.AgentState = AgentAwaitingInput
		return
	}
	if s.priorAgentState == "" || s.priorAgentState == AgentAwaitingInput {
		s.AgentState = AgentIdle
		return
	}
	s.AgentState = s.priorAgentState
}
