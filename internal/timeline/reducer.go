package timeline

import (
	"fmt"
	"sort"

	"github.com/cadencehq/agent-timeline/internal/event"
)

// Reduce applies one event to a conversation state and returns the next
// snapshot. It is a pure function of (state, event): the input state is
// never modified, no clocks are read, and no I/O happens, so a state can be
// replayed from a persisted event log.
//
// Events whose correlation ids (tool_call_id, text_id, request_id) do not
// resolve degrade to timeline-only entries; the reducer never fails closed.
func Reduce(s *ConversationState, ev event.Event) *ConversationState {
	next := s.Clone()
	next.apply(ev)
	return next
}

func (s *ConversationState) apply(ev event.Event) {
	// Dedup by id. Ordering never uses id.
	if s.Contains(ev.ID) {
		s.DroppedDuplicates++
		return
	}
	// Every applied id is remembered, including buffered-only kinds that
	// never land on the timeline, so at-least-once redelivery cannot
	// double-accumulate a streaming buffer.
	s.seen[ev.ID] = struct{}{}

	// The transport contract is in-order delivery per conversation. A
	// misordered live event is a defect to surface, not to resequence.
	if len(s.Timeline) > 0 && ev.Cursor().Before(s.latest) {
		s.OutOfOrderEvents++
	}

	switch ev.Type {

	// Messaging.
	case event.TypeUserMessage:
		s.appendEvent(ev)

	case event.TypeAssistantMessage:
		// A full assistant message supersedes any provisional streamed text
		// and closes the thought stream. It ends the current execution cycle
		// unless the agent is blocked on human input.
		s.TextBuffers = make(map[string]*TextBuffer)
		s.ThoughtBuffer = ""
		s.IsThinkingStreaming = false
		s.setAgentState(AgentIdle)
		s.appendEvent(ev)

	case event.TypeTextStart:
		if ev.Text != nil && ev.Text.TextID != "" {
			s.TextBuffers[ev.Text.TextID] = &TextBuffer{
				TextID:      ev.Text.TextID,
				StartTimeUs: ev.EventTimeUs,
			}
			s.StreamStatus = StatusStreaming
		} else {
			s.orphan(ev)
		}

	case event.TypeTextDelta:
		if buf := s.textBuffer(ev); buf != nil {
			buf.Content += ev.Text.Delta
			s.StreamStatus = StatusStreaming
		} else {
			s.orphan(ev)
		}

	case event.TypeTextEnd:
		if buf := s.textBuffer(ev); buf != nil {
			final := ev
			if final.Text.Content == "" {
				// Terminal event without authoritative content falls back
				// to the accumulated buffer.
				text := *ev.Text
				text.Content = buf.Content
				final.Text = &text
			}
			delete(s.TextBuffers, ev.Text.TextID)
			s.appendEvent(final)
		} else {
			s.orphan(ev)
		}

	// Thinking.
	case event.TypeThoughtDelta:
		if ev.Thought != nil {
			s.ThoughtBuffer += ev.Thought.Delta
		}
		s.IsThinkingStreaming = true
		s.StreamStatus = StatusStreaming
		s.setAgentState(AgentThinking)

	case event.TypeThought:
		s.ThoughtBuffer = ""
		s.IsThinkingStreaming = false
		s.setAgentState(AgentThinking)
		s.appendEvent(ev)

	// Tool execution.
	case event.TypeAct:
		if ev.Tool == nil || ev.Tool.ToolCallID == "" {
			s.orphan(ev)
			break
		}
		s.ToolCalls[ev.Tool.ToolCallID] = &ActiveToolCall{
			ToolCallID:  ev.Tool.ToolCallID,
			ToolName:    ev.Tool.ToolName,
			Status:      ToolPreparing,
			Args:        ev.Tool.Args,
			StartTimeUs: ev.EventTimeUs,
		}
		s.PendingTools = append(s.PendingTools, PendingTool{
			ToolCallID: ev.Tool.ToolCallID,
			ToolName:   ev.Tool.ToolName,
		})
		s.setAgentState(AgentPreparing)
		s.appendEvent(ev)

	case event.TypeActDelta:
		if call := s.toolCall(ev); call != nil {
			call.PartialArgs += ev.Tool.ArgsDelta
		} else {
			s.orphan(ev)
		}

	case event.TypeCommandStarted:
		// Execution confirmed running for the correlated call.
		if call := s.toolCall(ev); call != nil && call.Status == ToolPreparing {
			call.Status = ToolRunning
			s.setAgentState(AgentActing)
		}
		s.appendEvent(ev)

	case event.TypeObserve:
		call := s.toolCall(ev)
		if call == nil {
			s.orphan(ev)
			break
		}
		if ev.Tool.Success != nil && *ev.Tool.Success {
			call.Status = ToolSuccess
		} else {
			call.Status = ToolFailed
		}
		call.Output = ev.Tool.Output
		call.Error = ev.Tool.Error
		call.EndTimeUs = ev.EventTimeUs
		call.DurationUs = call.EndTimeUs - call.StartTimeUs
		s.popPendingTool(ev.Tool.ToolCallID)
		s.setAgentState(AgentObserving)
		s.appendEvent(ev)

	// Human in the loop.
	case event.TypeClarificationAsked:
		s.askHITL(ev, HITLClarification)
	case event.TypeDecisionAsked:
		s.askHITL(ev, HITLDecision)
	case event.TypeEnvVarRequested:
		s.askHITL(ev, HITLEnvVar)
	case event.TypePermissionAsked:
		s.askHITL(ev, HITLPermission)

	case event.TypeClarificationAnswered:
		s.answerHITL(ev, HITLClarification)
	case event.TypeDecisionMade:
		s.answerHITL(ev, HITLDecision)
	case event.TypeEnvVarProvided:
		s.answerHITL(ev, HITLEnvVar)
	case event.TypePermissionReplied:
		s.answerHITL(ev, HITLPermission)

	// Doom loop.
	case event.TypeDoomLoopDetected:
		if ev.DoomLoop != nil {
			// A second detection while one is unaddressed is updated
			// analysis of the same stall; it replaces the record.
			s.DoomLoop = &DoomLoopRecord{
				RequestID:      ev.DoomLoop.RequestID,
				Pattern:        ev.DoomLoop.Pattern,
				Iterations:     ev.DoomLoop.Iterations,
				DetectedTimeUs: ev.EventTimeUs,
			}
		}
		s.appendEvent(ev)

	case event.TypeDoomLoopIntervened:
		if ev.DoomLoop != nil && s.DoomLoop != nil && s.DoomLoop.RequestID == ev.DoomLoop.RequestID {
			s.DoomLoop = nil
		}
		s.appendEvent(ev)

	// Lifecycle.
	case event.TypeAgentStarted, event.TypeAgentResumed:
		s.StreamStatus = StatusStreaming
		s.appendEvent(ev)

	case event.TypeRetry:
		s.setAgentState(AgentRetrying)
		s.appendEvent(ev)

	case event.TypeTaskCreated, event.TypeTaskUpdated, event.TypeTaskCompleted:
		if ev.Task != nil {
			s.upsertTask(ev)
		}
		s.appendEvent(ev)

	// Terminal events close open buffers and end streaming. The event lands
	// first so the synthesized flush entries order after it.
	case event.TypeAgentCompleted, event.TypeCancelled:
		s.appendEvent(ev)
		s.flushBuffers(ev.Cursor())
		s.StreamStatus = StatusIdle
		s.forceIdle()

	case event.TypeError:
		s.appendEvent(ev)
		s.flushBuffers(ev.Cursor())
		s.StreamStatus = StatusError
		s.forceIdle()

	// Scalar and sequence fields; last write wins, the backend is the
	// source of truth.
	case event.TypeCostUpdated, event.TypeUsageUpdated:
		if ev.Cost != nil {
			s.Cost = CostTotals{
				TotalUSD:     ev.Cost.TotalUSD,
				InputTokens:  ev.Cost.InputTokens,
				OutputTokens: ev.Cost.OutputTokens,
			}
		}
		s.appendEvent(ev)

	case event.TypeSuggestionsUpdated:
		if ev.Suggestions != nil {
			s.Suggestions = append([]string(nil), ev.Suggestions.Suggestions...)
		}
		s.appendEvent(ev)

	case event.TypeAppContextInjected:
		if ev.AppContext != nil {
			if s.AppContext == nil {
				s.AppContext = make(map[string]string, len(ev.AppContext.Data))
			}
			for k, v := range ev.AppContext.Data {
				s.AppContext[k] = v
			}
		}
		s.appendEvent(ev)

	case event.TypeTitleUpdated:
		if ev.Message != nil {
			s.Title = ev.Message.Content
		}
		s.appendEvent(ev)

	case event.TypeConnected:
		s.StreamStatus = StatusStreaming
		s.appendEvent(ev)

	case event.TypeHeartbeat:
		// Keepalive only; carries no renderable content.

	default:
		// Remaining kinds (sandbox, command output, files, compaction,
		// system notices) are timeline-only content.
		s.appendEvent(ev)
	}
}

// textBuffer resolves the streaming buffer an event correlates to, or nil.
func (s *ConversationState) textBuffer(ev event.Event) *TextBuffer {
	if ev.Text == nil || ev.Text.TextID == "" {
		return nil
	}
	return s.TextBuffers[ev.Text.TextID]
}

// toolCall resolves the active tool call an event correlates to, or nil.
func (s *ConversationState) toolCall(ev event.Event) *ActiveToolCall {
	if ev.Tool == nil || ev.Tool.ToolCallID == "" {
		return nil
	}
	return s.ToolCalls[ev.Tool.ToolCallID]
}

// orphan records an event whose correlation id resolves to nothing. The
// reducer degrades to timeline-only visibility rather than failing.
func (s *ConversationState) orphan(ev event.Event) {
	s.OrphanEvents++
	s.appendEvent(ev)
}

// popPendingTool removes the stack entry for a completed call by identity.
func (s *ConversationState) popPendingTool(toolCallID string) {
	for i, pt := range s.PendingTools {
		if pt.ToolCallID == toolCallID {
			s.PendingTools = append(s.PendingTools[:i], s.PendingTools[i+1:]...)
			return
		}
	}
}

// askHITL fills the pending slot for a kind. A second ask while the slot is
// occupied is a recoverable warning: the new request lands on the timeline
// but never overwrites a prompt still awaiting a response.
func (s *ConversationState) askHITL(ev event.Event, kind HITLKind) {
	if ev.HITL == nil || ev.HITL.RequestID == "" {
		s.orphan(ev)
		return
	}
	slot := s.pendingSlot(kind)
	if *slot != nil {
		s.DuplicateAsks++
		s.appendEvent(ev)
		return
	}
	*slot = &PendingRequest{
		Kind:        kind,
		RequestID:   ev.HITL.RequestID,
		Prompt:      ev.HITL.Prompt,
		Options:     append([]string(nil), ev.HITL.Options...),
		VarName:     ev.HITL.VarName,
		AskedTimeUs: ev.EventTimeUs,
	}
	// Human input blocks progress; awaiting_input overrides all states.
	s.setAgentState(AgentAwaitingInput)
	s.appendEvent(ev)
}

// answerHITL clears a pending slot on a correlated response. A stale or
// unknown request_id is recorded on the timeline but mutates no slot.
func (s *ConversationState) answerHITL(ev event.Event, kind HITLKind) {
	slot := s.pendingSlot(kind)
	if ev.HITL == nil || *slot == nil || (*slot).RequestID != ev.HITL.RequestID {
		s.orphan(ev)
		return
	}
	*slot = nil
	s.resumeAgentState()
	s.appendEvent(ev)
}

// upsertTask updates the ordered checklist in place, appending new tasks.
func (s *ConversationState) upsertTask(ev event.Event) {
	status := ev.Task.Status
	if ev.Type == event.TypeTaskCompleted && status == "" {
		status = "completed"
	}
	for i := range s.Tasks {
		if s.Tasks[i].TaskID == ev.Task.TaskID {
			if ev.Task.Title != "" {
				s.Tasks[i].Title = ev.Task.Title
			}
			if status != "" {
				s.Tasks[i].Status = status
			}
			return
		}
	}
	s.Tasks = append(s.Tasks, TaskItem{
		TaskID: ev.Task.TaskID,
		Title:  ev.Task.Title,
		Status: status,
	})
}

// flushBuffers converts open streaming buffers into marked-incomplete
// timeline entries instead of discarding partial content.
func (s *ConversationState) flushBuffers(at event.Cursor) {
	ids := make([]string, 0, len(s.TextBuffers))
	for id := range s.TextBuffers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	counter := at.Counter
	for _, id := range ids {
		buf := s.TextBuffers[id]
		if buf.Content == "" {
			delete(s.TextBuffers, id)
			continue
		}
		counter++
		s.appendEvent(event.Event{
			// Deterministic id keeps the reduction replayable and the
			// flush idempotent across duplicate terminal events.
			ID:             "flush-text:" + id,
			ConversationID: s.ConversationID,
			Type:           event.TypeTextEnd,
			EventTimeUs:    at.TimeUs,
			EventCounter:   counter,
			Text:           &event.TextPayload{TextID: id, Content: buf.Content},
			Incomplete:     true,
		})
		delete(s.TextBuffers, id)
	}
	if s.ThoughtBuffer != "" {
		counter++
		s.appendEvent(event.Event{
			ID:             "flush-thought:" + formatCursor(at),
			ConversationID: s.ConversationID,
			Type:           event.TypeThought,
			EventTimeUs:    at.TimeUs,
			EventCounter:   counter,
			Thought:        &event.ThoughtPayload{Content: s.ThoughtBuffer},
			Incomplete:     true,
		})
	}
	s.ThoughtBuffer = ""
	s.IsThinkingStreaming = false
}

func formatCursor(c event.Cursor) string {
	return fmt.Sprintf("%d.%d", c.TimeUs, c.Counter)
}

// Abort handles a user-initiated stop or navigation away: open buffers are
// flushed into incomplete entries, streaming ends deterministically, and
// the agent returns to idle. Other conversations are unaffected; stream
// admission accounting is owned by the store.
func Abort(s *ConversationState, failed bool) *ConversationState {
	next := s.Clone()
	next.flushBuffers(next.latest)
	if failed {
		next.StreamStatus = StatusError
	} else {
		next.StreamStatus = StatusIdle
	}
	next.forceIdle()
	return next
}
