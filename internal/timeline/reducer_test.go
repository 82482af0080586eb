package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/agent-timeline/internal/event"
)

const testConvID = "conv-1"

var testCounter uint64

func newEvent(id string, t event.Type) event.Event {
	testCounter++
	return event.Event{
		ID:             id,
		ConversationID: testConvID,
		Type:           t,
		EventTimeUs:    1_700_000_000_000_000 + int64(testCounter)*1000,
		EventCounter:   testCounter,
	}
}

func reduceAll(t *testing.T, s *ConversationState, events ...event.Event) *ConversationState {
	t.Helper()
	for _, ev := range events {
		s = Reduce(s, ev)
	}
	return s
}

func boolPtr(b bool) *bool { return &b }

func TestReducePurity(t *testing.T) {
	s := NewConversationState(testConvID)

	ev := newEvent("e1", event.TypeUserMessage)
	ev.Message = &event.MessagePayload{Role: "user", Content: "hi"}

	next := Reduce(s, ev)

	require.Len(t, next.Timeline, 1)
	assert.Empty(t, s.Timeline, "input state must not be modified")
	assert.False(t, s.Contains("e1"))
	assert.True(t, next.Contains("e1"))
}

func TestTimelineOrderingAndDedup(t *testing.T) {
	s := NewConversationState(testConvID)

	e1 := newEvent("e1", event.TypeUserMessage)
	e2 := newEvent("e2", event.TypeAssistantMessage)
	e2dup := e2

	s = reduceAll(t, s, e1, e2, e2dup)

	require.Len(t, s.Timeline, 2)
	assert.Equal(t, 1, s.DroppedDuplicates)
	assert.True(t, s.Timeline[0].Before(s.Timeline[1]))

	seen := make(map[string]int)
	for _, ev := range s.Timeline {
		seen[ev.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "event %s appears more than once", id)
	}
}

func TestOutOfOrderEventSurfacedNotCorrected(t *testing.T) {
	s := NewConversationState(testConvID)

	e1 := newEvent("e1", event.TypeUserMessage)
	stale := newEvent("e0", event.TypeUserMessage)
	stale.EventTimeUs = e1.EventTimeUs - 5000

	s = reduceAll(t, s, e1, stale)

	assert.Equal(t, 1, s.OutOfOrderEvents)
	assert.Len(t, s.Timeline, 2)
}

func TestTextDeltaAccumulation(t *testing.T) {
	s := NewConversationState(testConvID)

	start := newEvent("t-start", event.TypeTextStart)
	start.Text = &event.TextPayload{TextID: "t1"}
	d1 := newEvent("t-d1", event.TypeTextDelta)
	d1.Text = &event.TextPayload{TextID: "t1", Delta: "Hel"}
	d2 := newEvent("t-d2", event.TypeTextDelta)
	d2.Text = &event.TextPayload{TextID: "t1", Delta: "lo"}
	end := newEvent("t-end", event.TypeTextEnd)
	end.Text = &event.TextPayload{TextID: "t1", Content: "Hello"}

	s = reduceAll(t, s, start, d1)
	require.Contains(t, s.TextBuffers, "t1")
	assert.Equal(t, "Hel", s.TextBuffers["t1"].Content)
	assert.Equal(t, StatusStreaming, s.StreamStatus)

	s = reduceAll(t, s, d2, end)
	assert.NotContains(t, s.TextBuffers, "t1", "no residual streaming buffer")
	require.Len(t, s.Timeline, 1)
	assert.Equal(t, event.TypeTextEnd, s.Timeline[0].Type)
	assert.Equal(t, "Hello", s.Timeline[0].Text.Content)
}

func TestRedeliveredDeltaDoesNotReaccumulate(t *testing.T) {
	s := NewConversationState(testConvID)

	start := newEvent("s", event.TypeTextStart)
	start.Text = &event.TextPayload{TextID: "t1"}
	d := newEvent("d", event.TypeTextDelta)
	d.Text = &event.TextPayload{TextID: "t1", Delta: "Hel"}

	s = reduceAll(t, s, start, d, d)

	require.Contains(t, s.TextBuffers, "t1")
	assert.Equal(t, "Hel", s.TextBuffers["t1"].Content, "second delivery must not accumulate again")
	assert.Equal(t, 1, s.DroppedDuplicates)
}

func TestRedeliveredStartDoesNotResetBuffer(t *testing.T) {
	s := NewConversationState(testConvID)

	start := newEvent("s", event.TypeTextStart)
	start.Text = &event.TextPayload{TextID: "t1"}
	d1 := newEvent("d1", event.TypeTextDelta)
	d1.Text = &event.TextPayload{TextID: "t1", Delta: "Hel"}
	d2 := newEvent("d2", event.TypeTextDelta)
	d2.Text = &event.TextPayload{TextID: "t1", Delta: "lo"}

	s = reduceAll(t, s, start, d1, start, d2)

	require.Contains(t, s.TextBuffers, "t1")
	assert.Equal(t, "Hello", s.TextBuffers["t1"].Content, "redelivered start must not discard accumulated text")
	assert.Equal(t, 1, s.DroppedDuplicates)
}

func TestRedeliveredArgDeltaDeduped(t *testing.T) {
	s := NewConversationState(testConvID)

	act := newEvent("a1", event.TypeAct)
	act.Tool = &event.ToolPayload{ToolCallID: "c1", ToolName: "search"}
	ad := newEvent("ad1", event.TypeActDelta)
	ad.Tool = &event.ToolPayload{ToolCallID: "c1", ArgsDelta: `{"q":`}

	s = reduceAll(t, s, act, ad, ad)

	require.Contains(t, s.ToolCalls, "c1")
	assert.Equal(t, `{"q":`, s.ToolCalls["c1"].PartialArgs)
	assert.Equal(t, 1, s.DroppedDuplicates)
}

func TestTextEndFallsBackToAccumulatedBuffer(t *testing.T) {
	s := NewConversationState(testConvID)

	start := newEvent("s", event.TypeTextStart)
	start.Text = &event.TextPayload{TextID: "t1"}
	d := newEvent("d", event.TypeTextDelta)
	d.Text = &event.TextPayload{TextID: "t1", Delta: "partial"}
	end := newEvent("e", event.TypeTextEnd)
	end.Text = &event.TextPayload{TextID: "t1"}

	s = reduceAll(t, s, start, d, end)

	require.Len(t, s.Timeline, 1)
	assert.Equal(t, "partial", s.Timeline[0].Text.Content)
}

func TestOrphanTextDeltaDegradesToTimeline(t *testing.T) {
	s := NewConversationState(testConvID)

	d := newEvent("d", event.TypeTextDelta)
	d.Text = &event.TextPayload{TextID: "nope", Delta: "x"}

	s = Reduce(s, d)

	assert.Equal(t, 1, s.OrphanEvents)
	assert.Len(t, s.Timeline, 1)
	assert.Empty(t, s.TextBuffers)
}

func TestThoughtStreaming(t *testing.T) {
	s := NewConversationState(testConvID)

	d1 := newEvent("th1", event.TypeThoughtDelta)
	d1.Thought = &event.ThoughtPayload{Delta: "let me "}
	d2 := newEvent("th2", event.TypeThoughtDelta)
	d2.Thought = &event.ThoughtPayload{Delta: "think"}

	s = reduceAll(t, s, d1, d2)
	assert.Equal(t, "let me think", s.ThoughtBuffer)
	assert.True(t, s.IsThinkingStreaming)
	assert.Equal(t, AgentThinking, s.AgentState)

	full := newEvent("th3", event.TypeThought)
	full.Thought = &event.ThoughtPayload{Content: "let me think about this"}
	s = Reduce(s, full)

	assert.Empty(t, s.ThoughtBuffer)
	assert.False(t, s.IsThinkingStreaming)
	require.Len(t, s.Timeline, 1)
	assert.Equal(t, event.TypeThought, s.Timeline[0].Type)
}

func TestToolCallLifecycle(t *testing.T) {
	s := NewConversationState(testConvID)

	act := newEvent("a1", event.TypeAct)
	act.Tool = &event.ToolPayload{ToolCallID: "c1", ToolName: "search", Args: `{"q":"go"}`}
	s = Reduce(s, act)

	require.Contains(t, s.ToolCalls, "c1")
	assert.Equal(t, ToolPreparing, s.ToolCalls["c1"].Status)
	assert.Equal(t, AgentPreparing, s.AgentState)
	require.Len(t, s.PendingTools, 1)
	assert.Equal(t, "search", s.PendingTools[0].ToolName)

	started := newEvent("cs1", event.TypeCommandStarted)
	started.Tool = &event.ToolPayload{ToolCallID: "c1"}
	s = Reduce(s, started)
	assert.Equal(t, ToolRunning, s.ToolCalls["c1"].Status)
	assert.Equal(t, AgentActing, s.AgentState)

	obs := newEvent("o1", event.TypeObserve)
	obs.Tool = &event.ToolPayload{ToolCallID: "c1", Success: boolPtr(true), Output: "42"}
	s = Reduce(s, obs)

	call := s.ToolCalls["c1"]
	assert.Equal(t, ToolSuccess, call.Status)
	assert.Equal(t, "42", call.Output)
	assert.Equal(t, call.EndTimeUs-call.StartTimeUs, call.DurationUs)
	assert.Positive(t, call.DurationUs)
	assert.Empty(t, s.PendingTools)
	assert.Equal(t, AgentObserving, s.AgentState)
}

func TestToolArgDeltaAccumulation(t *testing.T) {
	s := NewConversationState(testConvID)

	act := newEvent("a1", event.TypeAct)
	act.Tool = &event.ToolPayload{ToolCallID: "c1", ToolName: "bash"}
	d1 := newEvent("ad1", event.TypeActDelta)
	d1.Tool = &event.ToolPayload{ToolCallID: "c1", ArgsDelta: `{"cmd":`}
	d2 := newEvent("ad2", event.TypeActDelta)
	d2.Tool = &event.ToolPayload{ToolCallID: "c1", ArgsDelta: `"ls"}`}

	s = reduceAll(t, s, act, d1, d2)

	assert.Equal(t, `{"cmd":"ls"}`, s.ToolCalls["c1"].PartialArgs)
}

func TestReorderedToolCompletionsPopByIdentity(t *testing.T) {
	s := NewConversationState(testConvID)

	act1 := newEvent("a1", event.TypeAct)
	act1.Tool = &event.ToolPayload{ToolCallID: "c1", ToolName: "read"}
	act2 := newEvent("a2", event.TypeAct)
	act2.Tool = &event.ToolPayload{ToolCallID: "c2", ToolName: "write"}

	// c1 completes after c2; the pop targets the call, not the stack top.
	obs2 := newEvent("o2", event.TypeObserve)
	obs2.Tool = &event.ToolPayload{ToolCallID: "c2", Success: boolPtr(false), Error: "denied"}

	s = reduceAll(t, s, act1, act2, obs2)

	require.Len(t, s.PendingTools, 1)
	assert.Equal(t, "c1", s.PendingTools[0].ToolCallID)
	assert.Equal(t, ToolFailed, s.ToolCalls["c2"].Status)
	assert.Equal(t, "denied", s.ToolCalls["c2"].Error)
}

func TestOrphanObserveDegrades(t *testing.T) {
	s := NewConversationState(testConvID)

	obs := newEvent("o1", event.TypeObserve)
	obs.Tool = &event.ToolPayload{ToolCallID: "ghost", Success: boolPtr(true)}
	s = Reduce(s, obs)

	assert.Equal(t, 1, s.OrphanEvents)
	assert.Len(t, s.Timeline, 1)
	assert.Empty(t, s.ToolCalls)
}

func TestHITLSingleSlotInvariant(t *testing.T) {
	s := NewConversationState(testConvID)

	ask1 := newEvent("h1", event.TypeClarificationAsked)
	ask1.HITL = &event.HITLPayload{RequestID: "r1", Prompt: "which file?"}
	s = Reduce(s, ask1)

	require.NotNil(t, s.PendingClarification)
	summary := Summarize(s)
	require.NotNil(t, summary)
	assert.Equal(t, "r1", summary.RequestID)
	assert.Equal(t, AgentAwaitingInput, s.AgentState)

	// A duplicate ask of the same kind must not replace the pending slot.
	ask2 := newEvent("h2", event.TypeClarificationAsked)
	ask2.HITL = &event.HITLPayload{RequestID: "r2", Prompt: "other?"}
	s = Reduce(s, ask2)

	assert.Equal(t, "r1", s.PendingClarification.RequestID)
	assert.Equal(t, 1, s.DuplicateAsks)
	assert.Len(t, s.Timeline, 2, "duplicate ask still lands on the timeline")
}

func TestHITLAnswerClearsMatchingSlot(t *testing.T) {
	s := NewConversationState(testConvID)

	ask := newEvent("h1", event.TypeDecisionAsked)
	ask.HITL = &event.HITLPayload{RequestID: "r1", Options: []string{"yes", "no"}}
	ans := newEvent("h2", event.TypeDecisionMade)
	ans.HITL = &event.HITLPayload{RequestID: "r1", Answer: "yes"}

	s = reduceAll(t, s, ask, ans)

	assert.Nil(t, s.PendingDecision)
	assert.Nil(t, Summarize(s))
	assert.Equal(t, AgentIdle, s.AgentState)
	assert.Len(t, s.Timeline, 2)
}

func TestHITLStaleAnswerMutatesNoSlot(t *testing.T) {
	s := NewConversationState(testConvID)

	ask := newEvent("h1", event.TypeEnvVarRequested)
	ask.HITL = &event.HITLPayload{RequestID: "r1", VarName: "API_KEY"}
	stale := newEvent("h2", event.TypeEnvVarProvided)
	stale.HITL = &event.HITLPayload{RequestID: "r-unknown", Answer: "xxx"}

	s = reduceAll(t, s, ask, stale)

	require.NotNil(t, s.PendingEnvVar)
	assert.Equal(t, "r1", s.PendingEnvVar.RequestID)
	assert.Equal(t, 1, s.OrphanEvents)
	assert.Len(t, s.Timeline, 2)
	assert.Equal(t, AgentAwaitingInput, s.AgentState)
}

func TestHITLReplyRestoresInterruptedState(t *testing.T) {
	s := NewConversationState(testConvID)

	act := newEvent("a1", event.TypeAct)
	act.Tool = &event.ToolPayload{ToolCallID: "c1", ToolName: "bash"}
	ask := newEvent("h1", event.TypePermissionAsked)
	ask.HITL = &event.HITLPayload{RequestID: "r1", Prompt: "run ls?"}
	reply := newEvent("h2", event.TypePermissionReplied)
	reply.HITL = &event.HITLPayload{RequestID: "r1", Answer: "allow"}

	s = reduceAll(t, s, act, ask)
	assert.Equal(t, AgentAwaitingInput, s.AgentState)

	s = Reduce(s, reply)
	assert.Equal(t, AgentPreparing, s.AgentState, "returns to the state preceding the interruption")
}

func TestActivityDoesNotLiftAwaitingInput(t *testing.T) {
	s := NewConversationState(testConvID)

	act := newEvent("a1", event.TypeAct)
	act.Tool = &event.ToolPayload{ToolCallID: "c1", ToolName: "bash"}
	ask := newEvent("h1", event.TypePermissionAsked)
	ask.HITL = &event.HITLPayload{RequestID: "r1", Prompt: "run ls?"}
	started := newEvent("cs1", event.TypeCommandStarted)
	started.Tool = &event.ToolPayload{ToolCallID: "c1"}
	obs := newEvent("o1", event.TypeObserve)
	obs.Tool = &event.ToolPayload{ToolCallID: "c1", Success: boolPtr(true)}
	thought := newEvent("th1", event.TypeThoughtDelta)
	thought.Thought = &event.ThoughtPayload{Delta: "next I will"}

	s = reduceAll(t, s, act, ask, started, obs, thought)

	assert.Equal(t, AgentAwaitingInput, s.AgentState, "a pending request blocks until its reply")
	assert.Equal(t, ToolSuccess, s.ToolCalls["c1"].Status, "the tool lifecycle still progresses while blocked")

	reply := newEvent("h2", event.TypePermissionReplied)
	reply.HITL = &event.HITLPayload{RequestID: "r1", Answer: "allow"}
	s = Reduce(s, reply)
	assert.Equal(t, AgentThinking, s.AgentState, "the reply restores the latest interrupted activity")
}

func TestTerminalEventOverridesAwaitingInput(t *testing.T) {
	s := NewConversationState(testConvID)

	ask := newEvent("h1", event.TypeDecisionAsked)
	ask.HITL = &event.HITLPayload{RequestID: "r1"}
	done := newEvent("c1", event.TypeCancelled)

	s = reduceAll(t, s, ask, done)

	assert.Equal(t, AgentIdle, s.AgentState)
	assert.Equal(t, StatusIdle, s.StreamStatus)
}

func TestHITLReplyStaysBlockedWhileOtherSlotsPending(t *testing.T) {
	s := NewConversationState(testConvID)

	askC := newEvent("h1", event.TypeClarificationAsked)
	askC.HITL = &event.HITLPayload{RequestID: "r1"}
	askP := newEvent("h2", event.TypePermissionAsked)
	askP.HITL = &event.HITLPayload{RequestID: "r2"}
	ansC := newEvent("h3", event.TypeClarificationAnswered)
	ansC.HITL = &event.HITLPayload{RequestID: "r1"}

	s = reduceAll(t, s, askC, askP, ansC)

	assert.Nil(t, s.PendingClarification)
	require.NotNil(t, s.PendingPermission)
	assert.Equal(t, AgentAwaitingInput, s.AgentState)

	summary := Summarize(s)
	require.NotNil(t, summary)
	assert.Equal(t, HITLPermission, summary.Kind)
}

func TestDoomLoopReplaceAndClear(t *testing.T) {
	s := NewConversationState(testConvID)

	d1 := newEvent("dl1", event.TypeDoomLoopDetected)
	d1.DoomLoop = &event.DoomLoopPayload{RequestID: "r1", Pattern: "retry same edit", Iterations: 4}
	d2 := newEvent("dl2", event.TypeDoomLoopDetected)
	d2.DoomLoop = &event.DoomLoopPayload{RequestID: "r2", Pattern: "retry same edit", Iterations: 7}

	s = reduceAll(t, s, d1, d2)
	require.NotNil(t, s.DoomLoop)
	assert.Equal(t, "r2", s.DoomLoop.RequestID, "newer detection replaces the record")
	assert.Equal(t, 7, s.DoomLoop.Iterations)

	// An intervention for the superseded detection does not clear it.
	staleIv := newEvent("dl3", event.TypeDoomLoopIntervened)
	staleIv.DoomLoop = &event.DoomLoopPayload{RequestID: "r1"}
	s = Reduce(s, staleIv)
	assert.NotNil(t, s.DoomLoop)

	iv := newEvent("dl4", event.TypeDoomLoopIntervened)
	iv.DoomLoop = &event.DoomLoopPayload{RequestID: "r2"}
	s = Reduce(s, iv)
	assert.Nil(t, s.DoomLoop)
}

func TestTerminalEventFlushesBuffers(t *testing.T) {
	s := NewConversationState(testConvID)

	start := newEvent("s", event.TypeTextStart)
	start.Text = &event.TextPayload{TextID: "t1"}
	d := newEvent("d", event.TypeTextDelta)
	d.Text = &event.TextPayload{TextID: "t1", Delta: "half a sen"}
	th := newEvent("th", event.TypeThoughtDelta)
	th.Thought = &event.ThoughtPayload{Delta: "hmm"}
	errEv := newEvent("err", event.TypeError)
	errEv.Error = &event.ErrorPayload{Code: "upstream", Message: "connection lost"}

	s = reduceAll(t, s, start, d, th, errEv)

	assert.Empty(t, s.TextBuffers)
	assert.Empty(t, s.ThoughtBuffer)
	assert.False(t, s.IsThinkingStreaming)
	assert.Equal(t, StatusError, s.StreamStatus)
	assert.Equal(t, AgentIdle, s.AgentState)

	var flushedText, flushedThought bool
	for _, ev := range s.Timeline {
		if ev.Incomplete && ev.Type == event.TypeTextEnd {
			flushedText = true
			assert.Equal(t, "half a sen", ev.Text.Content)
		}
		if ev.Incomplete && ev.Type == event.TypeThought {
			flushedThought = true
			assert.Equal(t, "hmm", ev.Thought.Content)
		}
	}
	assert.True(t, flushedText, "open text buffer flushed as incomplete entry")
	assert.True(t, flushedThought, "open thought buffer flushed as incomplete entry")
}

func TestAbortFlushesAndEndsStreaming(t *testing.T) {
	s := NewConversationState(testConvID)

	start := newEvent("s", event.TypeTextStart)
	start.Text = &event.TextPayload{TextID: "t1"}
	d := newEvent("d", event.TypeTextDelta)
	d.Text = &event.TextPayload{TextID: "t1", Delta: "partial"}
	s = reduceAll(t, s, start, d)

	aborted := Abort(s, false)

	assert.Equal(t, StatusIdle, aborted.StreamStatus)
	assert.Equal(t, AgentIdle, aborted.AgentState)
	assert.Empty(t, aborted.TextBuffers)
	require.Len(t, aborted.Timeline, 1)
	assert.True(t, aborted.Timeline[0].Incomplete)
	assert.Equal(t, "partial", aborted.Timeline[0].Text.Content)

	// Input snapshot untouched.
	assert.Contains(t, s.TextBuffers, "t1")
	assert.Equal(t, StatusStreaming, s.StreamStatus)
}

func TestCostTasksSuggestionsLastWriteWins(t *testing.T) {
	s := NewConversationState(testConvID)

	c1 := newEvent("c1", event.TypeCostUpdated)
	c1.Cost = &event.CostPayload{TotalUSD: 0.12, InputTokens: 100, OutputTokens: 40}
	c2 := newEvent("c2", event.TypeCostUpdated)
	c2.Cost = &event.CostPayload{TotalUSD: 0.25, InputTokens: 220, OutputTokens: 90}

	t1 := newEvent("t1", event.TypeTaskCreated)
	t1.Task = &event.TaskPayload{TaskID: "task-1", Title: "write tests", Status: "pending"}
	t2 := newEvent("t2", event.TypeTaskCompleted)
	t2.Task = &event.TaskPayload{TaskID: "task-1"}

	sg := newEvent("sg", event.TypeSuggestionsUpdated)
	sg.Suggestions = &event.SuggestionsPayload{Suggestions: []string{"run them", "add CI"}}

	s = reduceAll(t, s, c1, c2, t1, t2, sg)

	assert.Equal(t, 0.25, s.Cost.TotalUSD)
	assert.Equal(t, int64(220), s.Cost.InputTokens)
	require.Len(t, s.Tasks, 1)
	assert.Equal(t, "completed", s.Tasks[0].Status)
	assert.Equal(t, "write tests", s.Tasks[0].Title)
	assert.Equal(t, []string{"run them", "add CI"}, s.Suggestions)
}

func TestHeartbeatLeavesNoTrace(t *testing.T) {
	s := NewConversationState(testConvID)
	s = Reduce(s, newEvent("hb", event.TypeHeartbeat))
	assert.Empty(t, s.Timeline)
}

func TestEndToEndScenario(t *testing.T) {
	s := NewConversationState(testConvID)

	user := newEvent("e1", event.TypeUserMessage)
	user.Message = &event.MessagePayload{Role: "user", Content: "hi"}
	act := newEvent("e2", event.TypeAct)
	act.Tool = &event.ToolPayload{ToolCallID: "c1", ToolName: "search"}
	obs := newEvent("e3", event.TypeObserve)
	obs.Tool = &event.ToolPayload{ToolCallID: "c1", Success: boolPtr(true)}
	done := newEvent("e4", event.TypeAssistantMessage)
	done.Message = &event.MessagePayload{Role: "assistant", Content: "done"}

	s = reduceAll(t, s, user, act, obs, done)

	assert.Len(t, s.Timeline, 4)
	assert.Empty(t, s.PendingTools)
	assert.Equal(t, AgentIdle, s.AgentState)
	assert.Equal(t, ToolSuccess, s.ToolCalls["c1"].Status)
}
