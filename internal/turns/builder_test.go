// ABOUTME: Tests for the notification-to-turn reducer
// ABOUTME: Covers coalescing, role transitions, tool lifecycle, plans, and flush edge cases

package turns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/acp-host/internal/acp"
)

func notif(update acp.SessionUpdate) acp.Notification {
	return acp.Notification{SessionID: "sess-1", Update: update}
}

func userChunk(text string) acp.Notification {
	return notif(acp.SessionUpdate{
		SessionUpdate: acp.UpdateUserMessageChunk,
		Content:       &acp.ContentBlock{Type: "text", Text: text},
	})
}

func agentChunk(text string) acp.Notification {
	return notif(acp.SessionUpdate{
		SessionUpdate: acp.UpdateAgentMessageChunk,
		Content:       &acp.ContentBlock{Type: "text", Text: text},
	})
}

func thoughtChunk(text string) acp.Notification {
	return notif(acp.SessionUpdate{
		SessionUpdate: acp.UpdateAgentThoughtChunk,
		Content:       &acp.ContentBlock{Type: "text", Text: text},
	})
}

func toolCall(id, title string) acp.Notification {
	return notif(acp.SessionUpdate{
		SessionUpdate: acp.UpdateToolCall,
		ToolCallID:    id,
		Title:         title,
		Status:        acp.ToolStatusInProgress,
	})
}

func toolUpdate(id, status string, content ...acp.ToolContent) acp.Notification {
	return notif(acp.SessionUpdate{
		SessionUpdate: acp.UpdateToolCallUpdate,
		ToolCallID:    id,
		Status:        status,
		ToolContent:   content,
	})
}

func process(b *Builder, notifications ...acp.Notification) {
	for _, n := range notifications {
		b.ProcessNotification(n)
	}
}

func TestBuilder_ConsecutiveAgentChunksCoalesce(t *testing.T) {
	b := NewBuilder()
	process(b, agentChunk("A"), agentChunk("B"))

	turns := b.GetTurns()
	require.Len(t, turns, 1)
	assert.Equal(t, RoleAgent, turns[0].Role)
	require.Len(t, turns[0].Parts, 1)
	assert.Equal(t, PartMarkdown, turns[0].Parts[0].Kind)
	assert.Equal(t, "AB", turns[0].Parts[0].Text)
}

func TestBuilder_ChunksJoinWithNoSeparatorAndTrimOnce(t *testing.T) {
	b := NewBuilder()
	process(b, agentChunk("  hello "), agentChunk("world  "), agentChunk("  "))

	turns := b.GetTurns()
	require.Len(t, turns, 1)
	assert.Equal(t, "hello world", turns[0].Parts[0].Text)
}

func TestBuilder_RoleTransitionsFlushBothDirections(t *testing.T) {
	b := NewBuilder()
	process(b,
		userChunk("first question"),
		agentChunk("first answer"),
		userChunk("second question"),
		agentChunk("second answer"),
	)

	turns := b.GetTurns()
	require.Len(t, turns, 4)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "first question", turns[0].Text)
	assert.Equal(t, RoleAgent, turns[1].Role)
	assert.Equal(t, RoleUser, turns[2].Role)
	assert.Equal(t, RoleAgent, turns[3].Role)
}

func TestBuilder_RolesStrictlyAlternate(t *testing.T) {
	b := NewBuilder()
	process(b,
		userChunk("ask"),
		thoughtChunk("pondering"),
		agentChunk("answer"),
		toolCall("t1", "Fetch"),
		toolUpdate("t1", acp.ToolStatusCompleted),
		userChunk("followup"),
		agentChunk("more"),
	)

	turns := b.GetTurns()
	for i := 1; i < len(turns); i++ {
		assert.NotEqual(t, turns[i-1].Role, turns[i].Role,
			"turns %d and %d share a role", i-1, i)
	}
}

func TestBuilder_UserPrefixStripped(t *testing.T) {
	b := NewBuilder()
	process(b, userChunk("User: what time is it"))

	turns := b.GetTurns()
	require.Len(t, turns, 1)
	assert.Equal(t, "what time is it", turns[0].Text)
}

func TestBuilder_WhitespaceOnlyUserTurnDropped(t *testing.T) {
	b := NewBuilder()
	process(b, userChunk("   \n\t"), agentChunk("answer"))

	turns := b.GetTurns()
	require.Len(t, turns, 1)
	assert.Equal(t, RoleAgent, turns[0].Role)
}

func TestBuilder_EmptyAgentTurnDropped(t *testing.T) {
	b := NewBuilder()
	// A tool call that never reaches a terminal status emits no part.
	process(b, toolCall("t1", "Fetch"), userChunk("hello"))

	turns := b.GetTurns()
	require.Len(t, turns, 1)
	assert.Equal(t, RoleUser, turns[0].Role)
}

func TestBuilder_ThoughtBecomesProgressPart(t *testing.T) {
	b := NewBuilder()
	process(b, agentChunk("before"), thoughtChunk("  thinking hard  "), agentChunk("after"))

	turns := b.GetTurns()
	require.Len(t, turns, 1)
	require.Len(t, turns[0].Parts, 3)
	assert.Equal(t, "before", turns[0].Parts[0].Text)
	assert.Equal(t, PartProgress, turns[0].Parts[1].Kind)
	assert.Equal(t, "thinking hard", turns[0].Parts[1].Text)
	assert.Equal(t, "after", turns[0].Parts[2].Text)
}

func TestBuilder_EmptyThoughtDropped(t *testing.T) {
	b := NewBuilder()
	process(b, thoughtChunk("   "))

	assert.Empty(t, b.GetTurns())
}

func TestBuilder_ToolLifecycleEmitsOnTerminalStatusOnly(t *testing.T) {
	b := NewBuilder()
	process(b, toolCall("t1", "Fetch"), toolUpdate("t1", acp.ToolStatusInProgress))
	assert.Empty(t, b.GetTurns(), "non-terminal update must not emit a part")

	process(b, toolUpdate("t1", acp.ToolStatusCompleted))
	turns := b.GetTurns()
	require.Len(t, turns, 1)
	require.Len(t, turns[0].Parts, 1)
	part := turns[0].Parts[0]
	assert.Equal(t, PartTool, part.Kind)
	assert.Equal(t, "Fetch", part.ToolName)
	assert.Equal(t, "t1", part.ToolCallID)
	assert.False(t, part.Failed)
}

func TestBuilder_FailedToolTaggedFailed(t *testing.T) {
	b := NewBuilder()
	process(b, toolCall("t1", "Compile"), toolUpdate("t1", acp.ToolStatusFailed))

	turns := b.GetTurns()
	require.Len(t, turns, 1)
	assert.True(t, turns[0].Parts[0].Failed)
}

func TestBuilder_UnknownToolIDReported(t *testing.T) {
	b := NewBuilder()
	process(b, toolUpdate("ghost", acp.ToolStatusCompleted))

	turns := b.GetTurns()
	require.Len(t, turns, 1)
	assert.Equal(t, "unknown tool call", turns[0].Parts[0].ToolName)
}

func TestBuilder_DiffContentEmitsMarkdown(t *testing.T) {
	oldText := "x := 1"
	newText := "x := 2"
	b := NewBuilder()
	process(b,
		toolCall("t1", "Edit"),
		toolUpdate("t1", acp.ToolStatusCompleted,
			acp.ToolContent{Type: "diff", Path: "main.go", OldText: &oldText, NewText: &newText},
		),
	)

	turns := b.GetTurns()
	require.Len(t, turns, 1)
	require.Len(t, turns[0].Parts, 2)
	assert.Equal(t, PartTool, turns[0].Parts[0].Kind)
	diff := turns[0].Parts[1]
	assert.Equal(t, PartMarkdown, diff.Kind)
	assert.Contains(t, diff.Text, "-x := 1")
	assert.Contains(t, diff.Text, "+x := 2")
	assert.Contains(t, diff.Text, "main.go")
}

func TestBuilder_PureAdditionDiff(t *testing.T) {
	newText := "added line"
	b := NewBuilder()
	process(b,
		toolCall("t1", "Edit"),
		toolUpdate("t1", acp.ToolStatusCompleted,
			acp.ToolContent{Type: "diff", Path: "new.go", NewText: &newText},
		),
	)

	turns := b.GetTurns()
	require.Len(t, turns[0].Parts, 2)
	assert.Contains(t, turns[0].Parts[1].Text, "+added line")
	assert.NotContains(t, turns[0].Parts[1].Text, "\n-")
}

func TestBuilder_NonDiffToolContentIgnored(t *testing.T) {
	b := NewBuilder()
	process(b,
		toolCall("t1", "Fetch"),
		toolUpdate("t1", acp.ToolStatusCompleted,
			acp.ToolContent{Type: "content", Content: &acp.ContentBlock{Type: "text", Text: "72F"}},
		),
	)

	turns := b.GetTurns()
	require.Len(t, turns[0].Parts, 1, "only the tool part, no markdown")
}

func TestBuilder_PlanRendersChecklist(t *testing.T) {
	b := NewBuilder()
	process(b, notif(acp.SessionUpdate{
		SessionUpdate: acp.UpdatePlan,
		Entries: []acp.PlanEntry{
			{Content: "read the file", Status: acp.PlanStatusCompleted},
			{Content: "edit the file", Status: acp.PlanStatusInProgress},
		},
	}))

	turns := b.GetTurns()
	require.Len(t, turns, 1)
	text := turns[0].Parts[0].Text
	assert.Contains(t, text, "## Plan")
	assert.Contains(t, text, "- [x] read the file")
	assert.Contains(t, text, "- [ ] edit the file")
}

func TestBuilder_EmptyPlanDropped(t *testing.T) {
	b := NewBuilder()
	process(b, notif(acp.SessionUpdate{SessionUpdate: acp.UpdatePlan}))

	assert.Empty(t, b.GetTurns())
}

func TestBuilder_HousekeepingKindsAreNoOps(t *testing.T) {
	b := NewBuilder()
	for _, kind := range []string{
		acp.UpdateAvailableCommands,
		acp.UpdateCurrentMode,
		acp.UpdateConfigOption,
		acp.UpdateSessionInfo,
		"some_future_kind",
	} {
		b.ProcessNotification(notif(acp.SessionUpdate{SessionUpdate: kind}))
	}

	assert.Empty(t, b.GetTurns())
}

func TestBuilder_GetTurnsReturnsCopy(t *testing.T) {
	b := NewBuilder()
	process(b, userChunk("hello"))

	first := b.GetTurns()
	first[0].Text = "mutated"

	second := b.GetTurns()
	assert.Equal(t, "hello", second[0].Text)
}

func TestBuilder_ResetClearsEverything(t *testing.T) {
	b := NewBuilder()
	process(b, toolCall("t1", "Fetch"), userChunk("hello"))
	b.Reset()

	// After reset the t1 binding is gone too.
	process(b, toolUpdate("t1", acp.ToolStatusCompleted))
	turns := b.GetTurns()
	require.Len(t, turns, 1)
	assert.Equal(t, "unknown tool call", turns[0].Parts[0].ToolName)
}

func TestBuilder_InterleavedWeatherScenario(t *testing.T) {
	b := NewBuilder()
	process(b,
		userChunk("fetch weather"),
		toolCall("fetch_weather_tool_call_1", "Fetch Weather Data"),
		toolUpdate("fetch_weather_tool_call_1", acp.ToolStatusCompleted),
		agentChunk("The current temperature is 72F with clear skies."),
	)

	turns := b.GetTurns()
	require.Len(t, turns, 2)
	assert.Equal(t, "fetch weather", turns[0].Text)
	require.Len(t, turns[1].Parts, 2)
	assert.Equal(t, "Fetch Weather Data", turns[1].Parts[0].ToolName)
	assert.Equal(t, "The current temperature is 72F with clear skies.", turns[1].Parts[1].Text)
}
