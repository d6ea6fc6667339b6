// ABOUTME: Builder reduces the raw ACP notification stream into ordered turns
// ABOUTME: Pure state machine: no I/O, no locking, processed strictly in arrival order

package turns

import (
	"strings"

	"github.com/2389/acp-host/internal/acp"
)

// unknownToolName is reported for tool updates whose id was never announced
// by a tool_call within this builder's lifetime.
const unknownToolName = "unknown tool call"

// userPrefix is stripped from user message chunks that echo the role label.
const userPrefix = "User:"

// Builder consumes session notifications one at a time and accumulates
// committed turns. Consecutive same-role fragments coalesce; a fragment of
// the opposite role forces a flush of whatever is pending.
//
// Agent message chunks are queued separately from other parts so that a run
// of chunks becomes a single markdown part, joined with no separator and
// trimmed once at flush time.
type Builder struct {
	userText    strings.Builder
	agentChunks []string
	agentParts  []Part
	toolTitles  map[string]string
	turns       []Turn
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{toolTitles: make(map[string]string)}
}

// ProcessNotification consumes one notification. Housekeeping and
// unrecognized kinds are no-ops; nothing is ever rejected.
func (b *Builder) ProcessNotification(n acp.Notification) {
	update := n.Update

	switch update.SessionUpdate {
	case acp.UpdateUserMessageChunk:
		b.flushPendingAgentTurn()
		b.captureUserChunk(update.Content)

	case acp.UpdateAgentMessageChunk:
		b.flushPendingUserTurn()
		if text := contentText(update.Content); text != "" {
			b.agentChunks = append(b.agentChunks, text)
		}

	case acp.UpdateAgentThoughtChunk:
		b.flushPendingUserTurn()
		b.flushAgentChunks()
		if thought := strings.TrimSpace(contentText(update.Content)); thought != "" {
			b.agentParts = append(b.agentParts, ProgressPart(thought))
		}

	case acp.UpdateToolCall:
		b.flushPendingUserTurn()
		b.flushAgentChunks()
		b.toolTitles[update.ToolCallID] = toolTitle(update)

	case acp.UpdateToolCallUpdate:
		b.flushPendingUserTurn()
		b.flushAgentChunks()
		b.appendToolUpdate(update)

	case acp.UpdatePlan:
		b.flushPendingUserTurn()
		b.flushAgentChunks()
		if len(update.Entries) > 0 {
			b.agentParts = append(b.agentParts, MarkdownPart(renderPlan(update.Entries)))
		}
	}
}

// GetTurns flushes both accumulators, user first, and returns a copy of the
// committed sequence.
func (b *Builder) GetTurns() []Turn {
	b.flushPendingUserTurn()
	b.flushPendingAgentTurn()

	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Reset clears all builder state, including the tool title bindings.
func (b *Builder) Reset() {
	b.userText.Reset()
	b.agentChunks = nil
	b.agentParts = nil
	b.toolTitles = make(map[string]string)
	b.turns = nil
}

func (b *Builder) captureUserChunk(content *acp.ContentBlock) {
	text := contentText(content)
	if text == "" {
		return
	}
	if rest, ok := strings.CutPrefix(text, userPrefix); ok {
		text = strings.TrimLeft(rest, " \t\r\n")
	}
	b.userText.WriteString(text)
}

func (b *Builder) appendToolUpdate(update acp.SessionUpdate) {
	if update.Status != acp.ToolStatusCompleted && update.Status != acp.ToolStatusFailed {
		return
	}

	name, ok := b.toolTitles[update.ToolCallID]
	if !ok {
		name = unknownToolName
	}
	b.agentParts = append(b.agentParts, ToolPart(name, update.ToolCallID, update.Status == acp.ToolStatusFailed))

	for _, content := range update.ToolContent {
		if content.Type != "diff" {
			continue
		}
		if diff := renderDiff(content.Path, content.OldText, content.NewText); diff != "" {
			b.agentParts = append(b.agentParts, MarkdownPart(diff))
		}
	}
}

// flushPendingUserTurn commits the accumulated user text as a request turn.
// Whitespace-only accumulations produce no turn.
func (b *Builder) flushPendingUserTurn() {
	text := b.userText.String()
	if strings.TrimSpace(text) == "" {
		return
	}
	b.turns = append(b.turns, RequestTurn(text, nil))
	b.userText.Reset()
}

// flushPendingAgentTurn folds queued chunks into the part list and commits
// it as a response turn. Zero parts produce no turn.
func (b *Builder) flushPendingAgentTurn() {
	b.flushAgentChunks()
	if len(b.agentParts) == 0 {
		return
	}
	b.turns = append(b.turns, ResponseTurn(b.agentParts))
	b.agentParts = nil
}

// flushAgentChunks joins the contiguous chunk queue into one markdown part.
func (b *Builder) flushAgentChunks() {
	if len(b.agentChunks) == 0 {
		return
	}
	content := strings.TrimSpace(strings.Join(b.agentChunks, ""))
	b.agentChunks = nil
	if content == "" {
		return
	}
	b.agentParts = append(b.agentParts, MarkdownPart(content))
}

func contentText(content *acp.ContentBlock) string {
	if content == nil || content.Type != "text" {
		return ""
	}
	return content.Text
}

func toolTitle(update acp.SessionUpdate) string {
	if strings.TrimSpace(update.Title) != "" {
		return update.Title
	}
	return unknownToolName
}
