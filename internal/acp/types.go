// ABOUTME: Protocol types for the Agent Client Protocol (ACP)
// ABOUTME: Notifications, content blocks, permission requests, and session results

package acp

import "encoding/json"

// Session update kinds carried in Notification.Update.SessionUpdate.
const (
	UpdateUserMessageChunk  = "user_message_chunk"
	UpdateAgentMessageChunk = "agent_message_chunk"
	UpdateAgentThoughtChunk = "agent_thought_chunk"
	UpdateToolCall          = "tool_call"
	UpdateToolCallUpdate    = "tool_call_update"
	UpdatePlan              = "plan"

	// Housekeeping kinds that carry no conversation content.
	UpdateAvailableCommands = "available_commands_update"
	UpdateCurrentMode       = "current_mode_update"
	UpdateConfigOption      = "config_option_update"
	UpdateSessionInfo       = "session_info_update"

	// UpdateTurnEnded is synthesized by the client when a prompt call
	// completes and is delivered through the same ordered stream as the
	// agent's notifications, so a consumer that sees it has seen the whole
	// turn. Agents never send it.
	UpdateTurnEnded = "turn_ended"
)

// Tool call lifecycle statuses.
const (
	ToolStatusPending    = "pending"
	ToolStatusInProgress = "in_progress"
	ToolStatusCompleted  = "completed"
	ToolStatusFailed     = "failed"
)

// Plan entry statuses.
const (
	PlanStatusPending    = "pending"
	PlanStatusInProgress = "in_progress"
	PlanStatusCompleted  = "completed"
)

// ContentBlock is a single piece of prompt or notification content.
// Only text blocks carry conversation text; other types are passed through.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ToolContent is one entry of a tool_call_update's content list.
// Diff entries describe a file edit; OldText or NewText may be nil,
// representing pure addition or deletion.
type ToolContent struct {
	Type    string        `json:"type"`
	Content *ContentBlock `json:"content,omitempty"`
	Path    string        `json:"path,omitempty"`
	OldText *string       `json:"oldText,omitempty"`
	NewText *string       `json:"newText,omitempty"`
}

// PlanEntry is one item of a structured plan update.
type PlanEntry struct {
	Content string `json:"content"`
	Status  string `json:"status,omitempty"`
}

// SessionUpdate is the tagged payload of a session notification.
// SessionUpdate selects which of the optional fields are meaningful.
// On the wire "content" is a single block for message and thought chunks
// but a list of tool content entries for tool_call_update, so the type
// carries a custom codec instead of plain struct tags.
type SessionUpdate struct {
	SessionUpdate string `json:"sessionUpdate"`

	// user_message_chunk, agent_message_chunk, agent_thought_chunk
	Content *ContentBlock `json:"-"`

	// tool_call, tool_call_update
	ToolCallID  string          `json:"toolCallId,omitempty"`
	Title       string          `json:"title,omitempty"`
	RawInput    json.RawMessage `json:"rawInput,omitempty"`
	Status      string          `json:"status,omitempty"`
	ToolContent []ToolContent   `json:"-"`

	// plan
	Entries []PlanEntry `json:"entries,omitempty"`
}

type sessionUpdateWire struct {
	SessionUpdate string          `json:"sessionUpdate"`
	Content       json.RawMessage `json:"content,omitempty"`
	ToolCallID    string          `json:"toolCallId,omitempty"`
	Title         string          `json:"title,omitempty"`
	RawInput      json.RawMessage `json:"rawInput,omitempty"`
	Status        string          `json:"status,omitempty"`
	Entries       []PlanEntry     `json:"entries,omitempty"`
}

// UnmarshalJSON decodes a session update, sniffing whether "content" is a
// single block or a tool content list.
func (u *SessionUpdate) UnmarshalJSON(data []byte) error {
	var wire sessionUpdateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*u = SessionUpdate{
		SessionUpdate: wire.SessionUpdate,
		ToolCallID:    wire.ToolCallID,
		Title:         wire.Title,
		RawInput:      wire.RawInput,
		Status:        wire.Status,
		Entries:       wire.Entries,
	}
	if len(wire.Content) == 0 {
		return nil
	}
	if wire.Content[0] == '[' {
		return json.Unmarshal(wire.Content, &u.ToolContent)
	}
	var block ContentBlock
	if err := json.Unmarshal(wire.Content, &block); err != nil {
		return err
	}
	u.Content = &block
	return nil
}

// MarshalJSON encodes a session update in its wire shape.
func (u SessionUpdate) MarshalJSON() ([]byte, error) {
	wire := sessionUpdateWire{
		SessionUpdate: u.SessionUpdate,
		ToolCallID:    u.ToolCallID,
		Title:         u.Title,
		RawInput:      u.RawInput,
		Status:        u.Status,
		Entries:       u.Entries,
	}
	switch {
	case u.ToolContent != nil:
		raw, err := json.Marshal(u.ToolContent)
		if err != nil {
			return nil, err
		}
		wire.Content = raw
	case u.Content != nil:
		raw, err := json.Marshal(u.Content)
		if err != nil {
			return nil, err
		}
		wire.Content = raw
	}
	return json.Marshal(wire)
}

// Notification is a single streamed protocol event scoped to a session.
type Notification struct {
	SessionID string        `json:"sessionId"`
	Update    SessionUpdate `json:"update"`
}

// SessionModeInfo reports the mode state returned by session/new.
type SessionModeInfo struct {
	CurrentModeID string `json:"currentModeId"`
}

// SessionModelInfo reports the model state returned by session/new.
type SessionModelInfo struct {
	CurrentModelID string `json:"currentModelId"`
}

// NewSessionResult is the agent's reply to createSession.
type NewSessionResult struct {
	SessionID string            `json:"sessionId"`
	Modes     *SessionModeInfo  `json:"modes,omitempty"`
	Models    *SessionModelInfo `json:"models,omitempty"`
}

// LoadSessionResult is the agent's reply to loadSession. Notifications
// holds the replay log for the session's prior turns.
type LoadSessionResult struct {
	ModeID        string         `json:"modeId,omitempty"`
	ModelID       string         `json:"modelId,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
}

// SessionInfo describes one session in a listSessions reply.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// Capabilities reports what optional operations an agent supports.
type Capabilities struct {
	LoadSession  bool `json:"loadSession"`
	ListSessions bool `json:"listSessions,omitempty"`
}

// PermissionOption is one selectable choice of a permission request.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
}

// PermissionToolCall describes the action being authorized.
type PermissionToolCall struct {
	ToolCallID string          `json:"toolCallId"`
	Title      string          `json:"title,omitempty"`
	RawInput   json.RawMessage `json:"rawInput,omitempty"`
}

// PermissionRequest is an out-of-band authorization prompt raised by the
// agent mid-turn, correlated to the active session.
type PermissionRequest struct {
	SessionID string             `json:"sessionId"`
	Options   []PermissionOption `json:"options"`
	ToolCall  PermissionToolCall `json:"toolCall"`
}

// Permission outcomes.
const (
	OutcomeSelected  = "selected"
	OutcomeCancelled = "cancelled"
)

// PermissionOutcome is the resolution of a permission request.
type PermissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// Selected builds a selected outcome for the given option.
func Selected(optionID string) PermissionOutcome {
	return PermissionOutcome{Outcome: OutcomeSelected, OptionID: optionID}
}

// Cancelled builds a cancelled outcome.
func Cancelled() PermissionOutcome {
	return PermissionOutcome{Outcome: OutcomeCancelled}
}
