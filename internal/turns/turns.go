// ABOUTME: Turn and Part types for reconstructed conversation history
// ABOUTME: One Turn is a committed user request or agent response

package turns

// Role identifies which side of the conversation a turn belongs to.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// PartKind identifies the content type of one agent response part.
type PartKind string

const (
	PartMarkdown PartKind = "markdown"
	PartProgress PartKind = "progress"
	PartTool     PartKind = "tool"
)

// Part is one ordered piece of an agent response turn.
type Part struct {
	Kind PartKind

	// Markdown and progress parts carry text.
	Text string

	// Tool parts carry the invocation's identity and result.
	ToolName   string
	ToolCallID string
	Failed     bool
}

// MarkdownPart builds a markdown part.
func MarkdownPart(text string) Part {
	return Part{Kind: PartMarkdown, Text: text}
}

// ProgressPart builds a progress part.
func ProgressPart(text string) Part {
	return Part{Kind: PartProgress, Text: text}
}

// ToolPart builds a tool invocation part.
func ToolPart(name, toolCallID string, failed bool) Part {
	return Part{Kind: PartTool, ToolName: name, ToolCallID: toolCallID, Failed: failed}
}

// Turn is one committed unit of conversation history.
type Turn struct {
	Role Role

	// User turns.
	Text       string
	References []string

	// Agent turns.
	Parts []Part

	// ErrorMessage is set on agent turns recording a failed or cancelled
	// request. Such turns are appended by the coordinator, not the builder.
	ErrorMessage string
}

// RequestTurn builds a committed user turn.
func RequestTurn(text string, references []string) Turn {
	return Turn{Role: RoleUser, Text: text, References: references}
}

// ResponseTurn builds a committed agent turn.
func ResponseTurn(parts []Part) Turn {
	return Turn{Role: RoleAgent, Parts: parts}
}

// ErrorTurn builds an agent turn recording a failed request.
func ErrorTurn(message string) Turn {
	return Turn{
		Role:         RoleAgent,
		Parts:        []Part{MarkdownPart(message)},
		ErrorMessage: message,
	}
}
