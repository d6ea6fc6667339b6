// ABOUTME: Markdown emission for plan checklists and tool diff content
// ABOUTME: Text assembly only; rendering markdown to anything is the host UI's job

package turns

import (
	"strings"

	"github.com/2389/acp-host/internal/acp"
)

// renderPlan emits a checklist, one line per entry, checked iff completed.
func renderPlan(entries []acp.PlanEntry) string {
	var sb strings.Builder
	sb.WriteString("## Plan\n")
	for _, entry := range entries {
		checkbox := " "
		if entry.Status == acp.PlanStatusCompleted {
			checkbox = "x"
		}
		sb.WriteString("- [" + checkbox + "] " + entry.Content + "\n")
	}
	return sb.String()
}

// renderDiff emits a fenced diff block for a tool's file edit. Either side
// may be absent: a nil old text is a pure addition, a nil new text a pure
// deletion. Both absent yields no output.
func renderDiff(path string, oldText, newText *string) string {
	if oldText == nil && newText == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("```diff\n")
	if path != "" {
		sb.WriteString("--- " + path + "\n")
		sb.WriteString("+++ " + path + "\n")
	}
	writePrefixedLines(&sb, oldText, "-")
	writePrefixedLines(&sb, newText, "+")
	sb.WriteString("```")
	return sb.String()
}

func writePrefixedLines(sb *strings.Builder, text *string, prefix string) {
	if text == nil {
		return
	}
	for _, line := range strings.Split(strings.TrimSuffix(*text, "\n"), "\n") {
		sb.WriteString(prefix + line + "\n")
	}
}
