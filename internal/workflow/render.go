package workflow

import (
	"fmt"
	"strings"
)

// Render produces the markdown status view of s. It is display-only and is
// never parsed back.
func Render(s *State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Workflow: %s\n\n", s.Task)
	fmt.Fprintf(&b, "**Status:** %s\n\n", s.Status)

	if cur := s.Current(); cur != nil {
		fmt.Fprintf(&b, "**Current:** %s\n\n", cur.Title)
	}

	b.WriteString("## Phases\n\n")

	for i, p := range s.Phases {
		checkbox, suffix := "[ ]", ""
		switch {
		case p.Status == StatusCompleted:
			checkbox, suffix = "[x]", " ✓"
		case p.Status == StatusFailed:
			suffix = " ✗"
		case s.CurrentPhase != nil && *s.CurrentPhase == p.ID:
			suffix = " ◀ current"
		}

		fmt.Fprintf(&b, "- %s Phase %d: %s%s\n", checkbox, i, p.Title, suffix)
		if len(p.Deliverables) > 0 {
			fmt.Fprintf(&b, "  - **Deliverables:** %s\n", strings.Join(p.Deliverables, ", "))
		}
		fmt.Fprintf(&b, "  - **Agent:** %s\n", p.Agent)
		if i < len(s.Phases)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
