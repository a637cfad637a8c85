package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	cur := "phase_1"
	st := &State{
		ID:           "wf_20260301_093015",
		Task:         "Ship login",
		Status:       StatusActive,
		CurrentPhase: &cur,
		Phases: []Phase{
			{ID: "phase_0", Title: "Design", Agent: "architect", Status: StatusCompleted, Deliverables: []string{"design.md", "api.yaml"}},
			{ID: "phase_1", Title: "Build", Agent: "builder", Status: StatusActive},
			{ID: "phase_2", Title: "Verify", Agent: "tester", Status: StatusPending},
		},
	}

	want := "# Workflow: Ship login\n" +
		"\n" +
		"**Status:** active\n" +
		"\n" +
		"**Current:** Build\n" +
		"\n" +
		"## Phases\n" +
		"\n" +
		"- [x] Phase 0: Design ✓\n" +
		"  - **Deliverables:** design.md, api.yaml\n" +
		"  - **Agent:** architect\n" +
		"\n" +
		"- [ ] Phase 1: Build ◀ current\n" +
		"  - **Agent:** builder\n" +
		"\n" +
		"- [ ] Phase 2: Verify\n" +
		"  - **Agent:** tester\n"

	assert.Equal(t, want, Render(st))
}

func TestRender_NoCurrentPhase(t *testing.T) {
	st := &State{
		Task:   "T",
		Status: StatusFailed,
		Phases: []Phase{{ID: "phase_0", Title: "A", Agent: "x", Status: StatusFailed}},
	}

	out := Render(st)
	assert.NotContains(t, out, "**Current:**")
	assert.Contains(t, out, "- [ ] Phase 0: A ✗\n")
}
