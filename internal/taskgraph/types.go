package taskgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMinDepth is the smallest decomposition depth an atomic phase may
// have.
const DefaultMinDepth = 3

// DefaultExemptAgent is the subagent that builds task graphs and therefore
// runs outside them.
const DefaultExemptAgent = "delegation-orchestrator"

// phaseMarker finds "Phase ID: phase_<wave>_<index>" in a prompt.
var phaseMarker = regexp.MustCompile(`Phase ID: (phase_\d+_\d+)`)

// ExtractPhaseID returns the phase id named in prompt, or "".
func ExtractPhaseID(prompt string) string {
	m := phaseMarker.FindStringSubmatch(prompt)
	if m == nil {
		return ""
	}
	return m[1]
}

// GraphPhase is one phase of a wave.
type GraphPhase struct {
	PhaseID     string `json:"phase_id" yaml:"phase_id"`
	IsAtomic    bool   `json:"is_atomic,omitempty" yaml:"is_atomic,omitempty"`
	Depth       int    `json:"depth" yaml:"depth"`
	Agent       string `json:"agent,omitempty" yaml:"agent,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Wave groups phases that may run concurrently.
type Wave struct {
	// WaveID is the wave number compared against current_wave. When absent
	// the wave's position is used.
	WaveID *int         `json:"wave_id,omitempty" yaml:"wave_id,omitempty"`
	Phases []GraphPhase `json:"phases" yaml:"phases"`
}

// Graph is the externally produced task graph. It is never modified here.
type Graph struct {
	CurrentWave int    `json:"current_wave" yaml:"current_wave"`
	Waves       []Wave `json:"waves" yaml:"waves"`
}

type graphFields Graph

// UnmarshalJSON accepts the graph either bare or wrapped in an
// "execution_plan" object.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var wrapper struct {
		ExecutionPlan json.RawMessage `json:"execution_plan"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	if plan := bytes.TrimSpace(wrapper.ExecutionPlan); len(plan) > 0 && !bytes.Equal(plan, []byte("null")) {
		data = plan
	}

	var f graphFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*g = Graph(f)
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML graphs.
func (g *Graph) UnmarshalYAML(value *yaml.Node) error {
	var wrapper struct {
		ExecutionPlan *yaml.Node `yaml:"execution_plan"`
	}
	if err := value.Decode(&wrapper); err != nil {
		return err
	}
	if wrapper.ExecutionPlan != nil && wrapper.ExecutionPlan.Kind == yaml.MappingNode {
		value = wrapper.ExecutionPlan
	}

	var f graphFields
	if err := value.Decode(&f); err != nil {
		return err
	}
	*g = Graph(f)
	return nil
}

// WaveNumber returns the number of the wave at position i.
func (g *Graph) WaveNumber(i int) int {
	if w := g.Waves[i]; w.WaveID != nil {
		return *w.WaveID
	}
	return i
}

// Find returns the phase with id and the number of its wave.
func (g *Graph) Find(id string) (GraphPhase, int, bool) {
	for i, w := range g.Waves {
		for _, p := range w.Phases {
			if p.PhaseID == id {
				return p, g.WaveNumber(i), true
			}
		}
	}
	return GraphPhase{}, 0, false
}

// PhaseIDs lists every phase id in wave order.
func (g *Graph) PhaseIDs() []string {
	var ids []string
	for _, w := range g.Waves {
		for _, p := range w.Phases {
			ids = append(ids, p.PhaseID)
		}
	}
	return ids
}

// ViolationType categorizes task graph violations.
type ViolationType string

const (
	ViolationDepthFloor     ViolationType = "depth_floor"
	ViolationMissingPhaseID ViolationType = "missing_phase_id"
	ViolationUnknownPhase   ViolationType = "unknown_phase"
	ViolationWaveOrder      ViolationType = "wave_order"
)

// Violation is one failed check.
type Violation struct {
	Type        ViolationType `json:"type"`
	Gate        string        `json:"gate"`
	Description string        `json:"description"`
	// PhaseIDs are the offending phases.
	PhaseIDs []string `json:"phase_ids,omitempty"`
	// Details are human-readable lines, one per offending item.
	Details     []string `json:"details,omitempty"`
	Remediation string   `json:"remediation"`
}

// Request is a phase execution request taken from a Task tool call.
type Request struct {
	Prompt       string `json:"prompt"`
	SubagentType string `json:"subagent_type,omitempty"`
}

// Report is the outcome of a validation run.
type Report struct {
	// Location is where the task graph was read from.
	Location string `json:"location,omitempty"`
	// PhaseID is the phase named in the request, if any.
	PhaseID string `json:"phase_id,omitempty"`
	// Skipped is set when no check ran; Reason says why.
	Skipped    bool        `json:"skipped"`
	Reason     string      `json:"reason,omitempty"`
	Violations []Violation `json:"violations"`
}

// Allowed reports whether execution may proceed.
func (r *Report) Allowed() bool {
	return len(r.Violations) == 0
}

// Message renders every violation with its remediation, for stderr.
func (r *Report) Message() string {
	if r.Allowed() {
		return ""
	}

	var b strings.Builder
	noun := "violation"
	if len(r.Violations) > 1 {
		noun = "violations"
	}
	fmt.Fprintf(&b, "TASK GRAPH VALIDATION FAILED (%d %s)\n", len(r.Violations), noun)

	for _, v := range r.Violations {
		fmt.Fprintf(&b, "\n[%s] %s\n", v.Type, v.Description)
		for _, d := range v.Details {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
		if v.Remediation != "" {
			fmt.Fprintf(&b, "Fix: %s\n", v.Remediation)
		}
	}
	if r.Location != "" {
		fmt.Fprintf(&b, "\nTask graph: %s\n", r.Location)
	}
	return b.String()
}
