package taskgraph

import (
	"context"
	"fmt"
	"strings"
)

// Input is what a gate inspects.
type Input struct {
	Graph    *Graph
	Request  Request
	PhaseID  string
	Location string
}

// Gate is a single task graph check.
type Gate interface {
	// Name returns the gate identifier
	Name() string

	// Check returns every violation it finds; an empty result passes.
	Check(ctx context.Context, in *Input) ([]Violation, error)
}

// DepthGate requires every atomic phase to be decomposed to a minimum depth.
type DepthGate struct {
	minDepth int
}

// NewDepthGate creates a depth gate. Non-positive values use
// DefaultMinDepth.
func NewDepthGate(minDepth int) *DepthGate {
	if minDepth <= 0 {
		minDepth = DefaultMinDepth
	}
	return &DepthGate{minDepth: minDepth}
}

// Name returns the gate identifier
func (g *DepthGate) Name() string {
	return "depth-floor"
}

// Check reports all shallow atomic phases at once.
func (g *DepthGate) Check(ctx context.Context, in *Input) ([]Violation, error) {
	var ids, details []string
	for _, w := range in.Graph.Waves {
		for _, p := range w.Phases {
			if p.IsAtomic && p.Depth < g.minDepth {
				id := p.PhaseID
				if id == "" {
					id = "unknown"
				}
				ids = append(ids, id)
				details = append(details, fmt.Sprintf("%s (depth: %d)", id, p.Depth))
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return []Violation{{
		Type:        ViolationDepthFloor,
		Gate:        g.Name(),
		Description: fmt.Sprintf("atomic phases must have depth >= %d", g.minDepth),
		PhaseIDs:    ids,
		Details:     details,
		Remediation: fmt.Sprintf("return to the %s, decompose the flagged phases until every leaf has depth >= %d, then regenerate the task graph", DefaultExemptAgent, g.minDepth),
	}}, nil
}

// MarkerGate requires the request to name its phase.
type MarkerGate struct{}

// NewMarkerGate creates a phase marker gate.
func NewMarkerGate() *MarkerGate {
	return &MarkerGate{}
}

// Name returns the gate identifier
func (g *MarkerGate) Name() string {
	return "phase-marker"
}

// Check fails when the prompt carries no "Phase ID: phase_X_Y" marker.
func (g *MarkerGate) Check(ctx context.Context, in *Input) ([]Violation, error) {
	if in.PhaseID != "" {
		return nil, nil
	}
	remediation := "start the Task prompt with 'Phase ID: phase_X_Y', for example 'Phase ID: phase_0_0'"
	if in.Location != "" {
		remediation += fmt.Sprintf("; if the task graph is outdated, delete %s", in.Location)
	}
	return []Violation{{
		Type:        ViolationMissingPhaseID,
		Gate:        g.Name(),
		Description: "an active task graph exists but the Task invocation has no Phase ID marker",
		Remediation: remediation,
	}}, nil
}

// ExistenceGate requires the named phase to be part of the graph.
type ExistenceGate struct{}

// NewExistenceGate creates an existence gate.
func NewExistenceGate() *ExistenceGate {
	return &ExistenceGate{}
}

// Name returns the gate identifier
func (g *ExistenceGate) Name() string {
	return "phase-exists"
}

// Check lists the valid phase ids when the named one is unknown.
func (g *ExistenceGate) Check(ctx context.Context, in *Input) ([]Violation, error) {
	if in.PhaseID == "" {
		return nil, nil
	}
	if _, _, ok := in.Graph.Find(in.PhaseID); ok {
		return nil, nil
	}

	valid := in.Graph.PhaseIDs()
	details := []string{"available phases: " + strings.Join(valid, ", ")}
	if len(valid) == 0 {
		details = []string{"the task graph declares no phases"}
	}
	return []Violation{{
		Type:        ViolationUnknownPhase,
		Gate:        g.Name(),
		Description: fmt.Sprintf("phase %s does not exist in the active task graph", in.PhaseID),
		PhaseIDs:    []string{in.PhaseID},
		Details:     details,
		Remediation: "check the execution plan or clear the task graph",
	}}, nil
}

// WaveOrderGate blocks phases from waves after the current one.
type WaveOrderGate struct{}

// NewWaveOrderGate creates a wave order gate.
func NewWaveOrderGate() *WaveOrderGate {
	return &WaveOrderGate{}
}

// Name returns the gate identifier
func (g *WaveOrderGate) Name() string {
	return "wave-order"
}

// Check compares the phase's wave with current_wave.
func (g *WaveOrderGate) Check(ctx context.Context, in *Input) ([]Violation, error) {
	if in.PhaseID == "" {
		return nil, nil
	}
	_, wave, ok := in.Graph.Find(in.PhaseID)
	if !ok || wave <= in.Graph.CurrentWave {
		return nil, nil
	}

	return []Violation{{
		Type:        ViolationWaveOrder,
		Gate:        g.Name(),
		Description: fmt.Sprintf("cannot start wave %d phases while wave %d is incomplete", wave, in.Graph.CurrentWave),
		PhaseIDs:    []string{in.PhaseID},
		Details:     []string{fmt.Sprintf("current wave: %d", in.Graph.CurrentWave), fmt.Sprintf("attempted phase: %s (wave %d)", in.PhaseID, wave)},
		Remediation: fmt.Sprintf("complete all wave %d phases first", in.Graph.CurrentWave),
	}}, nil
}
