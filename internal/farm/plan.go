package farm

import (
	"fmt"
	"io"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1"

	"github.com/3cpo-dev/lightfarm/pkg/api"
)

// PlannedPhase is one step of a bake. For stage phases Command is the merge that closes the stage.
type PlannedPhase struct {
	Name    string
	Kind    api.PhaseKind
	Stage   Stage
	Command Command
}

// Plan lists the phases of a bake of cfg in execution order.
func (p *Pipeline) Plan(cfg PipelineConfig) []PlannedPhase {
	blobDir := p.BlobDir(cfg)
	phases := []PlannedPhase{
		{Name: VerbDataSync, Kind: api.PhaseInit, Command: DataSyncCommand(cfg.Scenario, cfg.Target)},
		{Name: VerbFarmBegin, Kind: api.PhaseInit, Command: FarmBeginCommand(cfg.Scenario, cfg.Target, cfg.Group, cfg.Quality, cfg.BlobID)},
	}
	for _, stage := range p.stages {
		phases = append(phases, PlannedPhase{
			Name:    string(stage),
			Kind:    api.PhaseStage,
			Stage:   stage,
			Command: MergeCommand(stage, blobDir, p.shardCount),
		})
	}
	phases = append(phases, PlannedPhase{Name: VerbFarmFinish, Kind: api.PhaseFinalize, Command: FarmFinishCommand(blobDir)})
	for _, cmd := range PostProcessCommands(cfg.Scenario, cfg.Target) {
		phases = append(phases, PlannedPhase{Name: cmd.Verb, Kind: api.PhasePostProcess, Command: cmd})
	}
	return phases
}

// Commands lists every worker-tool invocation a successful bake of cfg issues, in order.
// Shard commands of a stage are listed by shard index although they run concurrently.
func (p *Pipeline) Commands(cfg PipelineConfig) []Command {
	blobDir := p.BlobDir(cfg)
	var cmds []Command
	for _, phase := range p.Plan(cfg) {
		if phase.Kind == api.PhaseStage {
			for i := 0; i < p.shardCount; i++ {
				cmds = append(cmds, ShardCommand(phase.Stage, blobDir, i, p.shardCount))
			}
		}
		cmds = append(cmds, phase.Command)
	}
	return cmds
}

var statusRGB = map[api.RunStatus][3]uint8{
	api.RunSucceeded: {46, 160, 67},
	api.RunFailed:    {255, 0, 0},
	api.RunRunning:   {255, 191, 0},
	api.RunPending:   {200, 200, 200},
}

// WriteDOT renders the plan of cfg as a Graphviz digraph. With a non-nil status, every phase
// is filled with the colour of its recorded outcome, and phases missing from status as pending.
func (p *Pipeline) WriteDOT(w io.Writer, cfg PipelineConfig, status map[string]api.RunStatus) error {
	g := graph.New(graph.StringHash, graph.Directed())
	prev := ""
	for _, phase := range p.Plan(cfg) {
		label := phase.Name
		if phase.Kind == api.PhaseStage {
			label = fmt.Sprintf("%s x%d", phase.Name, p.shardCount)
		}
		attrs := []func(*graph.VertexProperties){
			graph.VertexAttribute("label", label),
			graph.VertexAttribute("shape", "box"),
		}
		if status != nil {
			st, ok := status[phase.Name]
			if !ok {
				st = api.RunPending
			}
			hex, err := statusColour(st)
			if err != nil {
				return err
			}
			attrs = append(attrs,
				graph.VertexAttribute("style", "filled"),
				graph.VertexAttribute("fillcolor", hex),
			)
		}
		if err := g.AddVertex(phase.Name, attrs...); err != nil {
			return errors.Wrapf(err, "add phase %s", phase.Name)
		}
		if prev != "" {
			if err := g.AddEdge(prev, phase.Name); err != nil {
				return errors.Wrapf(err, "link %s -> %s", prev, phase.Name)
			}
		}
		prev = phase.Name
	}
	return draw.DOT(g, w, draw.GraphAttribute("rankdir", "LR"))
}

func statusColour(st api.RunStatus) (string, error) {
	rgb, ok := statusRGB[st]
	if !ok {
		rgb = statusRGB[api.RunPending]
	}
	c, err := colors.RGB(rgb[0], rgb[1], rgb[2])
	if err != nil {
		return "", errors.Wrap(err, "unable to get colour")
	}
	return c.ToHEX().String(), nil
}
