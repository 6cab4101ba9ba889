package farm

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/lightfarm/pkg/api"
)

// Pipeline drives one bake: INIT, every stage in order, FINALIZE and the post-process tail.
// The first failure ends the run; nothing is retried.
type Pipeline struct {
	blobRoot   string
	stages     []Stage
	shardCount int
	launcher   Launcher
	reporter   *Reporter
	recorder   Recorder
	metrics    Metrics
	stdout     io.Writer
	stderr     io.Writer
}

// Option configures a Pipeline.
type Option func(p *Pipeline)

// WithStages replaces DefaultStages.
func WithStages(stages ...Stage) Option {
	return func(p *Pipeline) {
		p.stages = append([]Stage(nil), stages...)
	}
}

// WithShardCount sets how many shards every stage is split into.
func WithShardCount(n int) Option {
	return func(p *Pipeline) {
		p.shardCount = n
	}
}

func WithReporter(r *Reporter) Option {
	return func(p *Pipeline) {
		p.reporter = r
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithOutput sets where non-sharded calls and progress lines are written.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(p *Pipeline) {
		p.stdout = stdout
		p.stderr = stderr
	}
}

// New builds a pipeline whose blob directories live under blobRoot.
func New(blobRoot string, launcher Launcher, opts ...Option) (*Pipeline, error) {
	if launcher == nil {
		return nil, ErrToolMustBeSet
	}
	p := &Pipeline{
		blobRoot:   blobRoot,
		stages:     DefaultStages,
		shardCount: 1,
		launcher:   launcher,
		recorder:   nopRecorder{},
		metrics:    nopMetrics{},
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.stages) == 0 {
		return nil, ErrNoStages
	}
	if p.shardCount < 1 {
		return nil, ValidationError{Field: "shards", Value: strconv.Itoa(p.shardCount), Message: "shard count must be at least 1"}
	}
	if p.reporter == nil {
		p.reporter = NewReporter(p.stdout, time.Now())
	}
	return p, nil
}

// ShardCount is the number of shards per stage.
func (p *Pipeline) ShardCount() int { return p.shardCount }

// BlobDir is the working directory shared by every call of the run described by cfg.
func (p *Pipeline) BlobDir(cfg PipelineConfig) string {
	return filepath.Join(p.blobRoot, cfg.BlobID)
}

// Run executes the whole plan for cfg. The returned record describes the run even on failure.
// An invalid quality is a ValidationError returned before any call is made. Other failures
// are *ShardFailure or *PhaseFailure, reachable with errors.As.
func (p *Pipeline) Run(ctx context.Context, cfg PipelineConfig) (api.RunRecord, error) {
	if _, err := ParseQuality(string(cfg.Quality)); err != nil {
		return api.RunRecord{}, err
	}
	run := api.RunRecord{
		ID:         uuid.NewString(),
		Scenario:   cfg.Scenario,
		Target:     cfg.Target,
		Quality:    string(cfg.Quality),
		Group:      cfg.Group,
		BlobDir:    p.BlobDir(cfg),
		ShardCount: p.shardCount,
		Status:     api.RunRunning,
		StartedAt:  p.reporter.Start(),
	}
	logger := log.With().Str("run_id", run.ID).Logger()
	if err := p.recorder.BeginRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn().Err(err).Msg("Unable to record run start")
	}
	logger.Info().
		Str("scenario", cfg.Scenario).
		Str("target", cfg.Target).
		Str("quality", string(cfg.Quality)).
		Str("group", cfg.Group).
		Str("blob_dir", run.BlobDir).
		Int("shards", p.shardCount).
		Msg("Starting bake")

	runner := NewStageRunner(NewInvoker(run.BlobDir, p.launcher), p.reporter, p.metrics, p.stdout, p.stderr)
	for _, phase := range p.Plan(cfg) {
		var err error
		if phase.Kind == api.PhaseStage {
			err = p.runStage(ctx, run.ID, runner, phase.Stage)
		} else {
			err = p.runPhase(ctx, run.ID, phase)
		}
		if err != nil {
			return p.finish(ctx, run, err), err
		}
	}
	p.reporter.Report("finished")
	return p.finish(ctx, run, nil), nil
}

func (p *Pipeline) runPhase(ctx context.Context, runID string, phase PlannedPhase) error {
	p.reporter.Report(phase.Name)
	start := time.Now()
	code, err := p.launcher.Launch(ctx, phase.Command, p.stdout, p.stderr)
	rec := api.PhaseRecord{Name: phase.Name, Kind: phase.Kind, ExitCode: code, Duration: time.Since(start), Status: api.RunSucceeded}
	if err != nil || code != 0 {
		rec.Status = api.RunFailed
	}
	p.record(ctx, runID, rec)
	p.metrics.RecordPhase(phase.Name, rec.Duration, rec.Status == api.RunSucceeded)
	if err != nil {
		return &PhaseFailure{Phase: phase.Name, ExitCode: code, Err: err}
	}
	if code != 0 {
		return &PhaseFailure{Phase: phase.Name, ExitCode: code}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, runID string, runner *StageRunner, stage Stage) error {
	res, err := runner.Run(ctx, stage, p.shardCount)
	for _, wr := range res.Results {
		shard := api.ShardRecord{
			Stage:    string(stage),
			Shard:    wr.Task.Index,
			ExitCode: wr.ExitCode,
			LogPath:  wr.LogPath,
			Duration: wr.Duration,
		}
		if rerr := p.recorder.RecordShard(context.WithoutCancel(ctx), runID, shard); rerr != nil {
			log.Warn().Err(rerr).Str("stage", string(stage)).Int("shard", wr.Task.Index).Msg("Unable to record shard")
		}
	}
	if res.Merged {
		merge := api.PhaseRecord{
			Name:     MergeCommand(stage, "", p.shardCount).Verb,
			Kind:     api.PhaseMerge,
			ExitCode: res.MergeExitCode,
			Duration: res.MergeDuration,
			Status:   api.RunSucceeded,
		}
		if res.MergeExitCode != 0 || err != nil {
			merge.Status = api.RunFailed
		}
		p.record(ctx, runID, merge)
	}
	rec := api.PhaseRecord{Name: string(stage), Kind: api.PhaseStage, Duration: res.Duration, Status: api.RunSucceeded}
	if err != nil {
		rec.Status = api.RunFailed
		var sf *ShardFailure
		var pf *PhaseFailure
		switch {
		case errors.As(err, &sf):
			rec.ExitCode = sf.ExitCode
		case errors.As(err, &pf):
			rec.ExitCode = pf.ExitCode
		default:
			rec.ExitCode = -1
		}
	}
	p.record(ctx, runID, rec)
	return err
}

func (p *Pipeline) record(ctx context.Context, runID string, rec api.PhaseRecord) {
	if err := p.recorder.RecordPhase(context.WithoutCancel(ctx), runID, rec); err != nil {
		log.Warn().Err(err).Str("phase", rec.Name).Msg("Unable to record phase")
	}
}

func (p *Pipeline) finish(ctx context.Context, run api.RunRecord, runErr error) api.RunRecord {
	run.FinishedAt = time.Now()
	run.Status = api.RunSucceeded
	if runErr != nil {
		run.Status = api.RunFailed
		run.Message = runErr.Error()
	}
	// History is written even when the run was interrupted.
	if err := p.recorder.FinishRun(context.WithoutCancel(ctx), run.ID, run.Status, run.Message, run.FinishedAt); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Unable to record run result")
	}
	event := log.Info()
	if runErr != nil {
		event = log.Error().Err(runErr)
	}
	event.Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Dur("elapsed", p.reporter.Elapsed()).
		Msg("Bake finished")
	return run
}
