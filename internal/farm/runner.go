package farm

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// StageResult is everything a stage produced, whether or not it succeeded.
type StageResult struct {
	Stage         Stage
	Results       []WorkerResult
	Merged        bool
	MergeExitCode int
	MergeDuration time.Duration
	Duration      time.Duration
}

// Failed returns the results of shards that did not exit zero, in shard order.
func (r StageResult) Failed() []WorkerResult {
	var failed []WorkerResult
	for _, res := range r.Results {
		if !res.Succeeded() {
			failed = append(failed, res)
		}
	}
	return failed
}

// StageRunner fans a stage out over shards and folds it back in with the stage's merge.
type StageRunner struct {
	invoker  *Invoker
	launcher Launcher
	reporter *Reporter
	metrics  Metrics
	stdout   io.Writer
	stderr   io.Writer
}

func NewStageRunner(invoker *Invoker, reporter *Reporter, metrics Metrics, stdout, stderr io.Writer) *StageRunner {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &StageRunner{
		invoker:  invoker,
		launcher: invoker.Launcher,
		reporter: reporter,
		metrics:  metrics,
		stdout:   stdout,
		stderr:   stderr,
	}
}

// Run starts every shard of stage at once and waits for all of them. Failing shards do not
// cancel their siblings. The merge runs only when every shard exited zero.
//
// The returned error is a *ShardFailure naming the lowest failing shard, or a *PhaseFailure
// when the merge itself failed.
func (r *StageRunner) Run(ctx context.Context, stage Stage, shardCount int) (StageResult, error) {
	result := StageResult{Stage: stage}
	if shardCount < 1 {
		return result, ValidationError{Field: "shard_count", Value: strconv.Itoa(shardCount), Message: "shard count must be at least 1"}
	}
	if r.reporter != nil {
		r.reporter.Report("farm stage: " + string(stage))
	}
	start := time.Now()

	results := make([]WorkerResult, shardCount)
	failures := make([]*ShardFailure, shardCount)
	var g errgroup.Group
	g.SetLimit(shardCount)
	for i := 0; i < shardCount; i++ {
		shard := i
		g.Go(func() error {
			res, err := r.invoker.Invoke(ctx, ShardTask{Stage: stage, Index: shard, Count: shardCount})
			results[shard] = res
			r.metrics.RecordShard(string(stage), shard, res.ExitCode, res.Duration)
			if err != nil || !res.Succeeded() {
				failures[shard] = &ShardFailure{Stage: stage, Shard: shard, ExitCode: res.ExitCode, LogPath: res.LogPath, Err: err}
				return failures[shard]
			}
			return nil
		})
	}
	waitErr := g.Wait()
	result.Results = results
	result.Duration = time.Since(start)

	if waitErr != nil {
		var first *ShardFailure
		failed := 0
		for _, f := range failures {
			if f == nil {
				continue
			}
			failed++
			log.Error().
				Str("stage", string(stage)).
				Int("shard", f.Shard).
				Int("exit_code", f.ExitCode).
				Str("log_path", f.LogPath).
				AnErr("cause", f.Err).
				Msg("Client tool execution failed, see log for details")
			if first == nil {
				first = f
			}
		}
		r.metrics.RecordStage(string(stage), shardCount, result.Duration, shardCount-failed, failed)
		return result, first
	}
	r.metrics.RecordStage(string(stage), shardCount, result.Duration, shardCount, 0)

	merge := MergeCommand(stage, r.invoker.BlobDir, shardCount)
	mergeStart := time.Now()
	code, err := r.launcher.Launch(ctx, merge, r.stdout, r.stderr)
	result.Merged = true
	result.MergeExitCode = code
	result.MergeDuration = time.Since(mergeStart)
	result.Duration = time.Since(start)
	r.metrics.RecordPhase(merge.Verb, result.MergeDuration, err == nil && code == 0)
	if err != nil {
		return result, &PhaseFailure{Phase: merge.Verb, ExitCode: code, Err: errors.Wrap(err, "merge")}
	}
	if code != 0 {
		return result, &PhaseFailure{Phase: merge.Verb, ExitCode: code}
	}
	return result, nil
}
