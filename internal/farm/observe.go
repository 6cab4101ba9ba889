package farm

import (
	"context"
	"time"

	"github.com/3cpo-dev/lightfarm/pkg/api"
)

// Metrics receives timings of shards, stages and phases.
type Metrics interface {
	RecordShard(stage string, shard, exitCode int, duration time.Duration)
	RecordStage(stage string, shards int, duration time.Duration, succeeded, failed int)
	RecordPhase(name string, duration time.Duration, success bool)
}

// Recorder persists the history of a run. Recording never alters the outcome of a run.
type Recorder interface {
	BeginRun(ctx context.Context, run api.RunRecord) error
	RecordPhase(ctx context.Context, runID string, phase api.PhaseRecord) error
	RecordShard(ctx context.Context, runID string, shard api.ShardRecord) error
	FinishRun(ctx context.Context, runID string, status api.RunStatus, message string, finishedAt time.Time) error
}

type nopMetrics struct{}

func (nopMetrics) RecordShard(string, int, int, time.Duration)      {}
func (nopMetrics) RecordStage(string, int, time.Duration, int, int) {}
func (nopMetrics) RecordPhase(string, time.Duration, bool)          {}

type nopRecorder struct{}

func (nopRecorder) BeginRun(context.Context, api.RunRecord) error              { return nil }
func (nopRecorder) RecordPhase(context.Context, string, api.PhaseRecord) error { return nil }
func (nopRecorder) RecordShard(context.Context, string, api.ShardRecord) error { return nil }
func (nopRecorder) FinishRun(context.Context, string, api.RunStatus, string, time.Time) error {
	return nil
}
