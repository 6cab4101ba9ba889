package farm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3cpo-dev/lightfarm/pkg/api"
)

func newTestPipeline(t *testing.T, l Launcher, shards int, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithShardCount(shards), WithOutput(io.Discard, io.Discard)}, opts...)
	p, err := New(t.TempDir(), l, opts...)
	require.NoError(t, err)
	return p
}

func testConfig(t *testing.T) PipelineConfig {
	t.Helper()
	cfg, err := NewPipelineConfig("s", "t", "high", "", "111")
	require.NoError(t, err)
	return cfg
}

func TestPipelineRunSucceeds(t *testing.T) {
	l := newScriptedLauncher()
	rec := &memRecorder{}
	var out bytes.Buffer
	p := newTestPipeline(t, l, 4, WithRecorder(rec), WithOutput(&out, io.Discard))
	cfg := testConfig(t)

	run, err := p.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, api.RunSucceeded, run.Status)
	assert.Equal(t, p.BlobDir(cfg), run.BlobDir)
	assert.Equal(t, 4, run.ShardCount)
	assert.NotEmpty(t, run.ID)

	assert.Equal(t, []string{
		VerbDataSync,
		VerbFarmBegin,
		"faux_farm_dillum", "faux_farm_dillum_merge",
		"faux_farm_pcast", "faux_farm_pcast_merge",
		"faux_farm_radest", "faux_farm_radest_merge",
		"faux_farm_extillum", "faux_farm_extillum_merge",
		"faux_farm_fgather", "faux_farm_fgather_merge",
		VerbFarmFinish,
		VerbLinearTextures,
		VerbCompressBitmaps,
		VerbCompressionMerge,
	}, l.distinctVerbs())

	for _, stage := range DefaultStages {
		assert.Len(t, l.callsTo("faux_farm_"+string(stage)), 4, "shards of %s", stage)
		merges := l.callsTo("faux_farm_" + string(stage) + "_merge")
		require.Len(t, merges, 1, "merges of %s", stage)
		assert.Equal(t, []string{p.BlobDir(cfg), "4"}, merges[0].Args)
	}

	assert.Equal(t, api.RunSucceeded, rec.status)
	assert.Equal(t, run.ID, rec.run.ID)
	assert.Len(t, rec.shards, 5*4)
	assert.Contains(t, out.String(), "*** faux_data_sync *** (")
	assert.Contains(t, out.String(), "*** farm stage: radest *** (")
	assert.Contains(t, out.String(), "*** finished *** (")
}

func TestPipelineReportsLabelsInOrder(t *testing.T) {
	l := newScriptedLauncher()
	var out bytes.Buffer
	p := newTestPipeline(t, l, 1, WithStages(StageDirectIllum, StagePhotonCast))
	p.reporter = NewReporter(&out, p.reporter.Start())

	_, err := p.Run(context.Background(), testConfig(t))
	require.NoError(t, err)

	var labels []string
	for _, line := range bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n")) {
		start := bytes.Index(line, []byte("*** "))
		end := bytes.LastIndex(line, []byte(" ***"))
		require.True(t, start >= 0 && end > start, "unexpected line %q", line)
		labels = append(labels, string(line[start+4:end]))
	}
	assert.Equal(t, []string{
		"faux_data_sync",
		"faux_farm_begin",
		"farm stage: dillum",
		"farm stage: pcast",
		"faux_farm_finish",
		VerbLinearTextures,
		VerbCompressBitmaps,
		VerbCompressionMerge,
		"finished",
	}, labels)
}

func TestPipelineStopsAtFailingShard(t *testing.T) {
	l := newScriptedLauncher()
	l.failShard(StageRadianceEst, 2, 1)
	rec := &memRecorder{}
	p := newTestPipeline(t, l, 4, WithRecorder(rec))
	cfg := testConfig(t)

	run, err := p.Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, api.RunFailed, run.Status)

	var sf *ShardFailure
	require.True(t, errors.As(err, &sf), "got %T: %v", err, err)
	assert.Equal(t, StageRadianceEst, sf.Stage)
	assert.Equal(t, 2, sf.Shard)
	assert.Equal(t, 1, sf.ExitCode)
	assert.Equal(t, filepath.Join(p.BlobDir(cfg), "logs", "radest2.txt"), sf.LogPath)
	assert.Contains(t, err.Error(), "radest2.txt")

	assert.Len(t, l.callsTo("faux_farm_dillum_merge"), 1)
	assert.Len(t, l.callsTo("faux_farm_pcast_merge"), 1)
	assert.Len(t, l.callsTo("faux_farm_radest"), 4, "siblings of the failing shard still run")
	assert.Empty(t, l.callsTo("faux_farm_radest_merge"))
	assert.Empty(t, l.callsTo("faux_farm_extillum"))
	assert.Empty(t, l.callsTo("faux_farm_fgather"))
	assert.Empty(t, l.callsTo(VerbFarmFinish))
	assert.Empty(t, l.callsTo(VerbLinearTextures))

	assert.Equal(t, api.RunFailed, rec.status)
	assert.Contains(t, rec.message, "radest")
	last := rec.phases[len(rec.phases)-1]
	assert.Equal(t, "radest", last.Name)
	assert.Equal(t, api.RunFailed, last.Status)
	assert.Equal(t, 1, last.ExitCode)
}

func TestPipelineInitFailures(t *testing.T) {
	tests := []struct {
		name  string
		verb  string
		calls []string
	}{
		{"data sync", VerbDataSync, []string{VerbDataSync}},
		{"farm begin", VerbFarmBegin, []string{VerbDataSync, VerbFarmBegin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newScriptedLauncher()
			l.failVerb(tt.verb, 3)
			p := newTestPipeline(t, l, 2)

			_, err := p.Run(context.Background(), testConfig(t))
			var pf *PhaseFailure
			require.True(t, errors.As(err, &pf), "got %v", err)
			assert.Equal(t, tt.verb, pf.Phase)
			assert.Equal(t, 3, pf.ExitCode)
			assert.Equal(t, tt.calls, l.verbs())
		})
	}
}

func TestPipelineMergeFailureStopsLaterStages(t *testing.T) {
	l := newScriptedLauncher()
	l.failVerb("faux_farm_pcast_merge", 2)
	p := newTestPipeline(t, l, 3)

	_, err := p.Run(context.Background(), testConfig(t))
	var pf *PhaseFailure
	require.True(t, errors.As(err, &pf), "got %v", err)
	assert.Equal(t, "faux_farm_pcast_merge", pf.Phase)
	assert.Equal(t, 2, pf.ExitCode)
	assert.Empty(t, l.callsTo("faux_farm_radest"))
	assert.Empty(t, l.callsTo(VerbFarmFinish))
}

func TestPipelinePostProcessFailure(t *testing.T) {
	l := newScriptedLauncher()
	l.failVerb(VerbCompressBitmaps, 1)
	p := newTestPipeline(t, l, 1)

	_, err := p.Run(context.Background(), testConfig(t))
	var pf *PhaseFailure
	require.True(t, errors.As(err, &pf), "got %v", err)
	assert.Equal(t, VerbCompressBitmaps, pf.Phase)
	assert.Len(t, l.callsTo(VerbLinearTextures), 1)
	assert.Empty(t, l.callsTo(VerbCompressionMerge))
}

func TestPipelineLaunchErrorIsFatal(t *testing.T) {
	l := newScriptedLauncher()
	l.errs[VerbFarmFinish] = errors.New("exec: not found")
	p := newTestPipeline(t, l, 1)

	run, err := p.Run(context.Background(), testConfig(t))
	var pf *PhaseFailure
	require.True(t, errors.As(err, &pf), "got %v", err)
	assert.Equal(t, VerbFarmFinish, pf.Phase)
	assert.Equal(t, -1, pf.ExitCode)
	assert.Equal(t, api.RunFailed, run.Status)
	assert.Empty(t, l.callsTo(VerbLinearTextures))
}

func TestPipelineRecordsPhasesAndMetrics(t *testing.T) {
	l := newScriptedLauncher()
	rec := &memRecorder{}
	m := &countingMetrics{}
	p := newTestPipeline(t, l, 2, WithRecorder(rec), WithMetrics(m), WithStages(StageDirectIllum, StageFinalGather))

	_, err := p.Run(context.Background(), testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, []string{
		VerbDataSync,
		VerbFarmBegin,
		"faux_farm_dillum_merge", "dillum",
		"faux_farm_fgather_merge", "fgather",
		VerbFarmFinish,
		VerbLinearTextures,
		VerbCompressBitmaps,
		VerbCompressionMerge,
	}, rec.phaseNames())
	assert.Equal(t, 4, m.shards)
	assert.Equal(t, 2, m.stages)
	// init, merges, finish and post-process
	assert.Equal(t, 2+2+1+3, m.phases)
}

func TestNewValidates(t *testing.T) {
	_, err := New(t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrToolMustBeSet)

	_, err = New(t.TempDir(), newScriptedLauncher(), WithStages())
	assert.ErrorIs(t, err, ErrNoStages)

	_, err = New(t.TempDir(), newScriptedLauncher(), WithShardCount(0))
	var ve ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, "shards", ve.Field)

	p, err := New("faux", newScriptedLauncher())
	require.NoError(t, err)
	assert.Equal(t, 1, p.ShardCount())
	assert.Equal(t, filepath.Join("faux", "111"), p.BlobDir(PipelineConfig{BlobID: "111"}))
}

func TestInvalidQualitySpawnsNothing(t *testing.T) {
	l := newScriptedLauncher()
	p := newTestPipeline(t, l, 2)

	_, err := p.Run(context.Background(), PipelineConfig{Scenario: "s", Target: "t", Quality: "ultra", Group: DefaultGroup, BlobID: "111"})
	var ve ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, "quality", ve.Field)
	assert.Empty(t, l.verbs())
	_, statErr := os.Stat(p.BlobDir(testConfig(t)))
	assert.True(t, os.IsNotExist(statErr), "blob directory created for a rejected run")
}

func TestPipelineRecordsAfterInterrupt(t *testing.T) {
	l := newScriptedLauncher()
	rec := &memRecorder{}
	p := newTestPipeline(t, l, 1, WithRecorder(rec), WithStages(StageDirectIllum))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, testConfig(t))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.run.ID, "run row written")
	assert.Zero(t, rec.cancelled, "recorder saw a cancelled context")
}
