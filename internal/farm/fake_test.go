package farm

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/3cpo-dev/lightfarm/pkg/api"
)

// scriptedLauncher records every call and answers with exit codes keyed by verb, or by
// "verb#shard" for shard commands.
type scriptedLauncher struct {
	mu    sync.Mutex
	calls []Command
	codes map[string]int
	errs  map[string]error
}

func newScriptedLauncher() *scriptedLauncher {
	return &scriptedLauncher{codes: map[string]int{}, errs: map[string]error{}}
}

func (l *scriptedLauncher) failShard(stage Stage, shard, code int) {
	l.codes[shardKey(stage, shard)] = code
}

func (l *scriptedLauncher) failVerb(verb string, code int) {
	l.codes[verb] = code
}

func shardKey(stage Stage, shard int) string {
	return fmt.Sprintf("faux_farm_%s#%d", stage, shard)
}

func (l *scriptedLauncher) Launch(ctx context.Context, cmd Command, stdout, stderr io.Writer) (int, error) {
	l.mu.Lock()
	l.calls = append(l.calls, cmd)
	l.mu.Unlock()

	key := cmd.Verb
	if len(cmd.Args) == 3 {
		key = cmd.Verb + "#" + cmd.Args[1]
	}
	fmt.Fprintf(stdout, "%s\n", cmd)
	if err, ok := l.errs[key]; ok {
		return -1, err
	}
	return l.codes[key], nil
}

func (l *scriptedLauncher) verbs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	for i, c := range l.calls {
		out[i] = c.Verb
	}
	return out
}

func (l *scriptedLauncher) callsTo(verb string) []Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Command
	for _, c := range l.calls {
		if c.Verb == verb {
			out = append(out, c)
		}
	}
	return out
}

// distinctVerbs collapses consecutive repeats, so the shards of a stage appear once.
func (l *scriptedLauncher) distinctVerbs() []string {
	var out []string
	for _, v := range l.verbs() {
		if len(out) == 0 || out[len(out)-1] != v {
			out = append(out, v)
		}
	}
	return out
}

// memRecorder keeps run history in memory.
type memRecorder struct {
	mu      sync.Mutex
	run     api.RunRecord
	phases  []api.PhaseRecord
	shards  []api.ShardRecord
	status  api.RunStatus
	message string
	// cancelled counts calls that arrived with an already cancelled context.
	cancelled int
}

func (r *memRecorder) seen(ctx context.Context) {
	if ctx.Err() != nil {
		r.cancelled++
	}
}

func (r *memRecorder) BeginRun(ctx context.Context, run api.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen(ctx)
	r.run = run
	return nil
}

func (r *memRecorder) RecordPhase(ctx context.Context, _ string, phase api.PhaseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen(ctx)
	r.phases = append(r.phases, phase)
	return nil
}

func (r *memRecorder) RecordShard(ctx context.Context, _ string, shard api.ShardRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen(ctx)
	r.shards = append(r.shards, shard)
	return nil
}

func (r *memRecorder) FinishRun(ctx context.Context, _ string, status api.RunStatus, message string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen(ctx)
	r.status = status
	r.message = message
	return nil
}

func (r *memRecorder) phaseNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.phases))
	for i, p := range r.phases {
		out[i] = p.Name
	}
	return out
}

// countingMetrics counts calls per method.
type countingMetrics struct {
	mu     sync.Mutex
	shards int
	stages int
	phases int
}

func (m *countingMetrics) RecordShard(string, int, int, time.Duration) {
	m.mu.Lock()
	m.shards++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordStage(string, int, time.Duration, int, int) {
	m.mu.Lock()
	m.stages++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordPhase(string, time.Duration, bool) {
	m.mu.Lock()
	m.phases++
	m.mu.Unlock()
}
