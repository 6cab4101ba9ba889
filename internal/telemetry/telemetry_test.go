package telemetry

import (
	"sync"
	"testing"
	"time"
)

func TestCollectorDisabledKeepsNothing(t *testing.T) {
	c := NewCollector(false, time.Second)
	c.Counter("x", 1, nil)
	c.RecordShard("dillum", 0, 0, time.Second)
	if n := len(c.GetMetrics()); n != 0 {
		t.Fatalf("expected no metrics, got %d", n)
	}
	c.Shutdown()
}

func TestCollectorRecordsFarmMetrics(t *testing.T) {
	c := NewCollector(true, 0)
	defer c.Shutdown()

	c.RecordShard("radest", 2, 1, 1500*time.Millisecond)
	c.RecordStage("radest", 4, 3*time.Second, 3, 1)
	c.RecordPhase("faux_farm_finish", time.Second, true)

	byName := map[string]Metric{}
	for _, m := range c.GetMetrics() {
		byName[m.Name] = m
	}
	if m, ok := byName["lightfarm_shard_duration"]; !ok || m.Value != 1500 || m.Unit != "ms" || m.Labels["shard"] != "2" {
		t.Fatalf("unexpected shard timer: %+v", m)
	}
	if _, ok := byName["lightfarm_shards_failed"]; !ok {
		t.Fatalf("failed shard not counted")
	}
	if m := byName["lightfarm_stage_success_rate"]; m.Value != 75 {
		t.Fatalf("expected 75%% success rate, got %v", m.Value)
	}
	if _, ok := byName["lightfarm_phases_successful"]; !ok {
		t.Fatalf("successful phase not counted")
	}
}

func TestFlushDrainsBuffer(t *testing.T) {
	c := NewCollector(true, 0)
	c.Gauge("lightfarm_stage_shards", 8, nil)
	c.Timer("lightfarm_phase_duration", time.Millisecond, nil)
	if n := c.FlushMetrics(); n != 2 {
		t.Fatalf("expected 2 flushed, got %d", n)
	}
	if n := len(c.GetMetrics()); n != 0 {
		t.Fatalf("expected empty buffer, got %d", n)
	}
	c.Shutdown()
}

func TestPeriodicFlush(t *testing.T) {
	c := NewCollector(true, 10*time.Millisecond)
	c.Counter("lightfarm_shards_successful", 1, nil)
	deadline := time.Now().Add(2 * time.Second)
	for len(c.GetMetrics()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("metrics were not flushed in the background")
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Shutdown()
}

func TestCollectorConcurrentUse(t *testing.T) {
	c := NewCollector(true, 0)
	defer c.Shutdown()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(shard int) {
			defer wg.Done()
			c.RecordShard("pcast", shard, 0, time.Millisecond)
		}(i)
	}
	wg.Wait()
	if n := len(c.GetMetrics()); n != 16 {
		t.Fatalf("expected 16 metrics, got %d", n)
	}
}

func BenchmarkMetricsRecording(b *testing.B) {
	c := NewCollector(true, 0)
	defer c.Shutdown()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		c.RecordShard("dillum", i%8, 0, time.Millisecond)
		if i%100 == 0 {
			c.FlushMetrics()
		}
	}
}
