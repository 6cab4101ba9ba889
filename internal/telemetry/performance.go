package telemetry

import (
	"strconv"
	"time"
)

// RecordShard records one finished shard of a stage
func (c *Collector) RecordShard(stage string, shard, exitCode int, duration time.Duration) {
	labels := map[string]string{
		"stage":     stage,
		"shard":     strconv.Itoa(shard),
		"component": "shard",
	}
	c.Timer("lightfarm_shard_duration", duration, labels)
	if exitCode == 0 {
		c.Counter("lightfarm_shards_successful", 1, labels)
	} else {
		c.Counter("lightfarm_shards_failed", 1, labels)
	}
}

// RecordStage records the fan-out of a stage, merge excluded
func (c *Collector) RecordStage(stage string, shards int, duration time.Duration, succeeded, failed int) {
	labels := map[string]string{
		"stage":     stage,
		"component": "stage",
	}
	c.Timer("lightfarm_stage_duration", duration, labels)
	c.Gauge("lightfarm_stage_shards", float64(shards), labels)

	total := succeeded + failed
	if total > 0 {
		c.Gauge("lightfarm_stage_success_rate", float64(succeeded)/float64(total)*100, labels)
	}
}

// RecordPhase records a non-sharded call of the worker tool
func (c *Collector) RecordPhase(name string, duration time.Duration, success bool) {
	labels := map[string]string{
		"phase":     name,
		"component": "phase",
	}
	c.Timer("lightfarm_phase_duration", duration, labels)
	if success {
		c.Counter("lightfarm_phases_successful", 1, labels)
	} else {
		c.Counter("lightfarm_phases_failed", 1, labels)
	}
}
