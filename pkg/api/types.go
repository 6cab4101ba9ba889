package api

import "time"

// v0 contains the run-history records shared by the farm driver and the store.

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// PhaseKind groups phases of a bake by their role in the pipeline.
type PhaseKind string

const (
	PhaseInit        PhaseKind = "init"
	PhaseStage       PhaseKind = "stage"
	PhaseMerge       PhaseKind = "merge"
	PhaseFinalize    PhaseKind = "finalize"
	PhasePostProcess PhaseKind = "postprocess"
)

type RunRecord struct {
	ID         string    `json:"id" yaml:"id"`
	Scenario   string    `json:"scenario" yaml:"scenario"`
	Target     string    `json:"target" yaml:"target"`
	Quality    string    `json:"quality" yaml:"quality"`
	Group      string    `json:"group" yaml:"group"`
	BlobDir    string    `json:"blob_dir" yaml:"blob_dir"`
	ShardCount int       `json:"shard_count" yaml:"shard_count"`
	Status     RunStatus `json:"status" yaml:"status"`
	Message    string    `json:"message,omitempty" yaml:"message,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

type PhaseRecord struct {
	Name     string        `json:"name" yaml:"name"`
	Kind     PhaseKind     `json:"kind" yaml:"kind"`
	Status   RunStatus     `json:"status" yaml:"status"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

type ShardRecord struct {
	Stage    string        `json:"stage" yaml:"stage"`
	Shard    int           `json:"shard" yaml:"shard"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	LogPath  string        `json:"log_path" yaml:"log_path"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}
