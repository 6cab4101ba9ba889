package farm

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNoStages      = errors.New("at least one stage is required")
	ErrToolMustBeSet = errors.New("worker tool must be set")
)

// ValidationError rejects caller input before any process is spawned.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s=%q: %s", e.Field, e.Value, e.Message)
}

// ShardFailure reports one shard of a stage that exited non-zero or could not be started.
type ShardFailure struct {
	Stage    Stage
	Shard    int
	ExitCode int
	LogPath  string
	Err      error
}

func (e *ShardFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stage %s shard %d failed to run: %v (log: %s)", e.Stage, e.Shard, e.Err, e.LogPath)
	}
	return fmt.Sprintf("stage %s shard %d exited with code %d, see log for details: %s", e.Stage, e.Shard, e.ExitCode, e.LogPath)
}

func (e *ShardFailure) Unwrap() error { return e.Err }

// PhaseFailure reports a non-sharded external call (prep, merge, finish, post-process)
// that exited non-zero or could not be started.
type PhaseFailure struct {
	Phase    string
	ExitCode int
	Err      error
}

func (e *PhaseFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("phase %s failed to run: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("phase %s exited with code %d", e.Phase, e.ExitCode)
}

func (e *PhaseFailure) Unwrap() error { return e.Err }
