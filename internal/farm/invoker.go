package farm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ShardTask is one shard of one stage.
type ShardTask struct {
	Stage Stage
	Index int
	Count int
}

func (t ShardTask) validate() error {
	if t.Stage == "" {
		return ValidationError{Field: "stage", Value: "", Message: "stage is required"}
	}
	if t.Count < 1 {
		return ValidationError{Field: "shard_count", Value: strconv.Itoa(t.Count), Message: "shard count must be at least 1"}
	}
	if t.Index < 0 || t.Index >= t.Count {
		return ValidationError{
			Field:   "shard_index",
			Value:   strconv.Itoa(t.Index),
			Message: fmt.Sprintf("shard index must be in [0, %d)", t.Count),
		}
	}
	return nil
}

// WorkerResult is the outcome of a finished shard.
type WorkerResult struct {
	Task     ShardTask
	ExitCode int
	LogPath  string
	Duration time.Duration
}

func (r WorkerResult) Succeeded() bool { return r.ExitCode == 0 }

// LogDir is where shard logs of a run live.
func LogDir(blobDir string) string {
	return filepath.Join(blobDir, "logs")
}

// LogPath names the log of one shard; it is unique per (stage, shard).
func LogPath(blobDir string, stage Stage, shard int) string {
	return filepath.Join(LogDir(blobDir), string(stage)+strconv.Itoa(shard)+".txt")
}

// Invoker runs a single shard of a stage with its output captured in a log file.
type Invoker struct {
	BlobDir  string
	Launcher Launcher
}

func NewInvoker(blobDir string, launcher Launcher) *Invoker {
	return &Invoker{BlobDir: blobDir, Launcher: launcher}
}

// Invoke runs task and blocks until the worker exits. The shard log is truncated first.
// A non-zero exit is returned in the result, not as an error.
func (iv *Invoker) Invoke(ctx context.Context, task ShardTask) (WorkerResult, error) {
	if err := task.validate(); err != nil {
		return WorkerResult{Task: task, ExitCode: -1}, err
	}
	logPath := LogPath(iv.BlobDir, task.Stage, task.Index)
	res := WorkerResult{Task: task, ExitCode: -1, LogPath: logPath}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return res, errors.Wrap(err, "create log dir")
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return res, errors.Wrap(err, "open shard log")
	}
	defer logFile.Close()

	start := time.Now()
	code, err := iv.Launcher.Launch(ctx, ShardCommand(task.Stage, iv.BlobDir, task.Index, task.Count), logFile, logFile)
	res.Duration = time.Since(start)
	if err != nil {
		return res, errors.Wrapf(err, "shard %d", task.Index)
	}
	res.ExitCode = code
	return res, nil
}
