package core

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/lightfarm/pkg/api"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrAmbiguousRun = errors.New("run id prefix matches more than one run")
)

// Store is a SQLite-backed history of bakes.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("mkdir store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun inserts the run row.
func (s *Store) BeginRun(ctx context.Context, run api.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, scenario, target, quality, light_group, blob_dir, shard_count, status, message, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scenario, run.Target, run.Quality, run.Group, run.BlobDir, run.ShardCount,
		string(run.Status), run.Message, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordPhase appends a finished phase to a run.
func (s *Store) RecordPhase(ctx context.Context, runID string, phase api.PhaseRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phases (run_id, name, kind, status, exit_code, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, phase.Name, string(phase.Kind), string(phase.Status), phase.ExitCode, phase.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert phase: %w", err)
	}
	return nil
}

// RecordShard appends a finished shard to a run.
func (s *Store) RecordShard(ctx context.Context, runID string, shard api.ShardRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shards (run_id, stage, shard, exit_code, log_path, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, shard.Stage, shard.Shard, shard.ExitCode, shard.LogPath, shard.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert shard: %w", err)
	}
	return nil
}

// FinishRun stores the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, status api.RunStatus, message string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, message = ?, finished_at = ? WHERE id = ?`,
		string(status), message, formatTime(finishedAt), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `id, scenario, target, quality, light_group, blob_dir, shard_count, status, message, started_at, finished_at`

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]api.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var runs []api.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun looks a run up by its id or an unambiguous id prefix.
func (s *Store) GetRun(ctx context.Context, idOrPrefix string) (api.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE substr(id, 1, length(?)) = ? ORDER BY id = ? DESC LIMIT 2`,
		idOrPrefix, idOrPrefix, idOrPrefix)
	if err != nil {
		return api.RunRecord{}, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()
	var found []api.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return api.RunRecord{}, err
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return api.RunRecord{}, err
	}
	switch {
	case len(found) == 0:
		return api.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, idOrPrefix)
	case found[0].ID == idOrPrefix || len(found) == 1:
		return found[0], nil
	default:
		return api.RunRecord{}, fmt.Errorf("%w: %s", ErrAmbiguousRun, idOrPrefix)
	}
}

// Phases returns the phases of a run in the order they finished.
func (s *Store) Phases(ctx context.Context, runID string) ([]api.PhaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, kind, status, exit_code, duration_ms FROM phases WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query phases: %w", err)
	}
	defer rows.Close()
	var phases []api.PhaseRecord
	for rows.Next() {
		var p api.PhaseRecord
		var kind, status string
		var ms int64
		if err := rows.Scan(&p.Name, &kind, &status, &p.ExitCode, &ms); err != nil {
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		p.Kind = api.PhaseKind(kind)
		p.Status = api.RunStatus(status)
		p.Duration = time.Duration(ms) * time.Millisecond
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// Shards returns the shard results of a run in the order they were recorded.
func (s *Store) Shards(ctx context.Context, runID string) ([]api.ShardRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, shard, exit_code, log_path, duration_ms FROM shards WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query shards: %w", err)
	}
	defer rows.Close()
	var shards []api.ShardRecord
	for rows.Next() {
		var sh api.ShardRecord
		var ms int64
		if err := rows.Scan(&sh.Stage, &sh.Shard, &sh.ExitCode, &sh.LogPath, &ms); err != nil {
			return nil, fmt.Errorf("scan shard: %w", err)
		}
		sh.Duration = time.Duration(ms) * time.Millisecond
		shards = append(shards, sh)
	}
	return shards, rows.Err()
}

// PhaseStatuses maps each recorded phase name of a run to its status.
func (s *Store) PhaseStatuses(ctx context.Context, runID string) (map[string]api.RunStatus, error) {
	phases, err := s.Phases(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]api.RunStatus, len(phases))
	for _, p := range phases {
		out[p.Name] = p.Status
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (api.RunRecord, error) {
	var run api.RunRecord
	var status, started string
	var finished sql.NullString
	if err := row.Scan(&run.ID, &run.Scenario, &run.Target, &run.Quality, &run.Group, &run.BlobDir,
		&run.ShardCount, &status, &run.Message, &started, &finished); err != nil {
		return run, fmt.Errorf("scan run: %w", err)
	}
	run.Status = api.RunStatus(status)
	run.StartedAt = parseTime(started)
	if finished.Valid {
		run.FinishedAt = parseTime(finished.String)
	}
	return run, nil
}

// Fixed width so that timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
