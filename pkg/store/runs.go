package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StageStatus represents the lifecycle of one pipeline stage.
type StageStatus string

const (
	StageQueued    StageStatus = "queued"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// Run is one pipeline execution.
type Run struct {
	ID         string
	ConfigPath string
	DataDir    string
	OutputDir  string
	Status     StageStatus
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Stage keeps track of one stage's state while the run progresses.
type Stage struct {
	Name      string
	Status    StageStatus
	Detail    string
	Error     string
	UpdatedAt time.Time
}

// Tracker records stage transitions of a run in memory and in the store.
type Tracker struct {
	store *Store
	run   Run

	mu     sync.Mutex
	stages map[string]*Stage
	order  []string
}

// NewRun registers a running run with a fresh identifier.
func (s *Store) NewRun(ctx context.Context, configPath, dataDir, outputDir string) (*Tracker, error) {
	now := time.Now()
	run := Run{
		ID:         uuid.NewString(),
		ConfigPath: configPath,
		DataDir:    dataDir,
		OutputDir:  outputDir,
		Status:     StageRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, config_path, data_dir, output_dir, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ConfigPath, run.DataDir, run.OutputDir, string(run.Status), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &Tracker{store: s, run: run, stages: map[string]*Stage{}}, nil
}

func (t *Tracker) RunID() string { return t.run.ID }

// Queue registers stages in execution order.
func (t *Tracker) Queue(ctx context.Context, names ...string) error {
	for _, n := range names {
		if err := t.update(ctx, n, func(st *Stage) { st.Status = StageQueued }); err != nil {
			return err
		}
	}
	return nil
}

// Start marks the stage as running.
func (t *Tracker) Start(ctx context.Context, name string) error {
	return t.update(ctx, name, func(st *Stage) { st.Status = StageRunning })
}

// Complete marks the stage complete with a short summary.
func (t *Tracker) Complete(ctx context.Context, name, detail string) error {
	return t.update(ctx, name, func(st *Stage) {
		st.Status = StageCompleted
		st.Detail = detail
	})
}

// Fail records the error that stopped the stage.
func (t *Tracker) Fail(ctx context.Context, name string, err error) error {
	return t.update(ctx, name, func(st *Stage) {
		st.Status = StageFailed
		st.Error = err.Error()
	})
}

// Finish closes the run as completed, or failed when runErr is non-nil.
func (t *Tracker) Finish(ctx context.Context, runErr error) error {
	status, msg := StageCompleted, ""
	if runErr != nil {
		status, msg = StageFailed, runErr.Error()
	}
	_, err := t.store.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), msg, formatTime(time.Now()), t.run.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (t *Tracker) update(ctx context.Context, name string, update func(st *Stage)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.stages[name]
	if !ok {
		st = &Stage{Name: name}
		t.stages[name] = st
		t.order = append(t.order, name)
	}
	update(st)
	st.UpdatedAt = time.Now()

	seq := 0
	for i, n := range t.order {
		if n == name {
			seq = i
		}
	}
	_, err := t.store.db.ExecContext(ctx, `
		INSERT INTO stages (run_id, seq, name, status, detail, error, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, name) DO UPDATE SET status = excluded.status, detail = excluded.detail,
			error = excluded.error, updated_at = excluded.updated_at`,
		t.run.ID, seq, name, string(st.Status), st.Detail, st.Error, formatTime(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("record stage %s: %w", name, err)
	}
	return nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, config_path, data_dir, output_dir, status, error, created_at, updated_at FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var status, created, updated string
	if err := sc.Scan(&r.ID, &r.ConfigPath, &r.DataDir, &r.OutputDir, &status, &r.Error, &created, &updated); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.Status = StageStatus(status)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}

// GetRun fetches a run by ID. An empty id selects the newest completed run.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var row *sql.Row
	if id == "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, config_path, data_dir, output_dir, status, error, created_at, updated_at FROM runs
			WHERE status = ? ORDER BY created_at DESC LIMIT 1`, string(StageCompleted))
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, config_path, data_dir, output_dir, status, error, created_at, updated_at FROM runs WHERE id = ?`, id)
	}
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %q", ErrRunNotFound, id)
	}
	return r, err
}

// LatestResultRun returns the newest completed run that stored differential
// expression results. Branch runs that never test are passed over.
func (s *Store) LatestResultRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, config_path, data_dir, output_dir, status, error, created_at, updated_at FROM runs r
		WHERE status = ? AND EXISTS (SELECT 1 FROM contrasts c WHERE c.run_id = r.id)
		ORDER BY created_at DESC, r.rowid DESC LIMIT 1`, string(StageCompleted))
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: no completed run with results", ErrRunNotFound)
	}
	return r, err
}

// Stages lists the recorded stages of a run in execution order.
func (s *Store) Stages(ctx context.Context, runID string) ([]Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, detail, error, updated_at FROM stages WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("select stages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Stage
	for rows.Next() {
		var st Stage
		var status, updated string
		if err := rows.Scan(&st.Name, &status, &st.Detail, &st.Error, &updated); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		st.Status = StageStatus(status)
		st.UpdatedAt = parseTime(updated)
		out = append(out, st)
	}
	return out, rows.Err()
}
