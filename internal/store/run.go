package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RunKind is the pipeline stage a run belongs to.
type RunKind string

const (
	RunKindTrain  RunKind = "train"
	RunKindExport RunKind = "export"
	RunKindInfer  RunKind = "infer"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one recorded invocation of train, export or infer.
type Run struct {
	ID         string          `json:"id"`
	Kind       RunKind         `json:"kind"`
	Experiment string          `json:"experiment"`
	Artifact   string          `json:"artifact"`
	Source     string          `json:"source"`
	Status     RunStatus       `json:"status"`
	Params     json.RawMessage `json:"params"`
	LatencyMS  *float64        `json:"latency_ms,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Duration is how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ListOptions filter RunRepository.List.
type ListOptions struct {
	Kind  RunKind
	Limit int
}

// RunRepository provides CRUD operations for runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a new run in the running state. ID and StartedAt are
// filled in when empty.
func (r *RunRepository) Create(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if len(run.Params) == 0 {
		run.Params = json.RawMessage("{}")
	}
	run.Status = RunStatusRunning

	_, err := r.db.Exec(
		`INSERT INTO runs (id, kind, experiment, artifact, source, status, params, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.Experiment, run.Artifact, run.Source,
		string(run.Status), string(run.Params), run.StartedAt,
	)
	return err
}

// Finish records the outcome of a run. A non-nil runErr marks it failed.
func (r *RunRepository) Finish(run *Run, runErr error) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = RunStatusSucceeded
	run.Error = ""
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	}

	var latency sql.NullFloat64
	if run.LatencyMS != nil {
		latency = sql.NullFloat64{Float64: *run.LatencyMS, Valid: true}
	}

	result, err := r.db.Exec(
		`UPDATE runs SET status = ?, artifact = ?, latency_ms = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(run.Status), run.Artifact, latency, run.Error, now, run.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

const runColumns = `id, kind, experiment, artifact, source, status, params, latency_ms, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	run := &Run{}
	var kind, status, params string
	var latency sql.NullFloat64
	var finished sql.NullTime

	err := s.Scan(&run.ID, &kind, &run.Experiment, &run.Artifact, &run.Source, &status,
		&params, &latency, &run.Error, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}

	run.Kind = RunKind(kind)
	run.Status = RunStatus(status)
	run.Params = json.RawMessage(params)
	if latency.Valid {
		v := latency.Float64
		run.LatencyMS = &v
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// List retrieves runs, newest first.
func (r *RunRepository) List(opts ListOptions) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if opts.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(opts.Kind))
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Delete removes a run and its detections.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
