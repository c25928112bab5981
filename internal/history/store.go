package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"conveyor/internal/config"
	"conveyor/internal/queue"
)

// Store archives terminal pipelines and their jobs in SQLite. The scheduler
// keeps everything in memory while pipelines run; this is the durable record
// that survives daemon restarts.
type Store struct {
	db   *sql.DB
	path string
}

// PipelineRecord is an archived pipeline row.
type PipelineRecord struct {
	ID              string
	OwnerID         string
	Status          queue.PipelineStatus
	OverallProgress int
	JobCount        int
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// JobRecord is an archived job row.
type JobRecord struct {
	ID              string
	PipelineID      string
	Type            queue.JobType
	ItemRef         string
	Priority        queue.Priority
	Status          queue.Status
	RetryCount      int
	MaxRetries      int
	ProgressStep    string
	ProgressPercent int
	ProgressMessage string
	ErrorMessage    string
	Result          map[string]any
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Open initializes or connects to the history database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.HistoryPath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// ArchivePipeline upserts a pipeline snapshot and all of its jobs in one
// transaction. Re-archiving the same pipeline overwrites the previous rows,
// so delivering a terminal event more than once is harmless.
func (s *Store) ArchivePipeline(ctx context.Context, pipeline *queue.Pipeline, jobs []*queue.Job) error {
	if pipeline == nil {
		return errors.New("pipeline is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO pipelines (
            id, owner_id, status, overall_progress, job_count,
            created_at, started_at, completed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            overall_progress = excluded.overall_progress,
            job_count = excluded.job_count,
            started_at = excluded.started_at,
            completed_at = excluded.completed_at`,
		pipeline.ID,
		pipeline.OwnerID,
		pipeline.Status,
		pipeline.OverallProgress,
		len(pipeline.JobIDs),
		pipeline.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullableTime(pipeline.StartedAt),
		nullableTime(pipeline.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("archive pipeline: %w", err)
	}

	for _, job := range jobs {
		if job == nil {
			continue
		}
		var resultJSON any
		if len(job.Result) > 0 {
			data, marshalErr := json.Marshal(job.Result)
			if marshalErr != nil {
				return fmt.Errorf("marshal job result: %w", marshalErr)
			}
			resultJSON = string(data)
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO jobs (
                id, pipeline_id, job_type, item_ref, priority, status,
                retry_count, max_retries, progress_step, progress_percent,
                progress_message, error_message, result_json,
                created_at, started_at, completed_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                status = excluded.status,
                retry_count = excluded.retry_count,
                progress_step = excluded.progress_step,
                progress_percent = excluded.progress_percent,
                progress_message = excluded.progress_message,
                error_message = excluded.error_message,
                result_json = excluded.result_json,
                started_at = excluded.started_at,
                completed_at = excluded.completed_at`,
			job.ID,
			job.PipelineID,
			job.Type,
			job.ItemRef,
			job.Priority,
			job.Status,
			job.RetryCount,
			job.MaxRetries,
			nullableString(job.Progress.Step),
			job.Progress.Percent,
			nullableString(job.Progress.Message),
			nullableString(job.ErrorMessage),
			resultJSON,
			job.CreatedAt.UTC().Format(time.RFC3339Nano),
			nullableTime(job.StartedAt),
			nullableTime(job.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("archive job %s: %w", job.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

// PipelineByID fetches an archived pipeline, or nil when it was never archived.
func (s *Store) PipelineByID(ctx context.Context, id string) (*PipelineRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	record, err := scanPipeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	return record, nil
}

// ListPipelines returns archived pipelines, most recently completed first.
// A limit <= 0 returns everything.
func (s *Store) ListPipelines(ctx context.Context, limit int) ([]*PipelineRecord, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines ORDER BY completed_at DESC, created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var records []*PipelineRecord
	for rows.Next() {
		record, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// JobsForPipeline returns archived jobs for a pipeline in creation order.
func (s *Store) JobsForPipeline(ctx context.Context, pipelineID string) ([]*JobRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE pipeline_id = ? ORDER BY created_at, id`,
		pipelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []*JobRecord
	for rows.Next() {
		record, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Summary returns a count of archived pipelines grouped by status.
func (s *Store) Summary(ctx context.Context) (map[queue.PipelineStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM pipelines GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("history summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[queue.PipelineStatus]int)
	for rows.Next() {
		var status queue.PipelineStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		summary[status] = count
	}
	return summary, rows.Err()
}

const pipelineColumns = "id, owner_id, status, overall_progress, job_count, created_at, started_at, completed_at"

const jobColumns = "id, pipeline_id, job_type, item_ref, priority, status, retry_count, max_retries, progress_step, progress_percent, progress_message, error_message, result_json, created_at, started_at, completed_at"

func scanPipeline(scanner interface{ Scan(dest ...any) error }) (*PipelineRecord, error) {
	var (
		id           string
		ownerID      string
		statusStr    string
		progress     int
		jobCount     int
		createdRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
	)

	if err := scanner.Scan(&id, &ownerID, &statusStr, &progress, &jobCount, &createdRaw, &startedRaw, &completedRaw); err != nil {
		return nil, err
	}

	record := &PipelineRecord{
		ID:              id,
		OwnerID:         ownerID,
		Status:          queue.PipelineStatus(statusStr),
		OverallProgress: progress,
		JobCount:        jobCount,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		record.CreatedAt = created
	}
	record.StartedAt = parseNullableTime(startedRaw)
	record.CompletedAt = parseNullableTime(completedRaw)
	return record, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*JobRecord, error) {
	var (
		id              string
		pipelineID      string
		jobType         string
		itemRef         string
		priority        string
		statusStr       string
		retryCount      int
		maxRetries      int
		progressStep    sql.NullString
		progressPercent int
		progressMessage sql.NullString
		errorMessage    sql.NullString
		resultJSON      sql.NullString
		createdRaw      string
		startedRaw      sql.NullString
		completedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&pipelineID,
		&jobType,
		&itemRef,
		&priority,
		&statusStr,
		&retryCount,
		&maxRetries,
		&progressStep,
		&progressPercent,
		&progressMessage,
		&errorMessage,
		&resultJSON,
		&createdRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	record := &JobRecord{
		ID:              id,
		PipelineID:      pipelineID,
		Type:            queue.JobType(jobType),
		ItemRef:         itemRef,
		Priority:        queue.Priority(priority),
		Status:          queue.Status(statusStr),
		RetryCount:      retryCount,
		MaxRetries:      maxRetries,
		ProgressStep:    progressStep.String,
		ProgressPercent: progressPercent,
		ProgressMessage: progressMessage.String,
		ErrorMessage:    errorMessage.String,
	}
	if resultJSON.Valid && resultJSON.String != "" {
		result := make(map[string]any)
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		record.Result = result
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		record.CreatedAt = created
	}
	record.StartedAt = parseNullableTime(startedRaw)
	record.CompletedAt = parseNullableTime(completedRaw)
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
