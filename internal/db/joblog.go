package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job statuses. A log row is created running and mutated exactly once to a
// terminal state.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// JobLog records the lifecycle and metrics of one ingestion attempt.
type JobLog struct {
	ID              string     `json:"id"`
	Chain           string     `json:"chain"`
	PriceDate       time.Time  `json:"price_date"`
	Status          string     `json:"status"`
	Initiator       string     `json:"initiator"`
	Forced          bool       `json:"forced"`
	StoresProcessed int        `json:"stores_processed"`
	ProductsFound   int        `json:"products_found"`
	PriceChanges    int        `json:"price_changes"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationMs      *int64     `json:"duration_ms,omitempty"`
	Message         string     `json:"message,omitempty"`
	ErrorDetail     string     `json:"error_detail,omitempty"`
}

// JobStats aggregates job outcomes over a date range.
type JobStats struct {
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Cancelled     int     `json:"cancelled"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// JobLogStore persists scraping job logs.
type JobLogStore struct {
	db *sql.DB
}

// NewJobLogStore creates a job log store.
func NewJobLogStore(client *sql.DB) *JobLogStore {
	return &JobLogStore{db: client}
}

// Create opens a running job log for (chain, date) and returns it.
func (s *JobLogStore) Create(ctx context.Context, chain string, date time.Time, initiator string, forced bool) (*JobLog, error) {
	jl := &JobLog{
		ID:        uuid.New().String(),
		Chain:     chain,
		PriceDate: date,
		Status:    JobRunning,
		Initiator: initiator,
		Forced:    forced,
		StartedAt: time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scraping_job_logs (id, chain, price_date, status, initiator, forced, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, jl.ID, jl.Chain, jl.PriceDate, jl.Status, jl.Initiator, jl.Forced, jl.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create job log: %w", err)
	}
	return jl, nil
}

// UpdateCounts records the crawl metrics on a running job.
func (s *JobLogStore) UpdateCounts(ctx context.Context, id string, stores, products int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scraping_job_logs
		SET stores_processed = $2, products_found = $3
		WHERE id = $1
	`, id, stores, products)
	if err != nil {
		return fmt.Errorf("failed to update job counts: %w", err)
	}
	return nil
}

func (s *JobLogStore) finish(ctx context.Context, id, status string, changes int, message, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scraping_job_logs
		SET status = $2,
			price_changes = $3,
			message = $4,
			error_detail = $5,
			completed_at = NOW(),
			duration_ms = (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::bigint
		WHERE id = $1
	`, id, status, changes, message, detail)
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", status, err)
	}
	return nil
}

// Complete marks the job completed with its fact-row change count.
func (s *JobLogStore) Complete(ctx context.Context, id string, changes int, message string) error {
	return s.finish(ctx, id, JobCompleted, changes, message, "")
}

// Fail marks the job failed with a message and error detail.
func (s *JobLogStore) Fail(ctx context.Context, id, message, detail string) error {
	return s.finish(ctx, id, JobFailed, 0, message, detail)
}

// Cancel marks the job cancelled.
func (s *JobLogStore) Cancel(ctx context.Context, id string) error {
	return s.finish(ctx, id, JobCancelled, 0, "cancelled by newer submission", "")
}

// HasCompletedRun reports whether a completed ingestion already exists for
// (chain, date).
func (s *JobLogStore) HasCompletedRun(ctx context.Context, chain string, date time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM scraping_job_logs
			WHERE chain = $1 AND price_date = $2 AND status = $3
		)
	`, chain, date, JobCompleted).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check completed runs: %w", err)
	}
	return exists, nil
}

// RecentJobs returns the most recent job logs, newest first.
func (s *JobLogStore) RecentJobs(ctx context.Context, limit int) ([]JobLog, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chain, price_date, status, initiator, forced,
			stores_processed, products_found, price_changes,
			started_at, completed_at, duration_ms, message, error_detail
		FROM scraping_job_logs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobLog
	for rows.Next() {
		var jl JobLog
		if err := rows.Scan(
			&jl.ID, &jl.Chain, &jl.PriceDate, &jl.Status, &jl.Initiator, &jl.Forced,
			&jl.StoresProcessed, &jl.ProductsFound, &jl.PriceChanges,
			&jl.StartedAt, &jl.CompletedAt, &jl.DurationMs, &jl.Message, &jl.ErrorDetail,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, jl)
	}
	return jobs, rows.Err()
}

// Stats aggregates success rate and average duration over a date range.
func (s *JobLogStore) Stats(ctx context.Context, from, to time.Time) (*JobStats, error) {
	stats := &JobStats{}
	var avgDuration sql.NullFloat64

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COUNT(*) FILTER (WHERE status = $5),
			AVG(duration_ms) FILTER (WHERE status = $3)
		FROM scraping_job_logs
		WHERE started_at >= $1 AND started_at < $2
	`, from, to, JobCompleted, JobFailed, JobCancelled).Scan(
		&stats.Total, &stats.Completed, &stats.Failed, &stats.Cancelled, &avgDuration,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query job stats: %w", err)
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total)
	}
	if avgDuration.Valid {
		stats.AvgDurationMs = avgDuration.Float64
	}
	return stats, nil
}
