package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLogCreate(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO scraping_job_logs").
		WithArgs(sqlmock.AnyArg(), "konzum", date, JobRunning, "192.0.2.1", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewJobLogStore(mockDB)
	jl, err := store.Create(context.Background(), "konzum", date, "192.0.2.1", true)
	require.NoError(t, err)

	assert.NotEmpty(t, jl.ID)
	assert.Equal(t, "konzum", jl.Chain)
	assert.Equal(t, JobRunning, jl.Status)
	assert.True(t, jl.Forced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobLogTerminalStates(t *testing.T) {
	tests := []struct {
		name   string
		mark   func(*JobLogStore, context.Context, string) error
		status string
	}{
		{
			name: "complete",
			mark: func(s *JobLogStore, ctx context.Context, id string) error {
				return s.Complete(ctx, id, 42, "2 stores, 42 price facts")
			},
			status: JobCompleted,
		},
		{
			name: "fail",
			mark: func(s *JobLogStore, ctx context.Context, id string) error {
				return s.Fail(ctx, id, "crawl failed", "stack trace")
			},
			status: JobFailed,
		},
		{
			name: "cancel",
			mark: func(s *JobLogStore, ctx context.Context, id string) error {
				return s.Cancel(ctx, id)
			},
			status: JobCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer mockDB.Close()

			mock.ExpectExec("UPDATE scraping_job_logs").
				WillReturnResult(sqlmock.NewResult(0, 1))

			store := NewJobLogStore(mockDB)
			require.NoError(t, tt.mark(store, context.Background(), "job-1"))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestJobLogUpdateCounts(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("UPDATE scraping_job_logs").
		WithArgs("job-1", 12, 3500).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewJobLogStore(mockDB)
	require.NoError(t, store.UpdateCounts(context.Background(), "job-1", 12, 3500))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasCompletedRun(t *testing.T) {
	tests := []struct {
		name     string
		exists   bool
		expected bool
	}{
		{name: "completed run exists", exists: true, expected: true},
		{name: "no completed run", exists: false, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer mockDB.Close()

			date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
			mock.ExpectQuery("SELECT EXISTS").
				WithArgs("konzum", date, JobCompleted).
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))

			store := NewJobLogStore(mockDB)
			got, err := store.HasCompletedRun(context.Background(), "konzum", date)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRecentJobs(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	started := time.Now()
	completed := started.Add(90 * time.Second)
	duration := int64(90000)

	rows := sqlmock.NewRows([]string{
		"id", "chain", "price_date", "status", "initiator", "forced",
		"stores_processed", "products_found", "price_changes",
		"started_at", "completed_at", "duration_ms", "message", "error_detail",
	}).
		AddRow("job-2", "tommy", started, JobCompleted, "10.0.0.1", false, 8, 2100, 16800, started, &completed, &duration, "8 stores, 16800 price facts", "").
		AddRow("job-1", "konzum", started, JobRunning, "10.0.0.1", false, 0, 0, 0, started, nil, nil, "", "")

	// Default limit applies when the caller passes zero.
	mock.ExpectQuery("FROM scraping_job_logs").
		WithArgs(20).
		WillReturnRows(rows)

	store := NewJobLogStore(mockDB)
	jobs, err := store.RecentJobs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "job-2", jobs[0].ID)
	assert.Equal(t, JobCompleted, jobs[0].Status)
	require.NotNil(t, jobs[0].DurationMs)
	assert.Equal(t, int64(90000), *jobs[0].DurationMs)
	assert.Nil(t, jobs[1].CompletedAt)
}

func TestJobStats(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM scraping_job_logs").
		WithArgs(from, to, JobCompleted, JobFailed, JobCancelled).
		WillReturnRows(sqlmock.NewRows([]string{"count", "completed", "failed", "cancelled", "avg"}).
			AddRow(10, 8, 1, 1, 45000.0))

	store := NewJobLogStore(mockDB)
	stats, err := store.Stats(context.Background(), from, to)
	require.NoError(t, err)

	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 8, stats.Completed)
	assert.InDelta(t, 0.8, stats.SuccessRate, 0.001)
	assert.InDelta(t, 45000.0, stats.AvgDurationMs, 0.001)
}

func TestJobLogCreateError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec("INSERT INTO scraping_job_logs").
		WillReturnError(errors.New("connection refused"))

	store := NewJobLogStore(mockDB)
	_, err = store.Create(context.Background(), "konzum", time.Now(), "test", false)
	assert.Error(t, err)
}
