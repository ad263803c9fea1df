package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/velebit-labs/pricefeed/internal/db"
	"github.com/velebit-labs/pricefeed/internal/ingest"
	"github.com/velebit-labs/pricefeed/internal/scheduler"
	"github.com/velebit-labs/pricefeed/internal/util"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "0.3.0"

// DBClient is an interface for database operations
type DBClient interface {
	GetDB() *sql.DB
}

// Submitter queues ingestion tasks for background execution.
type Submitter interface {
	Submit(task scheduler.Task)
	Running() (scheduler.Task, bool)
}

// Runner executes an ingestion synchronously.
type Runner interface {
	Run(ctx context.Context, chain string, date time.Time, force bool, initiator string) (*ingest.Result, error)
}

// JobLogReader exposes read access to the ingestion job history.
type JobLogReader interface {
	RecentJobs(ctx context.Context, limit int) ([]db.JobLog, error)
	Stats(ctx context.Context, from, to time.Time) (*db.JobStats, error)
}

// Handler holds dependencies for API handlers
type Handler struct {
	DB        DBClient
	Scheduler Submitter
	Runner    Runner
	JobLogs   JobLogReader
}

// NewHandler creates a new API handler with dependencies
func NewHandler(pgDB DBClient, sched Submitter, runner Runner, jobLogs JobLogReader) *Handler {
	return &Handler{
		DB:        pgDB,
		Scheduler: sched,
		Runner:    runner,
		JobLogs:   jobLogs,
	}
}

// SetupRoutes configures all API routes with proper middleware
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	// Health check endpoints
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/health/db", h.DatabaseHealthCheck)

	// V1 API routes
	mux.HandleFunc("/v1/ingestions", h.IngestionsHandler)
	mux.HandleFunc("/v1/ingestions/run", h.IngestionRun)
	mux.HandleFunc("/v1/ingestions/stats", h.IngestionStats)
}

// HealthCheck handles basic health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	WriteHealthy(w, r, "pricefeed", Version)
}

// DatabaseHealthCheck handles database health check requests
func (h *Handler) DatabaseHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	// Guard against nil DB to prevent panic
	if h.DB == nil {
		WriteUnhealthy(w, r, "postgresql", fmt.Errorf("database connection not configured"))
		return
	}

	if err := h.DB.GetDB().Ping(); err != nil {
		WriteUnhealthy(w, r, "postgresql", err)
		return
	}

	WriteHealthy(w, r, "postgresql", "")
}

// ingestionRequest is the body for POST /v1/ingestions and /v1/ingestions/run.
type ingestionRequest struct {
	Chain string `json:"chain"`
	Date  string `json:"date"`
	Force bool   `json:"force,omitempty"`
}

func (h *Handler) parseIngestionRequest(w http.ResponseWriter, r *http.Request) (string, time.Time, bool, bool) {
	var req ingestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "invalid request body: "+err.Error())
		return "", time.Time{}, false, false
	}

	if req.Chain == "" {
		BadRequest(w, r, "chain is required (use \"*\" for all chains)")
		return "", time.Time{}, false, false
	}

	date := time.Now()
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			BadRequest(w, r, "invalid date, expected YYYY-MM-DD: "+req.Date)
			return "", time.Time{}, false, false
		}
		date = parsed
	}

	return req.Chain, date, req.Force, true
}

// IngestionsHandler routes /v1/ingestions by method.
func (h *Handler) IngestionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createIngestion(w, r)
	case http.MethodGet:
		h.listIngestions(w, r)
	default:
		MethodNotAllowed(w, r)
	}
}

// createIngestion queues an ingestion for background execution. A run
// already in flight for the same chain and date is reported as a conflict
// unless force is set, in which case the new submission preempts it.
func (h *Handler) createIngestion(w http.ResponseWriter, r *http.Request) {
	chain, date, force, ok := h.parseIngestionRequest(w, r)
	if !ok {
		return
	}

	task := scheduler.Task{
		Chain:     chain,
		Date:      date,
		Force:     force,
		Initiator: util.GetClientIP(r),
	}

	if current, running := h.Scheduler.Running(); running && !force {
		if current.Chain == chain && current.Date.Format("2006-01-02") == date.Format("2006-01-02") {
			Conflict(w, r, fmt.Sprintf("ingestion for %s on %s is already running", chain, date.Format("2006-01-02")))
			return
		}
	}

	h.Scheduler.Submit(task)

	log.Info().
		Str("chain", chain).
		Str("date", date.Format("2006-01-02")).
		Bool("force", force).
		Str("initiator", task.Initiator).
		Msg("Ingestion queued")

	WriteAccepted(w, r, map[string]interface{}{
		"chain": chain,
		"date":  date.Format("2006-01-02"),
		"force": force,
	}, "Ingestion queued")
}

// listIngestions returns recent job logs, newest first.
func (h *Handler) listIngestions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 200 {
			BadRequest(w, r, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	jobs, err := h.JobLogs.RecentJobs(r.Context(), limit)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []db.JobLog{}
	}

	WriteSuccess(w, r, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	}, "")
}

// IngestionRun executes an ingestion synchronously and returns its outcome.
func (h *Handler) IngestionRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	chain, date, force, ok := h.parseIngestionRequest(w, r)
	if !ok {
		return
	}

	result, err := h.Runner.Run(r.Context(), chain, date, force, util.GetClientIP(r))
	if err != nil {
		if errors.Is(err, ingest.ErrUnknownChain) {
			NotFound(w, r, "unknown chain: "+chain)
			return
		}
		InternalError(w, r, err)
		return
	}

	WriteSuccess(w, r, result, result.Message)
}

// IngestionStats returns aggregate job outcomes for a date range.
// Defaults to the last 30 days when from/to are omitted.
func (h *Handler) IngestionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	to := time.Now()
	from := to.AddDate(0, 0, -30)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			BadRequest(w, r, "invalid from date, expected YYYY-MM-DD: "+v)
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			BadRequest(w, r, "invalid to date, expected YYYY-MM-DD: "+v)
			return
		}
		// Include the whole "to" day.
		to = parsed.AddDate(0, 0, 1)
	}

	stats, err := h.JobLogs.Stats(r.Context(), from, to)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, stats, "")
}
