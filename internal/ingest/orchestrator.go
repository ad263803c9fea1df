// Package ingest wires one ingestion request through crawl, reconcile,
// cache clear, job log, and notification.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/velebit-labs/pricefeed/internal/crawler"
	"github.com/velebit-labs/pricefeed/internal/db"
	"github.com/velebit-labs/pricefeed/internal/notifications"
	"github.com/velebit-labs/pricefeed/internal/observability"
)

// ErrUnknownChain is returned for a chain token no crawler serves. No job
// log row is created in that case.
var ErrUnknownChain = errors.New("unknown chain")

// WildcardChain resolves to every registered crawler.
const WildcardChain = "*"

// Reconciler replaces a day's price facts for one chain.
type Reconciler interface {
	ReplaceDay(ctx context.Context, chain string, date time.Time, result crawler.Result) (int, error)
}

// JobLogs is the job log surface the orchestrator needs.
type JobLogs interface {
	Create(ctx context.Context, chain string, date time.Time, initiator string, forced bool) (*db.JobLog, error)
	UpdateCounts(ctx context.Context, id string, stores, products int) error
	Complete(ctx context.Context, id string, changes int, message string) error
	Fail(ctx context.Context, id, message, detail string) error
	Cancel(ctx context.Context, id string) error
	HasCompletedRun(ctx context.Context, chain string, date time.Time) (bool, error)
}

// SnapshotCache clears cached per-store snapshots after a successful run
// so the next run re-fetches fresh data.
type SnapshotCache interface {
	Clear(chain string, date time.Time) error
}

// Result aggregates one Run invocation, possibly across multiple chains.
type Result struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	PriceChanges int      `json:"price_changes"`
	JobIDs       []string `json:"job_ids"`
}

// Orchestrator coordinates a per-request ingestion flow. One instance is
// shared by the scheduler's consumer and the synchronous API path.
type Orchestrator struct {
	registry   *crawler.Registry
	reconciler Reconciler
	logs       JobLogs
	snapshots  SnapshotCache
	notifier   notifications.Notifier
}

// NewOrchestrator wires the orchestrator's collaborators. notifier may be
// nil when no notification channel is configured.
func NewOrchestrator(registry *crawler.Registry, reconciler Reconciler, logs JobLogs,
	snapshots SnapshotCache, notifier notifications.Notifier) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		reconciler: reconciler,
		logs:       logs,
		snapshots:  snapshots,
		notifier:   notifier,
	}
}

// Run ingests price lists for chain (or every chain for the wildcard
// token) on date. Unless force is set, a chain/date that already completed
// is skipped. Returns the aggregate result; the error reflects the first
// failure or cancellation.
func (o *Orchestrator) Run(ctx context.Context, chain string, date time.Time, force bool, initiator string) (*Result, error) {
	var crawlers []crawler.Crawler
	if chain == WildcardChain {
		crawlers = o.registry.All()
	} else {
		c := o.registry.Get(chain)
		if c == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
		}
		crawlers = []crawler.Crawler{c}
	}

	result := &Result{Success: true}
	for _, c := range crawlers {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		changes, jobID, err := o.runChain(ctx, c, date, force, initiator)
		if jobID != "" {
			result.JobIDs = append(result.JobIDs, jobID)
		}
		if err != nil {
			result.Success = false
			result.Message = err.Error()
			return result, err
		}
		result.PriceChanges += changes
	}

	result.Message = fmt.Sprintf("ingested %d price changes across %d chain(s)", result.PriceChanges, len(crawlers))
	return result, nil
}

// runChain executes the full flow for one crawler.
func (o *Orchestrator) runChain(ctx context.Context, c crawler.Crawler, date time.Time, force bool, initiator string) (changes int, jobID string, err error) {
	chain := c.Chain()
	dateStr := date.Format("2006-01-02")
	start := time.Now()

	ctx, span := observability.StartIngestSpan(ctx, chain, dateStr)
	defer span.End()

	jl, err := o.logs.Create(ctx, chain, date, initiator, force)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open job log: %w", err)
	}
	jobID = jl.ID

	status := db.JobFailed
	defer func() {
		observability.RecordRun(ctx, chain, status, time.Since(start))
	}()

	log.Info().
		Str("chain", chain).
		Str("date", dateStr).
		Bool("force", force).
		Str("initiator", initiator).
		Msg("Starting ingestion")

	if !force {
		done, err := o.logs.HasCompletedRun(ctx, chain, date)
		if err != nil {
			return 0, jobID, o.fail(ctx, jl.ID, chain, dateStr, err)
		}
		if done {
			status = db.JobCompleted
			if err := o.logs.Complete(ctx, jl.ID, 0, "skipped: already ingested"); err != nil {
				log.Error().Err(err).Str("job_id", jl.ID).Msg("Failed to mark job skipped")
			}
			log.Info().Str("chain", chain).Str("date", dateStr).Msg("Ingestion already completed, skipping")
			return 0, jobID, nil
		}
	}

	result, err := c.Crawl(ctx, date)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			status = db.JobCancelled
			return 0, jobID, o.cancel(ctx, jl.ID, ctx.Err())
		}
		if errors.Is(err, crawler.ErrNoData) {
			status = db.JobCompleted
			if err := o.logs.Complete(ctx, jl.ID, 0, "no price lists published for date"); err != nil {
				log.Error().Err(err).Str("job_id", jl.ID).Msg("Failed to complete job log")
			}
			log.Info().Str("chain", chain).Str("date", dateStr).Msg("No price lists published, nothing to ingest")
			return 0, jobID, nil
		}
		return 0, jobID, o.fail(ctx, jl.ID, chain, dateStr, err)
	}

	if err := o.logs.UpdateCounts(ctx, jl.ID, len(result), result.DistinctProducts()); err != nil {
		log.Error().Err(err).Str("job_id", jl.ID).Msg("Failed to update job counts")
	}

	changes, err = o.reconciler.ReplaceDay(ctx, chain, date, result)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			status = db.JobCancelled
			return 0, jobID, o.cancel(ctx, jl.ID, ctx.Err())
		}
		return 0, jobID, o.fail(ctx, jl.ID, chain, dateStr, err)
	}
	observability.AddFactRows(ctx, chain, changes)

	status = db.JobCompleted
	message := fmt.Sprintf("%d stores, %d price facts", len(result), changes)
	if err := o.logs.Complete(ctx, jl.ID, changes, message); err != nil {
		log.Error().Err(err).Str("job_id", jl.ID).Msg("Failed to complete job log")
	}

	// Clear cached snapshots so the next run re-fetches fresh data.
	if o.snapshots != nil {
		if err := o.snapshots.Clear(chain, date); err != nil {
			log.Warn().Err(err).Str("chain", chain).Msg("Failed to clear snapshot cache")
		}
	}

	o.notify(ctx,
		fmt.Sprintf("Ingestion complete: %s %s", chain, dateStr),
		fmt.Sprintf("%s in %s", message, time.Since(start).Round(time.Millisecond)))

	log.Info().
		Str("chain", chain).
		Str("date", dateStr).
		Int("stores", len(result)).
		Int("price_changes", changes).
		Dur("duration_ms", time.Since(start)).
		Msg("Ingestion completed")

	return changes, jobID, nil
}

// cancel marks the job log cancelled and re-raises so the caller observes
// cancellation.
func (o *Orchestrator) cancel(ctx context.Context, jobID string, cause error) error {
	// The run context is done; the log update uses a fresh one.
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := o.logs.Cancel(updateCtx, jobID); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to mark job cancelled")
	}
	if cause == nil {
		cause = context.Canceled
	}
	return cause
}

// fail marks the job log failed with the error and stack detail, sends a
// best-effort failure notification, and re-raises.
func (o *Orchestrator) fail(ctx context.Context, jobID, chain, dateStr string, cause error) error {
	sentry.CaptureException(cause)

	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := o.logs.Fail(updateCtx, jobID, cause.Error(), string(debug.Stack())); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to mark job failed")
	}

	o.notify(updateCtx,
		fmt.Sprintf("Ingestion failed: %s %s", chain, dateStr),
		cause.Error())

	return cause
}

// notify sends a best-effort notification; failures are logged, never
// propagated.
func (o *Orchestrator) notify(ctx context.Context, subject, body string) {
	if o.notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := o.notifier.Notify(notifyCtx, subject, body); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to send notification")
	}
}
