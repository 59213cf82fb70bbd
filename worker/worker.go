// Package worker implements the Ingestion Worker (spec.md §4.5): the unit
// of execution for a single (exchange, date) job.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/ierr"
	"github.com/viktsys/marketdata-lake/ledger"
	"github.com/viktsys/marketdata-lake/objectstore"
	"github.com/viktsys/marketdata-lake/store"
)

// Job is the input to a single worker invocation.
type Job struct {
	Exchange   domain.Exchange
	Date       time.Time
	Idempotent bool
}

// Result is the outcome of a worker invocation (spec.md §4.5).
type Result struct {
	Status   domain.Status
	Records  int64
	Duration time.Duration
	Reason   string
	Err      error
}

// Worker executes one (exchange, date) job end to end.
type Worker struct {
	objects    objectstore.ObjectStore
	analytical *store.Store
	ledger     *ledger.Ledger
}

// New builds a Worker over the given object store, analytical store and
// progress ledger.
func New(objects objectstore.ObjectStore, analytical *store.Store, l *ledger.Ledger) *Worker {
	return &Worker{objects: objects, analytical: analytical, ledger: l}
}

// Run executes the algorithm from spec.md §4.5. The cancellation token
// (ctx) is checked once, before the object-store lookup and the claim
// (step 3). Once the job is claimed, the load, commit and completion run
// detached from ctx's cancellation, so shutdown can never tear a partial
// load. Nothing is checked after the commit: a pending cancellation is
// seen by the next job's pre-claim check.
func (w *Worker) Run(ctx context.Context, job Job) Result {
	start := time.Now()
	result := func() Result {
		if err := ctx.Err(); err != nil {
			if skipErr := w.ledger.Skip(context.Background(), job.Exchange, job.Date, "shutdown"); skipErr != nil {
				return Result{Status: domain.StatusFailed, Err: fmt.Errorf("shutdown skip failed: %w", skipErr)}
			}
			return Result{Status: domain.StatusSkipped, Reason: "shutdown"}
		}

		meta, err := w.objects.Head(ctx, job.Exchange, job.Date)
		if err != nil {
			var notFound *ierr.NotFound
			if errors.As(err, &notFound) {
				if skipErr := w.ledger.Skip(ctx, job.Exchange, job.Date, "no source file"); skipErr != nil {
					return Result{Status: domain.StatusFailed, Err: fmt.Errorf("no-source-file skip failed: %w", skipErr)}
				}
				return Result{Status: domain.StatusSkipped, Reason: "no source file"}
			}
			return w.failWithoutClaim(ctx, job, fmt.Errorf("object store head failed: %w", err))
		}

		outcome, err := w.ledger.Claim(ctx, job.Exchange, job.Date, meta.Path, meta.SizeBytes, job.Idempotent)
		if err != nil {
			return Result{Status: domain.StatusFailed, Err: fmt.Errorf("claim failed: %w", err)}
		}
		switch outcome {
		case ledger.AlreadyDone:
			return Result{Status: domain.StatusSkipped, Reason: "idempotent: already completed"}
		case ledger.Conflict:
			msg := "already in progress elsewhere"
			if failErr := w.ledger.Fail(ctx, job.Exchange, job.Date, msg); failErr != nil {
				return Result{Status: domain.StatusFailed, Err: fmt.Errorf("conflict fail-record failed: %w", failErr)}
			}
			return Result{Status: domain.StatusFailed, Reason: msg}
		}

		return w.loadAndCommit(ctx, job, meta)
	}()
	result.Duration = time.Since(start)
	return result
}

func (w *Worker) loadAndCommit(ctx context.Context, job Job, meta objectstore.ObjectMeta) Result {
	// The job is claimed: it runs to commit or rollback whatever happens to
	// the cancellation token from here on.
	ctx = context.WithoutCancel(ctx)

	body, err := w.objects.Open(ctx, job.Exchange, job.Date)
	if err != nil {
		return w.failClaimed(ctx, job, fmt.Errorf("object store open failed: %w", err))
	}
	defer body.Close()

	stream, err := objectstore.NewRecordStream(body)
	if err != nil {
		return w.failClaimed(ctx, job, &ierr.DataMalformed{Context: meta.Path, Err: err})
	}

	if err := w.analytical.EnsureTable(ctx, job.Exchange, stream.Header()); err != nil {
		return w.failClaimed(ctx, job, fmt.Errorf("schema pin/widen failed: %w", err))
	}

	tx, err := w.analytical.Begin(ctx)
	if err != nil {
		return w.failClaimed(ctx, job, fmt.Errorf("failed to begin transaction: %w", err))
	}

	ingestionTime := time.Now().UTC()
	records, err := tx.BulkLoad(ctx, w.analytical, job.Exchange, stream, store.Augmentations{
		DataDate:           job.Date,
		Exchange:           job.Exchange,
		SourceFile:         meta.Path,
		IngestionTimestamp: ingestionTime,
	})
	if err != nil {
		_ = tx.Rollback()
		return w.failClaimed(ctx, job, err)
	}

	if err := tx.Commit(); err != nil {
		return w.failClaimed(ctx, job, fmt.Errorf("commit failed: %w", err))
	}

	// A shutdown requested while the commit above was in flight does not
	// change the outcome: the transaction already committed, so this job
	// finishes as completed regardless of ctx's state from here on.
	loaded, err := w.countLoaded(ctx, job, meta.Path)
	if err != nil {
		loaded = records
	}

	if err := w.ledger.Complete(context.Background(), job.Exchange, job.Date, loaded); err != nil {
		return Result{Status: domain.StatusFailed, Err: fmt.Errorf("complete failed: %w", err)}
	}

	return Result{Status: domain.StatusCompleted, Records: loaded}
}

func (w *Worker) countLoaded(ctx context.Context, job Job, sourceFile string) (int64, error) {
	row := w.analytical.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE exchange = ? AND data_date = ? AND source_file = ?`, job.Exchange.TableName()),
		string(job.Exchange), job.Date, sourceFile)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// failClaimed marks a job that has already been claimed as failed.
func (w *Worker) failClaimed(ctx context.Context, job Job, cause error) Result {
	msg := abbreviate(cause)
	if err := w.ledger.Fail(context.Background(), job.Exchange, job.Date, msg); err != nil {
		return Result{Status: domain.StatusFailed, Err: fmt.Errorf("fail-record failed after %v: %w", cause, err)}
	}
	return Result{Status: domain.StatusFailed, Reason: msg, Err: cause}
}

// failWithoutClaim handles a TransientIO head() failure before any claim
// exists; there is nothing to transition, so it is reported directly.
func (w *Worker) failWithoutClaim(_ context.Context, _ Job, cause error) Result {
	return Result{Status: domain.StatusFailed, Reason: abbreviate(cause), Err: cause}
}

func abbreviate(err error) string {
	msg := err.Error()
	const max = 500
	if len(msg) > max {
		return msg[:max] + "..."
	}
	return msg
}
