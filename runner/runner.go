// Package runner implements the Job Runner (spec.md §4.6): dispatches one
// Ingestion Worker per exchange for a given date, in a deterministic order,
// then prints the daily and weekly aggregate summaries.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/ledger"
	"github.com/viktsys/marketdata-lake/store"
	"github.com/viktsys/marketdata-lake/worker"
)

// Runner dispatches workers for a single date across a chosen set of
// exchanges.
type Runner struct {
	worker     *worker.Worker
	analytical *store.Store
	log        *logrus.Logger
}

// New builds a Runner.
func New(w *worker.Worker, analytical *store.Store, log *logrus.Logger) *Runner {
	return &Runner{worker: w, analytical: analytical, log: log}
}

// Summary is the outcome of one Run invocation.
type Summary struct {
	Date      time.Time
	Results   map[domain.Exchange]worker.Result
	ExitCode  int
}

// Run executes one Ingestion Worker per exchange in exchanges, in
// domain.Order regardless of the order the caller supplied them, honouring
// ctx for cooperative cancellation (spec.md §4.6). Workers run sequentially:
// the Analytical Store is a single-writer-per-process handle.
func (r *Runner) Run(ctx context.Context, date time.Time, exchanges []domain.Exchange, idempotent bool) Summary {
	runID := uuid.NewString()

	want := make(map[domain.Exchange]bool, len(exchanges))
	for _, e := range exchanges {
		want[e] = true
	}

	results := make(map[domain.Exchange]worker.Result, len(exchanges))
	for _, ex := range domain.Order {
		if !want[ex] {
			continue
		}
		r.log.WithFields(logrus.Fields{"run_id": runID, "exchange": ex, "date": date.Format("2006-01-02")}).Info("starting ingestion worker")
		res := r.worker.Run(ctx, worker.Job{Exchange: ex, Date: date, Idempotent: idempotent})
		results[ex] = res
		r.log.WithFields(logrus.Fields{
			"run_id": runID, "exchange": ex, "status": res.Status, "records": res.Records, "duration": res.Duration, "reason": res.Reason,
		}).Info("ingestion worker finished")
	}

	exitCode := 0
	for _, res := range results {
		if res.Status == domain.StatusFailed {
			exitCode = 1
		}
	}

	r.printSummaries(ctx, date, exchanges)

	return Summary{Date: date, Results: results, ExitCode: exitCode}
}

func (r *Runner) printSummaries(ctx context.Context, date time.Time, exchanges []domain.Exchange) {
	fmt.Println()
	fmt.Println("=== DAILY STATISTICS SUMMARY ===")
	for _, ex := range domain.Order {
		if !containsExchange(exchanges, ex) {
			continue
		}
		row := r.analytical.QueryRow(ctx, `SELECT total_files, successful_files, failed_files, total_records, CAST(avg_records_per_file AS VARCHAR) FROM gold.daily_load_stats WHERE stats_date = ? AND exchange = ?`,
			date, string(ex))
		var totalFiles, successfulFiles, failedFiles int
		var totalRecords int64
		var avgRecords string
		if err := row.Scan(&totalFiles, &successfulFiles, &failedFiles, &totalRecords, &avgRecords); err != nil {
			fmt.Printf("  %s: no data for %s\n", ex, date.Format("2006-01-02"))
			continue
		}
		fmt.Printf("  %s: files=%d ok=%d failed=%d records=%d avg_records_per_file=%s\n",
			ex, totalFiles, successfulFiles, failedFiles, totalRecords, avgRecords)
	}

	weekEnding := ledger.WeekEndingFor(date)
	fmt.Println()
	fmt.Println("=== WEEKLY ROLLING STATISTICS ===")
	for _, ex := range domain.Order {
		if !containsExchange(exchanges, ex) {
			continue
		}
		row := r.analytical.QueryRow(ctx, `SELECT total_files, total_records, CAST(avg_daily_files AS VARCHAR), CAST(avg_daily_records AS VARCHAR) FROM gold.weekly_load_stats WHERE week_ending = ? AND exchange = ?`,
			weekEnding, string(ex))
		var totalFiles int
		var totalRecords int64
		var avgDailyFiles, avgDailyRecords string
		if err := row.Scan(&totalFiles, &totalRecords, &avgDailyFiles, &avgDailyRecords); err != nil {
			fmt.Printf("  %s: no data for week ending %s\n", ex, weekEnding.Format("2006-01-02"))
			continue
		}
		fmt.Printf("  %s: week_ending=%s files=%d records=%d avg_daily_files=%s avg_daily_records=%s\n",
			ex, weekEnding.Format("2006-01-02"), totalFiles, totalRecords, avgDailyFiles, avgDailyRecords)
	}
	fmt.Println()
}

func containsExchange(list []domain.Exchange, e domain.Exchange) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}
