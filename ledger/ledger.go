// Package ledger implements the Progress Ledger (spec.md §4.3): the sole
// writer of progress records and the daily/weekly aggregate tables, backed
// by the Analytical Store and mirrored, best-effort, to the Remote Ledger.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/remoteledger"
	"github.com/viktsys/marketdata-lake/store"
)

// ClaimOutcome is the result of a claim call.
type ClaimOutcome int

const (
	Proceed ClaimOutcome = iota
	AlreadyDone
	Conflict
)

// Ledger wraps the Analytical Store and the (possibly disabled) Remote
// Ledger, exposing the claim/complete/fail/skip state machine.
type Ledger struct {
	analytical   *store.Store
	remote       *remoteledger.Store
	staleAfter   time.Duration
}

// New builds a Ledger. staleAfter is the threshold beyond which a
// `started` record is considered abandoned rather than actively held
// (spec.md §4.3, default 2h per SPEC_FULL.md config).
func New(analytical *store.Store, remote *remoteledger.Store, staleAfter time.Duration) *Ledger {
	return &Ledger{analytical: analytical, remote: remote, staleAfter: staleAfter}
}

// Claim implements the first half of the state machine in spec.md §4.3. It
// runs as separate autocommit statements (a read, then an insert or update),
// before and outside the caller's bulk-load transaction, since a claim must
// be durable before any data is streamed.
func (l *Ledger) Claim(ctx context.Context, exchange domain.Exchange, date time.Time, filePath string, size int64, idempotent bool) (ClaimOutcome, error) {
	var status string
	var startTime time.Time
	row := l.analytical.QueryRow(ctx, `SELECT status, start_time FROM bronze.load_progress WHERE exchange = ? AND data_date = ?`, string(exchange), date)
	err := row.Scan(&status, &startTime)

	now := time.Now().UTC()

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := l.analytical.Exec(ctx, `INSERT INTO bronze.load_progress (exchange, data_date, file_path, file_size_bytes, start_time, status) VALUES (?, ?, ?, ?, ?, ?)`,
			string(exchange), date, filePath, size, now, string(domain.StatusStarted)); err != nil {
			return Conflict, fmt.Errorf("failed to insert progress record: %w", err)
		}
		l.mirrorProgress(exchange, date, filePath, &size, now, nil, domain.StatusStarted, nil, nil)
		return Proceed, nil

	case err != nil:
		return Conflict, fmt.Errorf("failed to read progress record: %w", err)

	case status == string(domain.StatusCompleted):
		return AlreadyDone, nil

	case status == string(domain.StatusStarted) && now.Sub(startTime) < l.staleAfter:
		return Conflict, nil

	case status == string(domain.StatusStarted), status == string(domain.StatusFailed), status == string(domain.StatusSkipped):
		if !idempotent && status != string(domain.StatusStarted) {
			return Conflict, nil
		}
		if _, err := l.analytical.Exec(ctx, `UPDATE bronze.load_progress SET file_path = ?, file_size_bytes = ?, start_time = ?, status = ?, end_time = NULL, records_loaded = NULL, error_message = NULL WHERE exchange = ? AND data_date = ?`,
			filePath, size, now, string(domain.StatusStarted), string(exchange), date); err != nil {
			return Conflict, fmt.Errorf("failed to reclaim progress record: %w", err)
		}
		l.mirrorProgress(exchange, date, filePath, &size, now, nil, domain.StatusStarted, nil, nil)
		return Proceed, nil

	default:
		return Conflict, fmt.Errorf("unexpected progress status %q", status)
	}
}

// Complete transitions a claimed job to completed and refreshes aggregates.
func (l *Ledger) Complete(ctx context.Context, exchange domain.Exchange, date time.Time, recordsLoaded int64) error {
	end := time.Now().UTC()
	if _, err := l.analytical.Exec(ctx, `UPDATE bronze.load_progress SET status = ?, end_time = ?, records_loaded = ? WHERE exchange = ? AND data_date = ?`,
		string(domain.StatusCompleted), end, recordsLoaded, string(exchange), date); err != nil {
		return fmt.Errorf("failed to mark progress completed: %w", err)
	}
	l.mirrorProgress(exchange, date, "", nil, time.Time{}, &end, domain.StatusCompleted, &recordsLoaded, nil)
	return l.RefreshAggregates(ctx, exchange, date)
}

// Fail transitions a claimed job to failed and refreshes aggregates.
func (l *Ledger) Fail(ctx context.Context, exchange domain.Exchange, date time.Time, errMsg string) error {
	end := time.Now().UTC()
	if _, err := l.analytical.Exec(ctx, `UPDATE bronze.load_progress SET status = ?, end_time = ?, error_message = ? WHERE exchange = ? AND data_date = ?`,
		string(domain.StatusFailed), end, errMsg, string(exchange), date); err != nil {
		return fmt.Errorf("failed to mark progress failed: %w", err)
	}
	l.mirrorProgress(exchange, date, "", nil, time.Time{}, &end, domain.StatusFailed, nil, &errMsg)
	return l.RefreshAggregates(ctx, exchange, date)
}

// Skip transitions a claimed (or never-claimed) job to skipped and
// refreshes aggregates. reason is recorded as the error_message so
// operators can distinguish a skip's cause in the same column used for
// failures; it is not an error.
func (l *Ledger) Skip(ctx context.Context, exchange domain.Exchange, date time.Time, reason string) error {
	end := time.Now().UTC()
	res, err := l.analytical.Exec(ctx, `UPDATE bronze.load_progress SET status = ?, end_time = ?, error_message = ? WHERE exchange = ? AND data_date = ?`,
		string(domain.StatusSkipped), end, reason, string(exchange), date)
	if err != nil {
		return fmt.Errorf("failed to mark progress skipped: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := l.analytical.Exec(ctx, `INSERT INTO bronze.load_progress (exchange, data_date, file_path, start_time, end_time, status, error_message) VALUES (?, ?, '', ?, ?, ?, ?)`,
			string(exchange), date, end, end, string(domain.StatusSkipped), reason); err != nil {
			return fmt.Errorf("failed to insert skipped progress record: %w", err)
		}
	}
	l.mirrorProgress(exchange, date, "", nil, time.Time{}, &end, domain.StatusSkipped, nil, &reason)
	return l.RefreshAggregates(ctx, exchange, date)
}

func (l *Ledger) mirrorProgress(exchange domain.Exchange, date time.Time, filePath string, size *int64, start time.Time, end *time.Time, status domain.Status, records *int64, errMsg *string) {
	if l.remote == nil || !l.remote.Enabled() {
		return
	}
	rec := remoteledger.ProgressRecord{
		Exchange:      string(exchange),
		DataDate:      date,
		FilePath:      filePath,
		FileSizeBytes: size,
		StartTime:     start,
		EndTime:       end,
		Status:        string(status),
		RecordsLoaded: records,
		ErrorMessage:  errMsg,
	}
	l.remote.MirrorProgress(rec)
}

// RefreshAggregates recomputes the daily row for (date, exchange) and the
// weekly row covering it, per spec.md §4.3.
func (l *Ledger) RefreshAggregates(ctx context.Context, exchange domain.Exchange, date time.Time) error {
	daily, err := l.refreshDaily(ctx, exchange, date)
	if err != nil {
		return err
	}
	weekEnding := WeekEndingFor(date)
	return l.refreshWeekly(ctx, exchange, weekEnding, daily)
}

func WeekEndingFor(d time.Time) time.Time {
	// Most recent Sunday (inclusive) on or before d. time.Sunday == 0.
	offset := int(d.Weekday())
	return d.AddDate(0, 0, -offset)
}

type dailyRow struct {
	StatsDate                  time.Time
	Exchange                   string
	TotalFiles                 int64
	SuccessfulFiles            int64
	FailedFiles                int64
	TotalRecords               int64
	AvgRecordsPerFile          decimal.Decimal
	TotalProcessingTimeSeconds decimal.Decimal
	TotalFileSizeBytes         int64
	AvgFileSizeBytes           decimal.Decimal
}

func (l *Ledger) refreshDaily(ctx context.Context, exchange domain.Exchange, date time.Time) (dailyRow, error) {
	rows, err := l.analytical.Query(ctx, `SELECT status, records_loaded, file_size_bytes, start_time, end_time FROM bronze.load_progress WHERE exchange = ? AND data_date = ?`,
		string(exchange), date)
	if err != nil {
		return dailyRow{}, fmt.Errorf("failed to scan progress records for daily aggregate: %w", err)
	}
	defer rows.Close()

	var totalFiles, successfulFiles, failedFiles int64
	var totalRecords, totalSizeBytes int64
	totalProcSeconds := decimal.Zero

	for rows.Next() {
		var status string
		var records, sizeBytes sql.NullInt64
		var start, end sql.NullTime
		if err := rows.Scan(&status, &records, &sizeBytes, &start, &end); err != nil {
			return dailyRow{}, fmt.Errorf("failed to scan progress row: %w", err)
		}
		totalFiles++
		switch status {
		case string(domain.StatusCompleted):
			successfulFiles++
			if records.Valid {
				totalRecords += records.Int64
			}
			if sizeBytes.Valid {
				totalSizeBytes += sizeBytes.Int64
			}
			if start.Valid && end.Valid {
				totalProcSeconds = totalProcSeconds.Add(decimal.NewFromFloat(end.Time.Sub(start.Time).Seconds()))
			}
		case string(domain.StatusFailed):
			failedFiles++
		}
	}
	if err := rows.Err(); err != nil {
		return dailyRow{}, err
	}

	denom := successfulFiles
	if denom < 1 {
		denom = 1
	}
	avgRecords := decimal.NewFromInt(totalRecords).DivRound(decimal.NewFromInt(denom), 2)
	avgFileSize := decimal.NewFromInt(totalSizeBytes).DivRound(decimal.NewFromInt(denom), 2)

	d := dailyRow{
		StatsDate:                  date,
		Exchange:                   string(exchange),
		TotalFiles:                 totalFiles,
		SuccessfulFiles:            successfulFiles,
		FailedFiles:                failedFiles,
		TotalRecords:               totalRecords,
		AvgRecordsPerFile:          avgRecords,
		TotalProcessingTimeSeconds: totalProcSeconds,
		TotalFileSizeBytes:         totalSizeBytes,
		AvgFileSizeBytes:           avgFileSize,
	}

	if _, err := l.analytical.Exec(ctx, `
		INSERT INTO gold.daily_load_stats (stats_date, exchange, total_files, successful_files, failed_files, total_records, avg_records_per_file, total_processing_time_seconds, total_file_size_bytes, avg_file_size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stats_date, exchange) DO UPDATE SET
			total_files = excluded.total_files,
			successful_files = excluded.successful_files,
			failed_files = excluded.failed_files,
			total_records = excluded.total_records,
			avg_records_per_file = excluded.avg_records_per_file,
			total_processing_time_seconds = excluded.total_processing_time_seconds,
			total_file_size_bytes = excluded.total_file_size_bytes,
			avg_file_size_bytes = excluded.avg_file_size_bytes
	`, d.StatsDate, d.Exchange, d.TotalFiles, d.SuccessfulFiles, d.FailedFiles, d.TotalRecords,
		d.AvgRecordsPerFile.StringFixed(2), d.TotalProcessingTimeSeconds.StringFixed(2), d.TotalFileSizeBytes, d.AvgFileSizeBytes.StringFixed(2)); err != nil {
		return dailyRow{}, fmt.Errorf("failed to upsert daily stats: %w", err)
	}

	if l.remote != nil && l.remote.Enabled() {
		l.remote.MirrorDailyStats(remoteledger.DailyStats{
			StatsDate: d.StatsDate, Exchange: d.Exchange,
			TotalFiles: int(d.TotalFiles), SuccessfulFiles: int(d.SuccessfulFiles), FailedFiles: int(d.FailedFiles),
			TotalRecords: d.TotalRecords, AvgRecordsPerFile: d.AvgRecordsPerFile,
			TotalProcessingTimeSeconds: d.TotalProcessingTimeSeconds, TotalFileSizeBytes: d.TotalFileSizeBytes,
			AvgFileSizeBytes: d.AvgFileSizeBytes,
		})
	}

	return d, nil
}

func (l *Ledger) refreshWeekly(ctx context.Context, exchange domain.Exchange, weekEnding time.Time, _ dailyRow) error {
	weekStart := weekEnding.AddDate(0, 0, -6)

	rows, err := l.analytical.Query(ctx, `SELECT total_files, total_records, CAST(avg_records_per_file AS VARCHAR), CAST(total_processing_time_seconds AS VARCHAR) FROM gold.daily_load_stats WHERE exchange = ? AND stats_date BETWEEN ? AND ? AND successful_files > 0`,
		string(exchange), weekStart, weekEnding)
	if err != nil {
		return fmt.Errorf("failed to scan daily stats for weekly aggregate: %w", err)
	}
	defer rows.Close()

	var days int64
	var totalFiles, totalRecords int64
	totalProcSeconds := decimal.Zero

	for rows.Next() {
		var files int64
		var records int64
		var avgRecords, procSeconds string
		if err := rows.Scan(&files, &records, &avgRecords, &procSeconds); err != nil {
			return fmt.Errorf("failed to scan daily stats row: %w", err)
		}
		days++
		totalFiles += files
		totalRecords += records
		if d, err := decimal.NewFromString(procSeconds); err == nil {
			totalProcSeconds = totalProcSeconds.Add(d)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	denom := days
	if denom < 1 {
		denom = 1
	}
	avgDailyFiles := decimal.NewFromInt(totalFiles).DivRound(decimal.NewFromInt(denom), 2)
	avgDailyRecords := decimal.NewFromInt(totalRecords).DivRound(decimal.NewFromInt(denom), 2)
	avgProcSeconds := totalProcSeconds.DivRound(decimal.NewFromInt(denom), 2)

	if _, err := l.analytical.Exec(ctx, `
		INSERT INTO gold.weekly_load_stats (week_ending, exchange, avg_daily_files, avg_daily_records, total_files, total_records, avg_processing_time_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (week_ending, exchange) DO UPDATE SET
			avg_daily_files = excluded.avg_daily_files,
			avg_daily_records = excluded.avg_daily_records,
			total_files = excluded.total_files,
			total_records = excluded.total_records,
			avg_processing_time_seconds = excluded.avg_processing_time_seconds
	`, weekEnding, string(exchange), avgDailyFiles.StringFixed(2), avgDailyRecords.StringFixed(2), totalFiles, totalRecords, avgProcSeconds.StringFixed(2)); err != nil {
		return fmt.Errorf("failed to upsert weekly stats: %w", err)
	}

	if l.remote != nil && l.remote.Enabled() {
		l.remote.MirrorWeeklyStats(remoteledger.WeeklyStats{
			WeekEnding: weekEnding, Exchange: string(exchange),
			AvgDailyFiles: avgDailyFiles, AvgDailyRecords: avgDailyRecords,
			TotalFiles: int(totalFiles), TotalRecords: totalRecords, AvgProcessingTimeSeconds: avgProcSeconds,
		})
	}

	return nil
}
