// Package remoteledger is the best-effort mirror of the Progress Ledger
// and its aggregates into a Postgres/Supabase database, generalizing the
// teacher's own gorm+Postgres connection setup (database/database.go) from
// a primary-store role into a dual-writer's mirror role (SPEC_FULL.md
// §4.4). Every write here is advisory: the Analytical Store remains
// authoritative (spec.md §4.4).
package remoteledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProgressRecord mirrors bronze.load_progress (spec.md §3).
type ProgressRecord struct {
	ID             uint       `gorm:"primaryKey"`
	Exchange       string     `gorm:"size:8;uniqueIndex:uidx_remote_progress_key;not null"`
	DataDate       time.Time  `gorm:"type:date;uniqueIndex:uidx_remote_progress_key;not null"`
	FilePath       string     `gorm:"not null"`
	FileSizeBytes  *int64     ``
	StartTime      time.Time  `gorm:"not null"`
	EndTime        *time.Time ``
	Status         string     `gorm:"size:16;not null"`
	RecordsLoaded  *int64     ``
	ErrorMessage   *string    `gorm:"type:text"`
	CreatedAt      time.Time
}

func (ProgressRecord) TableName() string { return "load_progress" }

// DailyStats mirrors gold.daily_load_stats (spec.md §3).
type DailyStats struct {
	ID                          uint            `gorm:"primaryKey"`
	StatsDate                   time.Time       `gorm:"type:date;uniqueIndex:uidx_remote_daily_key;not null"`
	Exchange                    string          `gorm:"size:8;uniqueIndex:uidx_remote_daily_key;not null"`
	TotalFiles                  int             `gorm:"default:0"`
	SuccessfulFiles             int             `gorm:"default:0"`
	FailedFiles                 int             `gorm:"default:0"`
	TotalRecords                int64           `gorm:"default:0"`
	AvgRecordsPerFile           decimal.Decimal `gorm:"type:numeric(24,2)"`
	TotalProcessingTimeSeconds  decimal.Decimal `gorm:"type:numeric(18,2)"`
	TotalFileSizeBytes          int64           `gorm:"default:0"`
	AvgFileSizeBytes            decimal.Decimal `gorm:"type:numeric(24,2)"`
	CreatedAt                   time.Time
}

func (DailyStats) TableName() string { return "daily_load_stats" }

// WeeklyStats mirrors gold.weekly_load_stats (spec.md §3).
type WeeklyStats struct {
	ID                        uint            `gorm:"primaryKey"`
	WeekEnding                time.Time       `gorm:"type:date;uniqueIndex:uidx_remote_weekly_key;not null"`
	Exchange                  string          `gorm:"size:8;uniqueIndex:uidx_remote_weekly_key;not null"`
	AvgDailyFiles             decimal.Decimal `gorm:"type:numeric(18,2)"`
	AvgDailyRecords           decimal.Decimal `gorm:"type:numeric(24,2)"`
	TotalFiles                int             `gorm:"default:0"`
	TotalRecords              int64           `gorm:"default:0"`
	AvgProcessingTimeSeconds  decimal.Decimal `gorm:"type:numeric(18,2)"`
	CreatedAt                 time.Time
}

func (WeeklyStats) TableName() string { return "weekly_load_stats" }
