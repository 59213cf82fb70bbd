package remoteledger

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the best-effort Postgres mirror of the Progress Ledger (spec.md
// §4.4). It connects once at startup and, if that fails or a later write
// fails, degrades to a no-op rather than blocking or failing the caller's
// local transaction — the Analytical Store never waits on this store.
type Store struct {
	db      *gorm.DB
	log     *logrus.Logger
	enabled atomic.Bool
}

// Config mirrors the teacher's DB_HOST/DB_PORT/... environment shape
// (database/database.go), extended with the optional port the spec's
// Supabase-style remote typically exposes (6543) and an explicit SSL mode.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// Connect opens the remote connection and tunes the pool exactly as the
// teacher does for its read-heavy Postgres store (database/database.go),
// then auto-migrates the mirror tables. A connection failure is not fatal:
// the returned Store is still usable, just permanently disabled, so callers
// that want a remote ledger at all times should check Enabled() once after
// Connect and log accordingly (spec.md §4.4, Testable Property #6).
func Connect(cfg Config, log *logrus.Logger) *Store {
	s := &Store{log: log}

	if cfg.Host == "" || cfg.User == "" || cfg.Password == "" {
		log.Info("remote ledger not configured, running with analytical store only")
		return s
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.WithError(err).Warn("remote ledger connection failed, degrading to analytical-store-only")
		return s
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Warn("remote ledger handle unavailable, degrading to analytical-store-only")
		return s
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.AutoMigrate(&ProgressRecord{}, &DailyStats{}, &WeeklyStats{}); err != nil {
		log.WithError(err).Warn("remote ledger migration failed, degrading to analytical-store-only")
		return s
	}

	s.db = db
	s.enabled.Store(true)

	if err := optimizeIndexes(s); err != nil {
		log.WithError(err).Warn("remote ledger index optimization failed, continuing without it")
	}

	log.Info("remote ledger connected and migrated")
	return s
}

// Enabled reports whether the remote mirror is currently accepting writes.
func (s *Store) Enabled() bool { return s.enabled.Load() }

// disableOnError turns off future writes after an operational failure,
// logging once so repeated calls during an outage don't spam the log.
func (s *Store) disableOnError(op string, err error) {
	if s.enabled.CompareAndSwap(true, false) {
		s.log.WithError(err).Warnf("remote ledger %s failed, disabling remote mirroring for this run", op)
	}
}

// MirrorProgress upserts a progress record mirror. Failures are swallowed
// per the degrade contract; the caller's local commit already succeeded.
func (s *Store) MirrorProgress(rec ProgressRecord) {
	if !s.Enabled() {
		return
	}
	res := s.db.Where("exchange = ? AND data_date = ?", rec.Exchange, rec.DataDate).
		Assign(rec).
		FirstOrCreate(&ProgressRecord{})
	if res.Error != nil {
		s.disableOnError("progress mirror", res.Error)
	}
}

// MirrorDailyStats upserts a daily aggregate mirror.
func (s *Store) MirrorDailyStats(rec DailyStats) {
	if !s.Enabled() {
		return
	}
	res := s.db.Where("stats_date = ? AND exchange = ?", rec.StatsDate, rec.Exchange).
		Assign(rec).
		FirstOrCreate(&DailyStats{})
	if res.Error != nil {
		s.disableOnError("daily stats mirror", res.Error)
	}
}

// MirrorWeeklyStats upserts a weekly aggregate mirror.
func (s *Store) MirrorWeeklyStats(rec WeeklyStats) {
	if !s.Enabled() {
		return
	}
	res := s.db.Where("week_ending = ? AND exchange = ?", rec.WeekEnding, rec.Exchange).
		Assign(rec).
		FirstOrCreate(&WeeklyStats{})
	if res.Error != nil {
		s.disableOnError("weekly stats mirror", res.Error)
	}
}

// ReadProgress is used by the Monitoring Service when it runs on a host
// without direct access to the Analytical Store file (spec.md §4.8).
func (s *Store) ReadProgress(exchange string, limit int) ([]ProgressRecord, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("remote ledger is disabled")
	}
	var out []ProgressRecord
	q := s.db.Order("data_date DESC")
	if exchange != "" {
		q = q.Where("exchange = ?", exchange)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ReadDailyStats backs the Monitoring Service's progress-detail time series
// when it has no direct access to the Analytical Store file (spec.md §4.8).
func (s *Store) ReadDailyStats(exchange string, limit int) ([]DailyStats, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("remote ledger is disabled")
	}
	var out []DailyStats
	q := s.db.Order("stats_date DESC")
	if exchange != "" {
		q = q.Where("exchange = ?", exchange)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
