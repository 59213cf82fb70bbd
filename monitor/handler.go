// Package monitor implements the Monitoring Service (spec.md §4.8): a
// read-mostly HTTP surface over the ledger and aggregate tables, plus the
// two control endpoints that drive the Shutdown Coordinator.
package monitor

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/remoteledger"
	"github.com/viktsys/marketdata-lake/shutdown"
	"github.com/viktsys/marketdata-lake/store"
)

// Service holds the dependencies for the HTTP surface. It reads from the
// Analytical Store when this process co-locates it (i.e. it is not held
// exclusively by a running Job Runner in another process), and otherwise
// falls back to the Remote Ledger so dashboards never block ingestion.
type Service struct {
	analytical *store.Store // nil when this process does not own the DuckDB file
	remote     *remoteledger.Store
	coord      *shutdown.Coordinator
	log        *logrus.Logger
}

// New builds a monitor Service. analytical may be nil if this process is a
// standalone monitor without direct access to the running Job Runner's
// database file, in which case every read falls back to remote.
func New(analytical *store.Store, remote *remoteledger.Store, coord *shutdown.Coordinator, log *logrus.Logger) *Service {
	return &Service{analytical: analytical, remote: remote, coord: coord, log: log}
}

// Router builds the gin engine, mirroring the teacher's SetupRoutes shape
// (api/handler.go): gin.New() plus explicit Logger/Recovery middleware and
// a bare health endpoint ahead of the domain routes.
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/api/overview", s.getOverview)
	r.GET("/api/progress_detail", s.getProgressDetail)
	r.GET("/api/errors", s.getErrors)
	r.GET("/api/statistics", s.getStatistics)
	r.POST("/control/shutdown", s.postShutdown)
	r.POST("/control/resume", s.postResume)

	return r
}

func (s *Service) usingLocal() bool { return s.analytical != nil }

// runningWindow is the "started in the last 2 minutes" threshold the
// overview's is_running flag uses (spec.md:169).
const runningWindow = 2 * time.Minute

func (s *Service) getOverview(c *gin.Context) {
	ctx := c.Request.Context()
	cutoff := time.Now().Add(-runningWindow)

	if s.usingLocal() {
		rows, err := s.analytical.Query(ctx, `SELECT exchange, status, COUNT(*) FROM bronze.load_progress GROUP BY exchange, status`)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "source": "local"})
			return
		}

		byExchange := map[string]map[string]int64{}
		for rows.Next() {
			var exchange, status string
			var count int64
			if err := rows.Scan(&exchange, &status, &count); err != nil {
				rows.Close()
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "source": "local"})
				return
			}
			if byExchange[exchange] == nil {
				byExchange[exchange] = map[string]int64{}
			}
			byExchange[exchange][status] = count
		}
		rows.Close()

		var totalRecords int64
		if err := s.analytical.QueryRow(ctx, `SELECT COALESCE(SUM(records_loaded), 0) FROM bronze.load_progress`).Scan(&totalRecords); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "source": "local"})
			return
		}

		var runningCount int64
		if err := s.analytical.QueryRow(ctx, `SELECT COUNT(*) FROM bronze.load_progress WHERE status = ? AND start_time > ?`, string(domain.StatusStarted), cutoff).Scan(&runningCount); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "source": "local"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"source":             "local",
			"by_exchange":        byExchange,
			"total_records":      totalRecords,
			"is_running":         runningCount > 0,
			"shutdown_requested": s.coord != nil && s.coord.Requested(),
			"remote_enabled":     s.remote != nil && s.remote.Enabled(),
		})
		return
	}

	if s.remote == nil || !s.remote.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no local or remote ledger available"})
		return
	}
	recs, err := s.remote.ReadProgress("", 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "source": "remote"})
		return
	}
	byExchange := map[string]map[string]int64{}
	var totalRecords int64
	isRunning := false
	for _, r := range recs {
		if byExchange[r.Exchange] == nil {
			byExchange[r.Exchange] = map[string]int64{}
		}
		byExchange[r.Exchange][r.Status]++
		if r.RecordsLoaded != nil {
			totalRecords += *r.RecordsLoaded
		}
		if r.Status == string(domain.StatusStarted) && r.StartTime.After(cutoff) {
			isRunning = true
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"source":             "remote",
		"by_exchange":        byExchange,
		"total_records":      totalRecords,
		"is_running":         isRunning,
		"shutdown_requested": s.coord != nil && s.coord.Requested(),
		"remote_enabled":     true,
	})
}

// dailyStatRow mirrors one gold.daily_load_stats row for both the
// progress-detail time series and the statistics endpoint.
type dailyStatRow struct {
	StatsDate         string `json:"stats_date"`
	Exchange          string `json:"exchange"`
	TotalFiles        int    `json:"total_files"`
	SuccessfulFiles   int    `json:"successful_files"`
	FailedFiles       int    `json:"failed_files"`
	TotalRecords      int64  `json:"total_records"`
	AvgRecordsPerFile string `json:"avg_records_per_file"`
}

// weeklyStatRow mirrors one gold.weekly_load_stats row.
type weeklyStatRow struct {
	WeekEnding      string `json:"week_ending"`
	Exchange        string `json:"exchange"`
	TotalFiles      int    `json:"total_files"`
	TotalRecords    int64  `json:"total_records"`
	AvgDailyFiles   string `json:"avg_daily_files"`
	AvgDailyRecords string `json:"avg_daily_records"`
}

// getProgressDetail is a time-series materialisation of Daily Statistics,
// suitable for plotting (spec.md:170) — it reads gold.daily_load_stats, not
// the raw progress ledger.
func (s *Service) getProgressDetail(c *gin.Context) {
	ctx := c.Request.Context()
	exchange := c.Query("exchange")

	if s.usingLocal() {
		query := `SELECT stats_date, exchange, total_files, successful_files, failed_files, total_records, CAST(avg_records_per_file AS VARCHAR) FROM gold.daily_load_stats`
		args := []any{}
		if exchange != "" {
			query += ` WHERE exchange = ?`
			args = append(args, exchange)
		}
		query += ` ORDER BY stats_date DESC LIMIT 200`

		rows, err := s.analytical.Query(ctx, query, args...)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer rows.Close()

		out := []dailyStatRow{}
		for rows.Next() {
			var r dailyStatRow
			var d time.Time
			if err := rows.Scan(&d, &r.Exchange, &r.TotalFiles, &r.SuccessfulFiles, &r.FailedFiles, &r.TotalRecords, &r.AvgRecordsPerFile); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			r.StatsDate = d.Format("2006-01-02")
			out = append(out, r)
		}
		c.JSON(http.StatusOK, gin.H{"source": "local", "progress": out})
		return
	}

	if s.remote == nil || !s.remote.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no local or remote ledger available"})
		return
	}
	recs, err := s.remote.ReadDailyStats(exchange, 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": "remote", "progress": recs})
}

// errorsLimit parses the caller's n/limit query parameter, defaulting to
// the "most recent N (default 50)" of spec.md:171.
func errorsLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		raw = c.Query("n")
	}
	if raw == "" {
		return 50
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 50
	}
	return n
}

func (s *Service) getErrors(c *gin.Context) {
	ctx := c.Request.Context()
	limit := errorsLimit(c)

	if !s.usingLocal() {
		if s.remote == nil || !s.remote.Enabled() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no local or remote ledger available"})
			return
		}
		recs, err := s.remote.ReadProgress("", 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		filtered := recs[:0]
		for _, r := range recs {
			if r.Status == string(domain.StatusFailed) {
				filtered = append(filtered, r)
				if len(filtered) >= limit {
					break
				}
			}
		}
		c.JSON(http.StatusOK, gin.H{"source": "remote", "errors": filtered})
		return
	}

	query := fmt.Sprintf(`SELECT exchange, data_date, file_path, error_message FROM bronze.load_progress WHERE status = ? ORDER BY data_date DESC LIMIT %d`, limit)
	rows, err := s.analytical.Query(ctx, query, string(domain.StatusFailed))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rows.Close()

	type row struct {
		Exchange     string `json:"exchange"`
		DataDate     string `json:"data_date"`
		FilePath     string `json:"file_path"`
		ErrorMessage string `json:"error_message"`
	}
	out := []row{}
	for rows.Next() {
		var r row
		var d time.Time
		var errMsg *string
		if err := rows.Scan(&r.Exchange, &d, &r.FilePath, &errMsg); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		r.DataDate = d.Format("2006-01-02")
		if errMsg != nil {
			r.ErrorMessage = *errMsg
		}
		out = append(out, r)
	}
	c.JSON(http.StatusOK, gin.H{"source": "local", "errors": out})
}

func (s *Service) getStatistics(c *gin.Context) {
	ctx := c.Request.Context()
	if !s.usingLocal() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "statistics require access to the analytical store; remote-only statistics are not exposed here"})
		return
	}

	dailyRows, err := s.analytical.Query(ctx, `SELECT stats_date, exchange, total_files, successful_files, failed_files, total_records, CAST(avg_records_per_file AS VARCHAR) FROM gold.daily_load_stats ORDER BY stats_date DESC LIMIT 100`)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	daily := []dailyStatRow{}
	for dailyRows.Next() {
		var r dailyStatRow
		var d time.Time
		if err := dailyRows.Scan(&d, &r.Exchange, &r.TotalFiles, &r.SuccessfulFiles, &r.FailedFiles, &r.TotalRecords, &r.AvgRecordsPerFile); err != nil {
			dailyRows.Close()
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		r.StatsDate = d.Format("2006-01-02")
		daily = append(daily, r)
	}
	dailyRows.Close()

	weeklyRows, err := s.analytical.Query(ctx, `SELECT week_ending, exchange, total_files, total_records, CAST(avg_daily_files AS VARCHAR), CAST(avg_daily_records AS VARCHAR) FROM gold.weekly_load_stats ORDER BY week_ending DESC LIMIT 100`)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer weeklyRows.Close()

	weekly := []weeklyStatRow{}
	for weeklyRows.Next() {
		var r weeklyStatRow
		var d time.Time
		if err := weeklyRows.Scan(&d, &r.Exchange, &r.TotalFiles, &r.TotalRecords, &r.AvgDailyFiles, &r.AvgDailyRecords); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		r.WeekEnding = d.Format("2006-01-02")
		weekly = append(weekly, r)
	}
	c.JSON(http.StatusOK, gin.H{"daily_statistics": daily, "weekly_statistics": weekly})
}

func (s *Service) postShutdown(c *gin.Context) {
	if s.coord == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutdown coordinator not attached to this process"})
		return
	}
	if err := s.coord.CreateFlag(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("shutdown requested via monitoring API")
	c.JSON(http.StatusOK, gin.H{"status": "shutdown flag created"})
}

func (s *Service) postResume(c *gin.Context) {
	if s.coord == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutdown coordinator not attached to this process"})
		return
	}
	if err := s.coord.RemoveFlag(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("shutdown flag cleared via monitoring API")
	c.JSON(http.StatusOK, gin.H{"status": "shutdown flag removed"})
}
