// Package benchstore persists benchmark results in a SQLite database so
// runs on the same machine stay comparable over time.
package benchstore

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quantem/dectris-go/internal/errors"
	"github.com/quantem/dectris-go/internal/logging"
	"github.com/quantem/dectris-go/internal/perf"
)

// BenchRun is one recorded benchmark result.
type BenchRun struct {
	ID        string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`

	Label string `gorm:"index"`
	UDF   string

	NavX      int
	NavY      int
	SigX      int
	SigY      int
	NumFrames int
	Workers   int

	WarmupNanos  int64
	TimedNanos   int64
	FramesPerSec float64

	Hostname  string
	CPUModel  string
	GoVersion string

	ProfilePath string
}

// Store wraps the results database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (and migrates) the results database at path. Use
// ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, storeErr(err, "open-database")
	}
	if err := db.AutoMigrate(&BenchRun{}); err != nil {
		return nil, storeErr(err, "migrate-schema")
	}

	return &Store{
		db:     db,
		logger: logging.ForService("benchstore"),
	}, nil
}

// Save records one benchmark run and returns its assigned ID.
func (s *Store) Save(run *BenchRun) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if err := s.db.Create(run).Error; err != nil {
		return "", storeErr(err, "insert-run")
	}
	s.logger.Debug("benchmark run saved", "id", run.ID, "label", run.Label)
	return run.ID, nil
}

// Recent returns the latest n runs for a label, newest first. An empty
// label matches all runs.
func (s *Store) Recent(label string, n int) ([]BenchRun, error) {
	q := s.db.Order("created_at DESC").Limit(n)
	if label != "" {
		q = q.Where("label = ?", label)
	}

	var runs []BenchRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, storeErr(err, "query-runs")
	}
	return runs, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storeErr(err, "close-database")
	}
	return sqlDB.Close()
}

// FromReport fills the system columns of a run from a profiling report.
func (run *BenchRun) FromReport(report *perf.Report) {
	run.TimedNanos = int64(time.Duration(report.Duration))
	run.Hostname = report.System.Hostname
	run.CPUModel = report.System.CPUModel
	run.GoVersion = report.System.GoVersion
	run.ProfilePath = report.ProfilePath
}

func storeErr(err error, operation string) error {
	return errors.New(err).
		Component("benchstore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}
