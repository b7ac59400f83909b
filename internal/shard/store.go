package shard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/meterlog/internal/infrastructure/database"
	"github.com/nerrad567/meterlog/internal/measurement"
	"github.com/nerrad567/meterlog/migrations"
)

const (
	// shardSuffix follows the year-month in every shard file name.
	shardSuffix = "-monthly.sqlite"

	// workDirPermissions is the permission mode for the store directories.
	workDirPermissions = 0750

	defaultBusyTimeout = 5 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Config contains shard store settings.
type Config struct {
	// WorkDir holds one directory per device.
	WorkDir string

	// BusyTimeout bounds the wait for a shard's exclusive write lock.
	// Default: 5 seconds.
	BusyTimeout time.Duration

	// Location decides which calendar month a timestamp belongs to.
	// Default: UTC.
	Location *time.Location
}

// Store manages the per-device, per-month shard files under a work directory.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Writers to the same shard are
//     serialised by SQLite's exclusive lock, not by the Store.
type Store struct {
	cfg Config

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Store rooted at cfg.WorkDir, creating the directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("shard: work dir is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if err := os.MkdirAll(cfg.WorkDir, workDirPermissions); err != nil {
		return nil, fmt.Errorf("shard: creating work dir: %w", err)
	}

	return &Store{cfg: cfg, logger: nopLogger{}}, nil
}

// SetLogger sets the logger for the store and the shards it opens.
func (s *Store) SetLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

func (s *Store) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Location returns the timezone that assigns timestamps to months.
func (s *Store) Location() *time.Location {
	return s.cfg.Location
}

// Path returns the file path of a device-month shard:
// <workdir>/<device>/<YYYY-MM>-monthly.sqlite
func (s *Store) Path(device, yearMonth string) string {
	return filepath.Join(s.cfg.WorkDir, device, yearMonth+shardSuffix)
}

// OpenOrCreate opens a shard for writing, creating its directory, file and
// schema when they do not exist yet.
func (s *Store) OpenOrCreate(ctx context.Context, device, yearMonth string) (*Shard, error) {
	return s.open(ctx, device, yearMonth, true)
}

// Open opens an existing shard. It fails with ErrShardMissing if the file
// is absent and never creates anything.
func (s *Store) Open(ctx context.Context, device, yearMonth string) (*Shard, error) {
	return s.open(ctx, device, yearMonth, false)
}

func (s *Store) open(ctx context.Context, device, yearMonth string, create bool) (*Shard, error) {
	if err := validateDevice(device); err != nil {
		return nil, err
	}
	if _, err := time.Parse(measurement.YearMonthLayout, yearMonth); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidYearMonth, yearMonth)
	}

	db, err := database.Open(ctx, database.Config{
		Path:        s.Path(device, yearMonth),
		Create:      create,
		ExclusiveTx: true,
		BusyTimeout: s.cfg.BusyTimeout,
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrShardMissing, device, yearMonth)
		}
		if database.IsLockError(err) {
			return nil, fmt.Errorf("%w: %s %s: %w", ErrLockFailed, device, yearMonth, err)
		}
		return nil, fmt.Errorf("shard: opening %s %s: %w", device, yearMonth, err)
	}

	if create {
		if err := db.ApplySchema(ctx, migrations.MeasurementsSchema); err != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			if database.IsLockError(err) {
				return nil, fmt.Errorf("%w: %s %s: %w", ErrLockFailed, device, yearMonth, err)
			}
			return nil, fmt.Errorf("shard: preparing %s %s: %w", device, yearMonth, err)
		}
	}

	return &Shard{
		db:        db,
		device:    device,
		yearMonth: yearMonth,
		logger:    s.getLogger(),
	}, nil
}

// WriteBatch stores rows for a device, routing each row to the shard of the
// month its recorded_time falls in. Each shard is opened, written in one
// exclusive transaction and closed before the next.
//
// On ErrLockFailed or a commit failure the rows already stored in earlier
// shards are still reported in the returned WriteResult.
func (s *Store) WriteBatch(ctx context.Context, device string, rows []measurement.Measurement) (WriteResult, error) {
	var total WriteResult

	months, groups := s.groupByMonth(rows)
	for _, ym := range months {
		result, err := s.writeShard(ctx, device, ym, groups[ym])
		total.merge(result)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func (s *Store) writeShard(ctx context.Context, device, yearMonth string, rows []measurement.Measurement) (WriteResult, error) {
	sh, err := s.OpenOrCreate(ctx, device, yearMonth)
	if err != nil {
		return WriteResult{}, err
	}
	defer func() {
		if err := sh.Close(); err != nil {
			s.getLogger().Warn("closing shard failed", "device", device, "shard", yearMonth, "error", err)
		}
	}()

	return sh.WriteBatch(ctx, rows)
}

// groupByMonth buckets rows by shard key, returning the keys in ascending order.
func (s *Store) groupByMonth(rows []measurement.Measurement) ([]string, map[string][]measurement.Measurement) {
	groups := make(map[string][]measurement.Measurement)
	var months []string
	for _, row := range rows {
		ym := measurement.YearMonth(row.Time(), s.cfg.Location)
		if _, ok := groups[ym]; !ok {
			months = append(months, ym)
		}
		groups[ym] = append(groups[ym], row)
	}
	sort.Strings(months)
	return months, groups
}

// QueryRange returns a device's measurements with recorded_time in
// [from, to], across every monthly shard the range touches.
//
// Months are visited in ascending order starting from the month containing
// from. Months with no shard are skipped. Each shard is closed as soon as it
// has been read. An inverted range yields an empty result. A nil channel
// returns every channel.
func (s *Store) QueryRange(ctx context.Context, device string, from, to time.Time, channel *int) ([]measurement.Measurement, error) {
	if err := validateDevice(device); err != nil {
		return nil, err
	}

	out := []measurement.Measurement{}
	if to.Before(from) {
		return out, nil
	}

	for _, ym := range MonthsBetween(from, to, s.cfg.Location) {
		rows, err := s.queryShard(ctx, device, ym, from.Unix(), to.Unix(), channel)
		if err != nil {
			if errors.Is(err, ErrShardMissing) {
				s.getLogger().Debug("shard missing, skipping", "device", device, "shard", ym)
				continue
			}
			return nil, err
		}
		out = append(out, rows...)
	}

	return out, nil
}

func (s *Store) queryShard(ctx context.Context, device, yearMonth string, from, to int64, channel *int) ([]measurement.Measurement, error) {
	sh, err := s.Open(ctx, device, yearMonth)
	if err != nil {
		return nil, err
	}
	defer sh.Close() //nolint:errcheck // Read-only handle

	return sh.Query(ctx, from, to, channel)
}

// MonthsBetween lists the YYYY-MM keys of every calendar month in loc that
// overlaps [from, to], in ascending order.
func MonthsBetween(from, to time.Time, loc *time.Location) []string {
	if to.Before(from) {
		return nil
	}
	from, to = from.In(loc), to.In(loc)

	var months []string
	for m := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, loc); !m.After(to); m = m.AddDate(0, 1, 0) {
		months = append(months, m.Format(measurement.YearMonthLayout))
	}
	return months
}

// Devices lists the device directories present under the work directory.
func (s *Store) Devices() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("shard: listing devices: %w", err)
	}

	var devices []string
	for _, e := range entries {
		if e.IsDir() {
			devices = append(devices, e.Name())
		}
	}
	return devices, nil
}

// Shards lists the year-months a device has shard files for, ascending.
// A device with no directory has no shards.
func (s *Store) Shards(device string) ([]string, error) {
	if err := validateDevice(device); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.cfg.WorkDir, device))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("shard: listing shards for %s: %w", device, err)
	}

	var months []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, shardSuffix) {
			continue
		}
		ym := strings.TrimSuffix(name, shardSuffix)
		if _, err := time.Parse(measurement.YearMonthLayout, ym); err != nil {
			continue
		}
		months = append(months, ym)
	}
	sort.Strings(months)
	return months, nil
}

func validateDevice(device string) error {
	if device == "" || device == "." || device == ".." || strings.ContainsAny(device, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidDevice, device)
	}
	return nil
}
