package shard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nerrad567/meterlog/internal/infrastructure/database"
	"github.com/nerrad567/meterlog/internal/measurement"
)

const insertMeasurementSQL = `INSERT INTO Measurements (channel, measured_value, recorded_time) VALUES (?, ?, ?)`

// Shard is an open handle on one device-month file.
// Callers must Close it; a Shard is not safe for concurrent use.
type Shard struct {
	db        *database.DB
	device    string
	yearMonth string
	logger    Logger
}

// RowError describes one row of a batch that was not written.
// It matches ErrInsertFailed with errors.Is.
type RowError struct {
	Index int
	Row   measurement.Measurement
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%v: row %d (channel %d): %v", ErrInsertFailed, e.Index, e.Row.Channel, e.Err)
}

func (e *RowError) Unwrap() []error {
	return []error{ErrInsertFailed, e.Err}
}

// WriteResult reports what a batch write stored.
type WriteResult struct {
	// Stored holds the inserted rows with their assigned IDs.
	Stored []measurement.Measurement

	// Failed holds rows skipped because their insert failed.
	Failed []*RowError
}

// Inserted returns the number of rows written.
func (r WriteResult) Inserted() int {
	return len(r.Stored)
}

// Err joins the row failures, or returns nil if every row was written.
func (r WriteResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (r *WriteResult) merge(other WriteResult) {
	r.Stored = append(r.Stored, other.Stored...)
	r.Failed = append(r.Failed, other.Failed...)
}

// Device returns the device identifier of the shard.
func (s *Shard) Device() string { return s.device }

// YearMonth returns the shard's month key.
func (s *Shard) YearMonth() string { return s.yearMonth }

// Path returns the shard's file path.
func (s *Shard) Path() string { return s.db.Path() }

// Close releases the shard's database handle.
func (s *Shard) Close() error {
	return s.db.Close()
}

// WriteBatch appends rows inside one exclusive transaction.
//
// The exclusive lock is taken before the first insert and held until commit,
// so concurrent writers to the same shard never interleave. A row that fails
// validation or insertion is logged and reported in WriteResult.Failed while
// the remaining rows are still committed.
//
// Returns:
//   - WriteResult: Stored rows and per-row failures
//   - error: ErrLockFailed, ErrCommitFailed, or a wrapped database error
func (s *Shard) WriteBatch(ctx context.Context, rows []measurement.Measurement) (WriteResult, error) {
	var result WriteResult
	if len(rows) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if database.IsLockError(err) {
			return result, fmt.Errorf("%w: %s: %w", ErrLockFailed, s.Path(), err)
		}
		return result, fmt.Errorf("shard: beginning write on %s: %w", s.Path(), err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback() //nolint:errcheck // Rollback after a failed commit or prepare
		}
	}()

	stmt, err := tx.PrepareContext(ctx, insertMeasurementSQL)
	if err != nil {
		return result, fmt.Errorf("shard: preparing insert on %s: %w", s.Path(), err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if err := validateRow(row); err != nil {
			result.Failed = append(result.Failed, s.rowFailed(i, row, err))
			continue
		}

		res, err := stmt.ExecContext(ctx, row.Channel, row.MeasuredValue, row.RecordedTime)
		if err != nil {
			result.Failed = append(result.Failed, s.rowFailed(i, row, err))
			continue
		}
		if id, err := res.LastInsertId(); err == nil {
			row.ID = id
		}
		result.Stored = append(result.Stored, row)
	}

	if err := tx.Commit(); err != nil {
		return WriteResult{Failed: result.Failed}, fmt.Errorf("%w: %s: %w", ErrCommitFailed, s.Path(), err)
	}
	committed = true

	return result, nil
}

func (s *Shard) rowFailed(index int, row measurement.Measurement, err error) *RowError {
	rowErr := &RowError{Index: index, Row: row, Err: err}
	s.logger.Warn("measurement insert failed",
		"device", s.device,
		"shard", s.yearMonth,
		"channel", row.Channel,
		"recorded_time", row.RecordedTime,
		"error", err,
	)
	return rowErr
}

func validateRow(row measurement.Measurement) error {
	if row.Channel <= 0 {
		return fmt.Errorf("channel %d is not positive", row.Channel)
	}
	if math.IsNaN(row.MeasuredValue) || math.IsInf(row.MeasuredValue, 0) {
		return fmt.Errorf("measured value %v is not finite", row.MeasuredValue)
	}
	return nil
}

// Query returns the shard's rows with recorded_time in [from, to], ordered
// by recorded_time then channel. A nil channel returns every channel.
func (s *Shard) Query(ctx context.Context, from, to int64, channel *int) ([]measurement.Measurement, error) {
	var (
		query strings.Builder
		args  = []any{from, to}
	)
	query.WriteString(`SELECT id, channel, measured_value, recorded_time
		FROM Measurements
		WHERE recorded_time BETWEEN ? AND ?`)
	if channel != nil {
		query.WriteString(` AND channel = ?`)
		args = append(args, *channel)
	}
	query.WriteString(` ORDER BY recorded_time, channel`)

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.Path(), err)
	}
	defer rows.Close()

	var out []measurement.Measurement
	for rows.Next() {
		var m measurement.Measurement
		if err := rows.Scan(&m.ID, &m.Channel, &m.MeasuredValue, &m.RecordedTime); err != nil {
			return nil, fmt.Errorf("scanning measurement: %w", err)
		}
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating measurements: %w", err)
	}

	return out, nil
}
