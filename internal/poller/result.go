package poller

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/meterlog/internal/measurement"
	"github.com/nerrad567/meterlog/internal/meter"
	"github.com/nerrad567/meterlog/internal/shard"
)

// Outcome classifies the result of one poll cycle. It is used as the
// result label of meterlog_polls_total.
type Outcome string

// Poll outcomes.
const (
	OutcomeOK              Outcome = "ok"
	OutcomePartial         Outcome = "partial"
	OutcomeEmpty           Outcome = "empty"
	OutcomeConnectionError Outcome = "connection_error"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeProtocolError   Outcome = "protocol_error"
	OutcomeLockFailed      Outcome = "lock_failed"
	OutcomeWriteError      Outcome = "write_error"
	OutcomeBusy            Outcome = "busy"
	OutcomeCancelled       Outcome = "cancelled"
)

// Result describes one poll cycle of one device.
type Result struct {
	Device   string
	Outcome  Outcome
	Readings int

	// Stored holds the rows committed to the shard, with their IDs.
	Stored []measurement.Measurement

	// Failed holds rows whose insert failed while the rest committed.
	Failed []*shard.RowError

	Started  time.Time
	Duration time.Duration

	// Err is set for every outcome except ok, partial and empty.
	Err error
}

// Retryable reports whether err is a transient failure worth retrying on
// the next cycle: an unreachable or slow meter, a truncated response, a
// locked shard or an overlapping poll.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, meter.ErrConnectionFailed),
		errors.Is(err, meter.ErrTimeout),
		errors.Is(err, meter.ErrProtocol),
		errors.Is(err, shard.ErrLockFailed),
		errors.Is(err, ErrPollInProgress):
		return true
	}
	return false
}

// outcomeOf maps a cycle error to its Outcome.
//
// ErrProtocol is checked before ErrTimeout because a stalled response
// matches both.
func outcomeOf(err error) Outcome {
	switch {
	case errors.Is(err, meter.ErrProtocol):
		return OutcomeProtocolError
	case errors.Is(err, meter.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, meter.ErrConnectionFailed):
		return OutcomeConnectionError
	case errors.Is(err, shard.ErrLockFailed):
		return OutcomeLockFailed
	case errors.Is(err, ErrPollInProgress):
		return OutcomeBusy
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	}
	return OutcomeWriteError
}
