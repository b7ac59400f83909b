package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/meterlog/internal/infrastructure/config"
	"github.com/nerrad567/meterlog/internal/measurement"
	"github.com/nerrad567/meterlog/internal/meter"
	"github.com/nerrad567/meterlog/internal/poller"
	"github.com/nerrad567/meterlog/internal/rollup"
	"github.com/nerrad567/meterlog/internal/shard"
)

// meterView is the JSON shape of a meter in GET /meters.
type meterView struct {
	ID         string   `json:"id"`
	Address    string   `json:"address,omitempty"`
	Port       int      `json:"port,omitempty"`
	Channels   []string `json:"channels,omitempty"`
	Timezone   string   `json:"timezone"`
	Configured bool     `json:"configured"`
	Shards     []string `json:"shards"`
}

// pollResponse is the JSON shape of an on-demand poll.
type pollResponse struct {
	Device       string                    `json:"device"`
	Result       poller.Outcome            `json:"result"`
	Readings     int                       `json:"readings"`
	Stored       int                       `json:"stored"`
	Failed       int                       `json:"failed"`
	DurationMS   int64                     `json:"duration_ms"`
	Measurements []measurement.Measurement `json:"measurements"`
}

// handleListMeters lists the configured meters with the months they have
// shards for. Devices found in the work directory without configuration
// are listed too, flagged configured=false.
func (s *Server) handleListMeters(w http.ResponseWriter, _ *http.Request) {
	views := make([]meterView, 0, len(s.order))
	for _, id := range s.order {
		m := s.meters[id]
		months, err := s.store.Shards(id)
		if err != nil {
			s.logger.Error("listing shards failed", "meter", id, "error", err)
			writeInternalError(w, "failed to list shards")
			return
		}
		views = append(views, meterView{
			ID:         id,
			Address:    m.Address,
			Port:       m.Port,
			Channels:   m.Channels,
			Timezone:   s.meterZone(m).String(),
			Configured: true,
			Shards:     nonNil(months),
		})
	}

	devices, err := s.store.Devices()
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	for _, id := range devices {
		if _, ok := s.meters[id]; ok {
			continue
		}
		months, err := s.store.Shards(id)
		if err != nil {
			s.logger.Warn("listing shards failed", "meter", id, "error", err)
			continue
		}
		views = append(views, meterView{
			ID:       id,
			Timezone: s.siteZone.String(),
			Shards:   nonNil(months),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"meters": views,
		"count":  len(views),
	})
}

// handleMeasurements returns the raw readings of one meter in a range.
func (s *Server) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.lookupMeter(w, r)
	if !ok {
		return
	}

	zone, err := s.queryZone(r, m)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rng, err := parseRange(r, zone, s.clock(), defaultMeasurementRange)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	channel, err := parseChannelParam(r.URL.Query().Get("channel"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	rows, err := s.store.QueryRange(r.Context(), id, rng.From, rng.To, channel)
	if err != nil {
		s.writeQueryError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"meter":        id,
		"from":         rng.From.UTC().Format(time.RFC3339),
		"to":           rng.To.UTC().Format(time.RFC3339),
		"timezone":     zone.String(),
		"count":        len(rows),
		"measurements": rows,
	})
}

// handleRollups returns per-bucket consumption of one meter in a range.
func (s *Server) handleRollups(w http.ResponseWriter, r *http.Request) {
	id, m, ok := s.lookupMeter(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	zone, err := s.queryZone(r, m)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rng, err := parseRange(r, zone, s.clock(), defaultRollupRange)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	channel, err := parseChannelParam(q.Get("channel"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	granularity := rollup.Hourly
	if raw := q.Get("granularity"); raw != "" {
		granularity, err = rollup.ParseGranularity(raw)
		if err != nil {
			writeBadRequest(w, "granularity must be hourly, daily or monthly")
			return
		}
	}
	addFirst, err := parseBoolParam(q.Get("add_first"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	rows, err := s.store.QueryRange(r.Context(), id, rng.From, rng.To, channel)
	if err != nil {
		s.writeQueryError(w, id, err)
		return
	}

	records, err := rollup.Compute(rows, rollup.Options{
		Granularity: granularity,
		Zone:        zone,
		LocalZone:   s.siteZone,
		AddFirst:    addFirst,
	})
	if err != nil {
		s.logger.Error("computing rollup failed", "meter", id, "error", err)
		writeInternalError(w, "failed to compute rollup")
		return
	}

	resets := rollup.CounterResets(records)
	for _, rec := range resets {
		s.logger.Warn("counter reset detected",
			"meter", id,
			"channel", rec.Channel,
			"from", rec.FromUTCTime,
			"to", rec.ToUTCTime,
			"diff", rec.Diff,
		)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"meter":          id,
		"granularity":    granularity,
		"timezone":       zone.String(),
		"from":           rng.From.UTC().Format(time.RFC3339),
		"to":             rng.To.UTC().Format(time.RFC3339),
		"count":          len(records),
		"counter_resets": len(resets),
		"records":        records,
	})
}

// handlePoll runs one acquisition cycle for a meter and reports the outcome.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "polling is disabled")
		return
	}
	id := chi.URLParam(r, "id")

	res, err := s.poller.PollDevice(r.Context(), id)
	if err != nil {
		status, code := pollErrorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, pollResponse{
		Device:       res.Device,
		Result:       res.Outcome,
		Readings:     res.Readings,
		Stored:       len(res.Stored),
		Failed:       len(res.Failed),
		DurationMS:   res.Duration.Milliseconds(),
		Measurements: nonNil(res.Stored),
	})
}

// pollErrorStatus maps a failed poll to an HTTP status and error code.
// ErrProtocol is checked before ErrTimeout because a truncated response
// matches both.
func pollErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, poller.ErrUnknownDevice):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, poller.ErrPollInProgress), errors.Is(err, shard.ErrLockFailed):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, meter.ErrProtocol), errors.Is(err, meter.ErrConnectionFailed):
		return http.StatusBadGateway, ErrCodeMeterError
	case errors.Is(err, meter.ErrTimeout):
		return http.StatusGatewayTimeout, ErrCodeMeterTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// lookupMeter resolves the {id} URL parameter. Unconfigured devices that
// still have shards on disk are readable. It writes the error response
// itself and returns false when the meter cannot be served.
func (s *Server) lookupMeter(w http.ResponseWriter, r *http.Request) (string, config.MeterConfig, bool) {
	id := chi.URLParam(r, "id")
	if m, ok := s.meters[id]; ok {
		return id, m, true
	}

	months, err := s.store.Shards(id)
	if err != nil {
		if errors.Is(err, shard.ErrInvalidDevice) {
			writeBadRequest(w, "invalid meter id")
			return "", config.MeterConfig{}, false
		}
		s.logger.Error("listing shards failed", "meter", id, "error", err)
		writeInternalError(w, "failed to look up meter")
		return "", config.MeterConfig{}, false
	}
	if len(months) == 0 {
		writeNotFound(w, fmt.Sprintf("meter %q not found", id))
		return "", config.MeterConfig{}, false
	}
	return id, config.MeterConfig{ID: id}, true
}

// queryZone picks the reporting timezone: the timezone parameter, then the
// meter's own, then the site's.
func (s *Server) queryZone(r *http.Request, m config.MeterConfig) (*time.Location, error) {
	raw := r.URL.Query().Get("timezone")
	if raw == "" {
		return s.meterZone(m), nil
	}
	if len(raw) > maxQueryParamLen {
		return nil, fmt.Errorf("invalid timezone")
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", raw)
	}
	return loc, nil
}

// meterZone returns the meter's configured timezone, falling back to the
// site's. Zones are validated at config load.
func (s *Server) meterZone(m config.MeterConfig) *time.Location {
	if m.Timezone == "" {
		return s.siteZone
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		s.logger.Warn("meter timezone invalid, using site timezone", "meter", m.ID, "timezone", m.Timezone, "error", err)
		return s.siteZone
	}
	return loc
}

func (s *Server) writeQueryError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, shard.ErrInvalidDevice) {
		writeBadRequest(w, "invalid meter id")
		return
	}
	s.logger.Error("querying measurements failed", "meter", id, "error", err)
	writeInternalError(w, "failed to query measurements")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
