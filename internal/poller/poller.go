package poller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/meterlog/internal/measurement"
	"github.com/nerrad567/meterlog/internal/meter"
	"github.com/nerrad567/meterlog/internal/shard"
)

const (
	defaultInterval    = 15 * time.Minute
	defaultConcurrency = 4
)

// Logger is the logging surface the poller needs.
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

// Reader fetches the raw "read all" response of a meter.
// Satisfied by *meter.Client.
type Reader interface {
	ReadAll(ctx context.Context, target meter.Target) (string, error)
}

// Writer persists a device's rows. Satisfied by *shard.Store.
type Writer interface {
	WriteBatch(ctx context.Context, device string, rows []measurement.Measurement) (shard.WriteResult, error)
}

// Publisher receives the rows of every successful write.
// Satisfied by *mqtt.Client and *influxdb.Client.
type Publisher interface {
	PublishReadings(ctx context.Context, device string, rows []measurement.Measurement) error
}

// Reporter is told the outcome of every poll cycle.
type Reporter interface {
	ReportPoll(ctx context.Context, res Result) error
}

// Device is one meter to poll.
type Device struct {
	ID       string
	Target   meter.Target
	Channels []string
}

// Config holds scheduling settings.
type Config struct {
	// Interval between scheduled cycles. Default: 15 minutes.
	Interval time.Duration

	// Concurrency caps devices polled at once. Default: 4.
	Concurrency int

	// RunOnStart polls every device as soon as Run starts.
	RunOnStart bool
}

// Options holds everything New needs.
type Options struct {
	Config     Config
	Devices    []Device
	Reader     Reader
	Writer     Writer
	Publishers []Publisher
	Reporters  []Reporter
	Metrics    *Metrics
	Logger     Logger

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}

// Poller runs poll cycles for a fixed set of devices.
//
// A cycle for one device is strictly sequential: read, parse, write, then
// fan out. Different devices are polled concurrently. At most one cycle per
// device runs at any time, whether started by the schedule or on demand.
type Poller struct {
	cfg        Config
	devices    map[string]Device
	order      []string
	locks      map[string]*sync.Mutex
	reader     Reader
	writer     Writer
	publishers []Publisher
	reporters  []Reporter
	metrics    *Metrics
	logger     Logger
	clock      func() time.Time
}

// New validates options and builds a Poller.
func New(opts Options) (*Poller, error) {
	if len(opts.Devices) == 0 {
		return nil, ErrNoDevices
	}
	if opts.Reader == nil || opts.Writer == nil {
		return nil, fmt.Errorf("poller: reader and writer are required")
	}

	cfg := opts.Config
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	p := &Poller{
		cfg:        cfg,
		devices:    make(map[string]Device, len(opts.Devices)),
		locks:      make(map[string]*sync.Mutex, len(opts.Devices)),
		reader:     opts.Reader,
		writer:     opts.Writer,
		publishers: opts.Publishers,
		reporters:  opts.Reporters,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		clock:      opts.Clock,
	}
	if p.logger == nil {
		p.logger = nopLogger{}
	}
	if p.clock == nil {
		p.clock = time.Now
	}

	for _, d := range opts.Devices {
		if _, dup := p.devices[d.ID]; dup {
			return nil, fmt.Errorf("poller: duplicate device %q", d.ID)
		}
		p.devices[d.ID] = d
		p.locks[d.ID] = &sync.Mutex{}
		p.order = append(p.order, d.ID)
	}
	sort.Strings(p.order)

	return p, nil
}

// Devices returns the configured devices sorted by ID.
func (p *Poller) Devices() []Device {
	out := make([]Device, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.devices[id])
	}
	return out
}

// Device looks up one configured device.
func (p *Poller) Device(id string) (Device, bool) {
	d, ok := p.devices[id]
	return d, ok
}

// Run polls every device each interval until ctx is cancelled.
//
// Returns:
//   - error: nil on cancellation; a cycle's failures never stop the loop
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		"devices", len(p.order),
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	if p.cfg.RunOnStart {
		p.PollAll(ctx)
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			p.PollAll(ctx)
		}
	}
}

// PollAll runs one cycle for every device, at most Concurrency at a time,
// and returns the results in device order. One device failing never cancels
// the others.
func (p *Poller) PollAll(ctx context.Context) []Result {
	results := make([]Result, len(p.order))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, id := range p.order {
		i, id := i, id
		g.Go(func() error {
			results[i] = p.poll(ctx, p.devices[id], false)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	p.logger.Info("poll round complete", "devices", len(results), "failed", failed)

	return results
}

// PollDevice runs one on-demand cycle for a device.
//
// Returns:
//   - Result: The cycle outcome (also reported to metrics and reporters)
//   - error: ErrUnknownDevice, ErrPollInProgress, or the cycle's Result.Err
func (p *Poller) PollDevice(ctx context.Context, id string) (Result, error) {
	d, ok := p.devices[id]
	if !ok {
		return Result{Device: id}, fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}
	res := p.poll(ctx, d, true)
	return res, res.Err
}

// poll runs one cycle under the device lock. When exclusive is false the
// scheduler waits for a running on-demand cycle; when true the caller is
// turned away instead.
func (p *Poller) poll(ctx context.Context, d Device, exclusive bool) Result {
	lock := p.locks[d.ID]
	if exclusive {
		if !lock.TryLock() {
			res := Result{Device: d.ID, Outcome: OutcomeBusy, Started: p.clock(), Err: ErrPollInProgress}
			p.finish(ctx, res)
			return res
		}
	} else {
		lock.Lock()
	}
	defer lock.Unlock()

	res := p.cycle(ctx, d)
	p.finish(ctx, res)
	return res
}

// cycle is connect → read → parse → write for one device.
func (p *Poller) cycle(ctx context.Context, d Device) Result {
	res := Result{Device: d.ID, Started: p.clock()}

	response, err := p.reader.ReadAll(ctx, d.Target)
	if err != nil {
		res.Err = err
		res.Outcome = outcomeOf(err)
		res.Duration = since(res.Started, p.clock())
		return res
	}

	readings := meter.Parse(response, d.Channels)
	res.Readings = len(readings)
	if len(readings) == 0 {
		res.Outcome = OutcomeEmpty
		res.Duration = since(res.Started, p.clock())
		return res
	}

	rows := meter.Rows(readings, p.clock())
	written, err := p.writer.WriteBatch(ctx, d.ID, rows)
	res.Stored = written.Stored
	res.Failed = written.Failed
	res.Duration = since(res.Started, p.clock())

	switch {
	case err != nil:
		res.Err = err
		res.Outcome = outcomeOf(err)
	case len(written.Failed) > 0:
		res.Outcome = OutcomePartial
	default:
		res.Outcome = OutcomeOK
	}
	return res
}

// finish records metrics, logs, and fans the result out.
func (p *Poller) finish(ctx context.Context, res Result) {
	p.metrics.observe(res)

	attrs := []any{
		"device", res.Device,
		"result", res.Outcome,
		"readings", res.Readings,
		"stored", len(res.Stored),
		"duration", res.Duration,
	}
	switch {
	case res.Err != nil:
		p.logger.Error("poll failed", append(attrs, "error", res.Err, "retryable", Retryable(res.Err))...)
	case res.Outcome == OutcomePartial:
		for _, f := range res.Failed {
			p.logger.Warn("measurement insert failed", "device", res.Device, "channel", f.Row.Channel, "error", f.Err)
		}
		p.logger.Warn("poll partially stored", append(attrs, "failed", len(res.Failed))...)
	case res.Outcome == OutcomeEmpty:
		p.logger.Warn("meter returned no allowed channels", attrs...)
	default:
		p.logger.Info("poll complete", attrs...)
	}

	if len(res.Stored) > 0 {
		for _, pub := range p.publishers {
			if err := pub.PublishReadings(ctx, res.Device, res.Stored); err != nil {
				p.logger.Warn("publishing readings failed", "device", res.Device, "error", err)
			}
		}
	}
	for _, r := range p.reporters {
		if err := r.ReportPoll(ctx, res); err != nil {
			p.logger.Warn("reporting poll result failed", "device", res.Device, "error", err)
		}
	}
}
