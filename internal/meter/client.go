package meter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Protocol constants.
const (
	// readAllCommand asks the meter to report every channel.
	readAllCommand = "read all"

	// defaultTimeout is the socket inactivity bound.
	defaultTimeout = 5 * time.Second

	// defaultLastChannel is the channel whose line ends a response.
	defaultLastChannel = 13

	// defaultMaxResponseSize caps the bytes accepted from one meter.
	defaultMaxResponseSize = 64 * 1024

	// readBufferSize is the size of each socket read.
	readBufferSize = 512
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds protocol client settings.
type Config struct {
	// Timeout bounds the dial and every wait for data.
	// Default: 5 seconds.
	Timeout time.Duration

	// LastChannel is the channel number whose line marks the response as
	// complete. Default: 13.
	LastChannel int

	// MaxResponseSize caps the accumulated response in bytes.
	// Default: 64 KiB.
	MaxResponseSize int
}

// Target addresses one meter.
type Target struct {
	Address string
	Port    int
}

// String returns host:port.
func (t Target) String() string {
	return net.JoinHostPort(t.Address, strconv.Itoa(t.Port))
}

// Client speaks the "read all" protocol to energy meters.
//
// Each ReadAll opens its own connection and closes it before returning, so
// one Client can serve any number of meters concurrently.
type Client struct {
	cfg      Config
	sentinel string

	logger   Logger
	loggerMu sync.RWMutex
}

// NewClient creates a protocol client, applying defaults to zero fields.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.LastChannel <= 0 {
		cfg.LastChannel = defaultLastChannel
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = defaultMaxResponseSize
	}
	return &Client{
		cfg:      cfg,
		sentinel: fmt.Sprintf("channel_%d", cfg.LastChannel),
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

// ReadAll sends "read all" to the meter and returns its full text response.
//
// The exchange:
//  1. Dial the meter, bounded by the timeout
//  2. Send the command
//  3. Accumulate data, refreshing the inactivity deadline before each read
//  4. Once the completion token has arrived, half-close the write side
//  5. Keep reading until the meter closes its side, then return the text
//
// Nothing is retried. The connection is closed exactly once on every path,
// including cancellation of ctx.
//
// Returns:
//   - string: Raw response text
//   - error: ErrConnectionFailed, ErrTimeout, ErrProtocol, or ctx.Err()
func (c *Client) ReadAll(ctx context.Context, target Target) (string, error) {
	addr := target.String()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return "", c.classify(ctx, addr, "dial", err)
	}

	closer := &connCloser{conn: conn}
	defer closer.Close()
	stop := context.AfterFunc(ctx, closer.Close)
	defer stop()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
		return "", c.classify(ctx, addr, "set write deadline", err)
	}
	if _, err := io.WriteString(conn, readAllCommand); err != nil {
		return "", c.classify(ctx, addr, "send command", err)
	}

	var (
		resp     strings.Builder
		buf      = make([]byte, readBufferSize)
		complete bool
	)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
			return "", c.classify(ctx, addr, "set read deadline", err)
		}

		n, readErr := conn.Read(buf)
		if n > 0 {
			resp.Write(buf[:n])
			if resp.Len() > c.cfg.MaxResponseSize {
				return "", fmt.Errorf("%w: %s sent more than %d bytes: %w",
					ErrProtocol, addr, c.cfg.MaxResponseSize, ErrTimeout)
			}
			if !complete && strings.Contains(resp.String(), c.sentinel) {
				complete = true
				c.halfClose(conn, addr)
			}
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF):
			if !complete {
				return "", fmt.Errorf("%w: %s closed before %s: %w",
					ErrProtocol, addr, c.sentinel, ErrTimeout)
			}
			c.logDebug("meter read complete", "meter", addr, "bytes", resp.Len())
			return resp.String(), nil
		default:
			return "", c.classify(ctx, addr, "read", readErr)
		}
	}
}

// halfClose signals end-of-request while leaving the read side open.
func (c *Client) halfClose(conn net.Conn, addr string) {
	cw, ok := conn.(interface{ CloseWrite() error })
	if !ok {
		return
	}
	if err := cw.CloseWrite(); err != nil {
		c.logDebug("half-close failed", "meter", addr, "error", err)
	}
}

// classify maps a transport error onto the package's error kinds.
func (c *Client) classify(ctx context.Context, addr, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s: %w", ErrTimeout, op, addr, ctxErr)
		}
		return fmt.Errorf("meter: %s %s: %w", op, addr, ctxErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s %s: %w", ErrTimeout, op, addr, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrConnectionFailed, op, addr, err)
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// connCloser closes a connection once, whichever of the read loop or a
// context cancellation gets there first.
type connCloser struct {
	conn net.Conn
	once sync.Once
}

func (c *connCloser) Close() {
	c.once.Do(func() {
		c.conn.Close() //nolint:errcheck // Nothing useful to do with a close error here
	})
}
