package meter

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

const fullResponse = "channel_1 : 100\nchannel_2 : 50\nchannel_13 : 0\n"

// fakeMeter accepts one connection and hands it to handle.
// It returns the target to dial and a channel carrying the bytes the client sent.
func fakeMeter(t *testing.T, handle func(conn net.Conn, request string)) (Target, <-chan string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, len(readAllCommand))
		if _, err := io.ReadFull(conn, buf); err != nil {
			received <- ""
			return
		}
		received <- string(buf)
		handle(conn, string(buf))
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return Target{Address: "127.0.0.1", Port: addr.Port}, received
}

// waitForHalfClose blocks until the client shuts its write side.
func waitForHalfClose(conn net.Conn) error {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test helper
	_, err := io.Copy(io.Discard, conn)
	return err
}

func TestReadAll_FullExchange(t *testing.T) {
	halfClosed := make(chan error, 1)
	target, received := fakeMeter(t, func(conn net.Conn, _ string) {
		conn.Write([]byte(fullResponse)) //nolint:errcheck // Test server
		halfClosed <- waitForHalfClose(conn)
	})

	client := NewClient(Config{Timeout: 2 * time.Second})
	got, err := client.ReadAll(context.Background(), target)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	if got != fullResponse {
		t.Errorf("ReadAll() = %q, want %q", got, fullResponse)
	}
	if req := <-received; req != readAllCommand {
		t.Errorf("meter received %q, want %q", req, readAllCommand)
	}
	if err := <-halfClosed; err != nil {
		t.Errorf("meter did not see half-close: %v", err)
	}
}

func TestReadAll_SegmentedResponse(t *testing.T) {
	target, _ := fakeMeter(t, func(conn net.Conn, _ string) {
		for _, part := range []string{"channel_1 : 1", "00\nchannel_", "13 : 0\n"} {
			conn.Write([]byte(part)) //nolint:errcheck // Test server
			time.Sleep(20 * time.Millisecond)
		}
		waitForHalfClose(conn) //nolint:errcheck // Test server
	})

	client := NewClient(Config{Timeout: time.Second})
	got, err := client.ReadAll(context.Background(), target)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if got != "channel_1 : 100\nchannel_13 : 0\n" {
		t.Errorf("ReadAll() = %q", got)
	}
}

func TestReadAll_CustomLastChannel(t *testing.T) {
	target, _ := fakeMeter(t, func(conn net.Conn, _ string) {
		conn.Write([]byte("channel_1 : 5\nchannel_4 : 1\n")) //nolint:errcheck // Test server
		waitForHalfClose(conn)                              //nolint:errcheck // Test server
	})

	client := NewClient(Config{Timeout: time.Second, LastChannel: 4})
	if _, err := client.ReadAll(context.Background(), target); err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
}

func TestReadAll_Silent(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	target, _ := fakeMeter(t, func(net.Conn, string) {
		<-release
	})

	client := NewClient(Config{Timeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := client.ReadAll(context.Background(), target)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadAll() error = %v, want ErrTimeout", err)
	}
	if errors.Is(err, ErrProtocol) {
		t.Errorf("ReadAll() error = %v, silent meter is not a protocol error", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("ReadAll() took %v, want about the inactivity timeout", elapsed)
	}
}

func TestReadAll_StalledMidResponse(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	target, _ := fakeMeter(t, func(conn net.Conn, _ string) {
		conn.Write([]byte("channel_1 : 100\n")) //nolint:errcheck // Test server
		<-release
	})

	client := NewClient(Config{Timeout: 100 * time.Millisecond})
	_, err := client.ReadAll(context.Background(), target)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadAll() error = %v, want ErrTimeout", err)
	}
}

func TestReadAll_ClosedBeforeSentinel(t *testing.T) {
	target, _ := fakeMeter(t, func(conn net.Conn, _ string) {
		conn.Write([]byte("channel_1 : 100\nchannel_2 : 5")) //nolint:errcheck // Test server
	})

	client := NewClient(Config{Timeout: time.Second})
	_, err := client.ReadAll(context.Background(), target)

	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("ReadAll() error = %v, want ErrProtocol", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("ReadAll() error = %v, protocol errors should also match ErrTimeout", err)
	}
}

func TestReadAll_Oversized(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	target, _ := fakeMeter(t, func(conn net.Conn, _ string) {
		conn.Write([]byte(strings.Repeat("x", 200))) //nolint:errcheck // Test server
		<-release
	})

	client := NewClient(Config{Timeout: time.Second, MaxResponseSize: 64})
	_, err := client.ReadAll(context.Background(), target)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("ReadAll() error = %v, want ErrProtocol", err)
	}
}

func TestReadAll_ConnectionRefused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	client := NewClient(Config{Timeout: time.Second})
	_, err = client.ReadAll(context.Background(), Target{Address: "127.0.0.1", Port: port})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("ReadAll() error = %v, want ErrConnectionFailed", err)
	}
}

func TestReadAll_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	target, _ := fakeMeter(t, func(net.Conn, string) {
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	client := NewClient(Config{Timeout: 10 * time.Second})
	start := time.Now()
	_, err := client.ReadAll(ctx, target)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ReadAll() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("ReadAll() took %v after cancellation", elapsed)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{})

	if client.cfg.Timeout != defaultTimeout {
		t.Errorf("Timeout = %v, want %v", client.cfg.Timeout, defaultTimeout)
	}
	if client.sentinel != "channel_13" {
		t.Errorf("sentinel = %q, want channel_13", client.sentinel)
	}
	if client.cfg.MaxResponseSize != defaultMaxResponseSize {
		t.Errorf("MaxResponseSize = %d, want %d", client.cfg.MaxResponseSize, defaultMaxResponseSize)
	}
}

func TestTarget_String(t *testing.T) {
	tests := []struct {
		target Target
		want   string
	}{
		{Target{Address: "10.0.0.5", Port: 5000}, "10.0.0.5:5000"},
		{Target{Address: "fe80::1", Port: 23}, "[fe80::1]:23"},
	}
	for _, tt := range tests {
		if got := tt.target.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
