package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/meterlog/internal/infrastructure/config"
	"github.com/nerrad567/meterlog/internal/measurement"
)

const testBroker = "127.0.0.1:1883"

// testConfig returns a valid MQTT configuration pointing at a local broker.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker, skipping the test when none
// is listening.
func connectOrSkip(t *testing.T, clientID string) *Client {
	t.Helper()

	conn, err := net.DialTimeout("tcp", testBroker, 200*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s: %v", testBroker, err)
	}
	conn.Close()

	client, err := Connect(testConfig(clientID))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// =============================================================================
// Offline Tests
// =============================================================================

func TestClientValidationWithoutConnection(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", client.Publish("", []byte("x"), 1, false), ErrInvalidTopic},
		{"publish bad qos", client.Publish("a/b", []byte("x"), 3, false), ErrInvalidQoS},
		{"publish oversized", client.Publish("a/b", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed},
		{"publish disconnected", client.Publish("a/b", []byte("x"), 1, false), ErrNotConnected},
		{"subscribe nil handler", client.Subscribe("a/b", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", client.Subscribe("a/b", 1, noop), ErrNotConnected},
		{"unsubscribe empty", client.Unsubscribe(""), ErrInvalidTopic},
		{"poll commands nil", client.SubscribePollCommands(nil), ErrSubscribeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true for an unconnected client")
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client := &Client{}

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestDispatchRecoversAndLogs(t *testing.T) {
	logger := &recordingLogger{}
	client := &Client{}
	client.SetLogger(logger)

	client.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	client.dispatch(func(string, []byte) error { return errors.New("bad") }, "t", nil)
	client.dispatch(func(string, []byte) error { return nil }, "t", nil)

	if len(logger.errors) != 1 {
		t.Errorf("logged %d errors, want 1 for the panic", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1 for the handler error", len(logger.warns))
	}
}

func TestPollCommandHandler(t *testing.T) {
	var got []string
	handler := pollCommandHandler(func(device string) error {
		got = append(got, device)
		return nil
	})

	for _, topic := range []string{
		"meterlog/command/poll/meter-a",
		"meterlog/command/poll/",
		"meterlog/command/poll/a/b",
		"meterlog/reading/meter-a/1",
	} {
		if err := handler(topic, nil); err != nil {
			t.Errorf("handler(%q) error = %v", topic, err)
		}
	}

	if len(got) != 1 || got[0] != "meter-a" {
		t.Errorf("devices = %v, want [meter-a]", got)
	}
}

func TestStatusPayload(t *testing.T) {
	var status systemStatus
	if err := json.Unmarshal(statusPayload("meterlog-1", statusOffline, reasonUnexpected), &status); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if status.Status != "offline" || status.ClientID != "meterlog-1" || status.Reason != "unexpected_disconnect" {
		t.Errorf("status = %+v", status)
	}
	if _, err := time.Parse(time.RFC3339, status.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339", status.Timestamp)
	}

	var online map[string]any
	if err := json.Unmarshal(statusPayload("meterlog-1", statusOnline, ""), &online); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if _, ok := online["reason"]; ok {
		t.Error("online payload should omit reason")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("meterlog-opts")
	cfg.Broker.TLS = true
	cfg.Auth.Username = "meter"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "meterlog-opts" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "meter" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set for tls broker")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false")
	}
}

func TestNewReading(t *testing.T) {
	m := measurement.Measurement{Channel: 4, MeasuredValue: 1250, RecordedTime: 1704067200}
	r := NewReading("meter-a", m)

	if r.DeviceID != "meter-a" || r.Channel != 4 || r.MeasuredValue != 1250 {
		t.Errorf("NewReading() = %+v", r)
	}
	if r.RecordedAt != "2024-01-01T00:00:00Z" {
		t.Errorf("RecordedAt = %q, want 2024-01-01T00:00:00Z", r.RecordedAt)
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig("meterlog-test-invalid")
	cfg.Broker.Port = 19999
	cfg.Reconnect.InitialDelay = 0

	if testing.Short() {
		t.Skip("waits for the connect timeout")
	}

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestPublishReadingsRoundtrip(t *testing.T) {
	pub := connectOrSkip(t, "meterlog-test-pub")
	sub := connectOrSkip(t, "meterlog-test-sub")

	device := "roundtrip-" + time.Now().Format("150405.000")
	received := make(chan Reading, 4)

	err := sub.Subscribe(TopicPrefix+"/reading/"+device+"/+", 1, func(_ string, payload []byte) error {
		var r Reading
		if err := json.Unmarshal(payload, &r); err != nil {
			return err
		}
		received <- r
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	rows := []measurement.Measurement{
		{Channel: 1, MeasuredValue: 100, RecordedTime: 1704067200},
		{Channel: 2, MeasuredValue: 200, RecordedTime: 1704067200},
	}
	if err := pub.PublishReadings(context.Background(), device, rows); err != nil {
		t.Fatalf("PublishReadings() error = %v", err)
	}

	seen := map[int]float64{}
	timeout := time.After(5 * time.Second)
	for len(seen) < len(rows) {
		select {
		case r := <-received:
			seen[r.Channel] = r.MeasuredValue
		case <-timeout:
			t.Fatalf("received %d of %d readings", len(seen), len(rows))
		}
	}
	if seen[1] != 100 || seen[2] != 200 {
		t.Errorf("received values = %v", seen)
	}
}

func TestPollCommandRoundtrip(t *testing.T) {
	client := connectOrSkip(t, "meterlog-test-cmd")

	devices := make(chan string, 1)
	if err := client.SubscribePollCommands(func(device string) error {
		devices <- device
		return nil
	}); err != nil {
		t.Fatalf("SubscribePollCommands() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.AllPollCommands()) {
		t.Error("poll command subscription not tracked")
	}

	if err := client.Publish(Topics{}.PollCommand("meter-b"), []byte("{}"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-devices:
		if got != "meter-b" {
			t.Errorf("device = %q, want meter-b", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poll command not delivered")
	}

	if err := client.Unsubscribe(Topics{}.AllPollCommands()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe", client.SubscriptionCount())
	}
}

func TestPublishPollOutcome(t *testing.T) {
	client := connectOrSkip(t, "meterlog-test-outcome")

	err := client.PublishPollOutcome(PollOutcome{DeviceID: "meter-a", Result: "ok", Stored: 13})
	if err != nil {
		t.Errorf("PublishPollOutcome() error = %v", err)
	}

	client.Close()
	if err := client.PublishPollOutcome(PollOutcome{DeviceID: "meter-a"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishPollOutcome() after Close error = %v, want ErrNotConnected", err)
	}
}
