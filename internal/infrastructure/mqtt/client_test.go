package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/keyrunner/internal/infrastructure/config"
)

// testConfig returns a configuration pointing at a local broker. Only the
// integration tests actually dial it.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "keyrunner-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// recordingLogger captures Warn/Error calls.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Topics
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"EngineStatus", topics.EngineStatus(), "keyrunner/engine/status"},
		{"RunProgress", topics.RunProgress("run-1"), "keyrunner/run/run-1/progress"},
		{"RunStopped", topics.RunStopped("run-1"), "keyrunner/run/run-1/stopped"},
		{"SystemStatus", topics.SystemStatus(), "keyrunner/system/status"},
		{"CommandStart", topics.CommandStart(), "keyrunner/command/start"},
		{"CommandStop", topics.CommandStop(), "keyrunner/command/stop"},
		{"CommandAck", topics.CommandAck(), "keyrunner/response/ack"},
		{"AllCommands", topics.AllCommands(), "keyrunner/command/+"},
		{"AllRunEvents", topics.AllRunEvents(), "keyrunner/run/+/+"},
		{"AllTopics", topics.AllTopics(), "keyrunner/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

// =============================================================================
// Options
// =============================================================================

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		name   string
		broker config.MQTTBrokerConfig
		want   string
	}{
		{"plain", config.MQTTBrokerConfig{Host: "localhost", Port: 1883}, "tcp://localhost:1883"},
		{"tls", config.MQTTBrokerConfig{Host: "broker.lan", Port: 8883, TLS: true}, "ssl://broker.lan:8883"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := brokerURL(tt.broker); got != tt.want {
				t.Errorf("brokerURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "user", Password: "pass"}
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if opts.ClientID != "keyrunner-test" {
		t.Errorf("ClientID = %q, want keyrunner-test", opts.ClientID)
	}
	if opts.Username != "user" || opts.Password != "pass" {
		t.Errorf("credentials = %q/%q, want user/pass", opts.Username, opts.Password)
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.Order {
		t.Error("Order = true, want handlers dispatched concurrently")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set for TLS broker")
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Scheme != "ssl" {
		t.Errorf("Servers = %v, want one ssl broker", opts.Servers)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "keyrunner-test")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false, want true")
	}
	if want := (Topics{}).SystemStatus(); opts.WillTopic != want {
		t.Errorf("WillTopic = %q, want %q", opts.WillTopic, want)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}

	var status statusPayload
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	data := buildStatusPayload("online", "kr-1", "")

	var status statusPayload
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if status.Status != "online" || status.ClientID != "kr-1" {
		t.Errorf("payload = %+v", status)
	}
	if status.Timestamp == "" {
		t.Error("timestamp missing")
	}
	if strings.Contains(string(data), "reason") {
		t.Errorf("empty reason should be omitted: %s", data)
	}
}

// =============================================================================
// Validation without a broker
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "keyrunner/test", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "keyrunner/test", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
		{"not connected", "keyrunner/test", []byte("x"), 0, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"invalid qos", "keyrunner/command/+", 3, noop, ErrInvalidQoS},
		{"nil handler", "keyrunner/command/+", 1, nil, ErrSubscribeFailed},
		{"not connected", "keyrunner/command/+", 1, noop, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0 after failed subscribes", c.SubscriptionCount())
	}
	if c.HasSubscription("keyrunner/command/+") {
		t.Error("HasSubscription() = true for rejected subscription")
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("keyrunner/command/stop"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestCloseNeverConnected(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true for unconnected client")
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c := &Client{}

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() with cancelled ctx error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Handler wrapping
// =============================================================================

func TestDispatch_RecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "keyrunner/command/start", nil)

	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %v, want one panic entry", logger.errors)
	}
}

func TestDispatch_LogsHandlerError(t *testing.T) {
	logger := &recordingLogger{}
	c := &Client{}
	c.SetLogger(logger)

	var gotTopic string
	c.dispatch(func(topic string, _ []byte) error {
		gotTopic = topic
		return errors.New("bad payload")
	}, "keyrunner/command/start", []byte("{"))

	if gotTopic != "keyrunner/command/start" {
		t.Errorf("handler topic = %q", gotTopic)
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %v, want one", logger.warns)
	}
}

func TestDispatch_NoLogger(t *testing.T) {
	c := &Client{}
	// Must not panic without a logger.
	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("x") }, "t", nil)
}

func TestCallbacks(t *testing.T) {
	c := &Client{}
	var disconnected error
	c.SetOnDisconnect(func(err error) { disconnected = err })

	c.handleDisconnect(errors.New("network down"))

	if disconnected == nil || disconnected.Error() != "network down" {
		t.Errorf("onDisconnect got %v", disconnected)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}
