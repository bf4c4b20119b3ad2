package heartbridge

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_Defaults(t *testing.T) {
	b, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if b.Port() != 8080 {
		t.Errorf("Port() = %v, want %v", b.Port(), 8080)
	}
	if b.baseURL != "https://app.hyperate.io" {
		t.Errorf("baseURL = %q", b.baseURL)
	}
	if b.oscHost != "localhost" || b.oscPort != 9000 {
		t.Errorf("osc target = %s:%d, want localhost:9000", b.oscHost, b.oscPort)
	}
	if b.livenessInterval != 30*time.Second {
		t.Errorf("livenessInterval = %v, want 30s", b.livenessInterval)
	}
	if b.watchdogInterval != 60*time.Second {
		t.Errorf("watchdogInterval = %v, want 60s", b.watchdogInterval)
	}
	if b.chatboxCooldown != 3*time.Second {
		t.Errorf("chatboxCooldown = %v, want 3s", b.chatboxCooldown)
	}
	if b.restartDelay != 3*time.Second {
		t.Errorf("restartDelay = %v, want 3s", b.restartDelay)
	}
	if b.readTimeout != 90*time.Second {
		t.Errorf("readTimeout = %v, want 90s", b.readTimeout)
	}
	if b.sessionID != "" {
		t.Errorf("sessionID = %q, want empty", b.sessionID)
	}
	if b.Registry() == nil {
		t.Error("Registry() = nil")
	}

	want := FormattingOptions{
		ShowTrendArrow:       false,
		Use24HourClock:       true,
		TextTemplate:         "❤❤❤ {heartRate} {clock}",
		ChannelOutputEnabled: true,
	}
	if got := b.Formatting(); got != want {
		t.Errorf("Formatting() = %+v, want %+v", got, want)
	}
}

func TestOptions_Valid(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := FormattingOptions{ShowTrendArrow: true, TextTemplate: "{heartRate}"}

	b, err := New(
		WithSessionID("abc123"),
		WithFormatting(f),
		WithBaseURL("http://127.0.0.1:4000"),
		WithOSCTarget("192.168.1.20", 9001),
		WithPort(9090),
		WithLivenessInterval(10*time.Second),
		WithWatchdogInterval(20*time.Second),
		WithChatboxCooldown(0),
		WithRestartDelay(time.Second),
		WithReadTimeout(time.Minute),
		WithRegistry(reg),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if b.sessionID != "abc123" {
		t.Errorf("sessionID = %q", b.sessionID)
	}
	if b.Formatting() != f {
		t.Errorf("Formatting() = %+v", b.Formatting())
	}
	if b.baseURL != "http://127.0.0.1:4000" {
		t.Errorf("baseURL = %q", b.baseURL)
	}
	if b.oscHost != "192.168.1.20" || b.oscPort != 9001 {
		t.Errorf("osc target = %s:%d", b.oscHost, b.oscPort)
	}
	if b.Port() != 9090 {
		t.Errorf("Port() = %d", b.Port())
	}
	if b.livenessInterval != 10*time.Second || b.watchdogInterval != 20*time.Second {
		t.Errorf("intervals = %v/%v", b.livenessInterval, b.watchdogInterval)
	}
	if b.chatboxCooldown != 0 || b.readTimeout != time.Minute {
		t.Errorf("cooldown/read timeout = %v/%v", b.chatboxCooldown, b.readTimeout)
	}
	if b.restartDelay != time.Second {
		t.Errorf("restartDelay = %v, want 1s", b.restartDelay)
	}
	if b.Registry() != reg {
		t.Error("Registry() did not return the configured registry")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("metrics were not registered with the configured registry")
	}
}

func TestOptions_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		opt     Option
		wantErr string
	}{
		{"empty session id", WithSessionID(""), "session id"},
		{"relative base url", WithBaseURL("app.hyperate.io"), "absolute"},
		{"ftp base url", WithBaseURL("ftp://app.hyperate.io"), "http or https"},
		{"unparseable base url", WithBaseURL("http://[::1"), "invalid base url"},
		{"empty osc host", WithOSCTarget("", 9000), "osc host"},
		{"osc port zero", WithOSCTarget("localhost", 0), "osc port"},
		{"osc port too high", WithOSCTarget("localhost", 65536), "osc port"},
		{"negative port", WithPort(-1), "port"},
		{"port too high", WithPort(65536), "port"},
		{"zero liveness", WithLivenessInterval(0), "liveness"},
		{"negative watchdog", WithWatchdogInterval(-time.Second), "watchdog"},
		{"negative cooldown", WithChatboxCooldown(-time.Millisecond), "cooldown"},
		{"negative restart delay", WithRestartDelay(-time.Second), "restart delay"},
		{"zero read timeout", WithReadTimeout(0), "read timeout"},
		{"nil logger", WithLogger(nil), "logger"},
		{"nil registry", WithRegistry(nil), "registry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opt)
			if err == nil {
				t.Fatal("New() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestWithPort_ValidEdgeCases(t *testing.T) {
	for _, port := range []int{0, 1, 65535} {
		b, err := New(WithPort(port))
		if err != nil {
			t.Errorf("WithPort(%d) error = %v", port, err)
			continue
		}
		if b.Port() != port {
			t.Errorf("Port() = %d, want %d", b.Port(), port)
		}
	}
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	b, err := New(WithLogger(logger))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	b.logger.Info("test message")
	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("custom logger not used, buffer: %s", buf.String())
	}
}

func TestWithLogger_DefaultsToSlogDefault(t *testing.T) {
	b, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b.logger != slog.Default() {
		t.Error("logger should default to slog.Default()")
	}
}

func TestFormattingOptions_EmptyTemplateFallsBack(t *testing.T) {
	got := FormattingOptions{}.internal()
	if got.TextTemplate != DefaultTextTemplate {
		t.Errorf("TextTemplate = %q, want %q", got.TextTemplate, DefaultTextTemplate)
	}
}

func TestNew_ReadTimeoutFollowsLiveness(t *testing.T) {
	b, err := New(WithLivenessInterval(2 * time.Minute))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b.readTimeout != 6*time.Minute {
		t.Errorf("readTimeout = %v, want 6m (three liveness intervals)", b.readTimeout)
	}

	b, err = New(WithLivenessInterval(10 * time.Second))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b.readTimeout != 90*time.Second {
		t.Errorf("readTimeout = %v, want 90s floor", b.readTimeout)
	}
}

func TestNew_ReadTimeoutMustExceedLiveness(t *testing.T) {
	tests := []struct {
		name     string
		liveness time.Duration
		read     time.Duration
	}{
		{"shorter", 2 * time.Minute, 90 * time.Second},
		{"equal", 30 * time.Second, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithLivenessInterval(tt.liveness), WithReadTimeout(tt.read))
			if err == nil {
				t.Fatal("New() expected error, got nil")
			}
			if !strings.Contains(err.Error(), "must exceed the liveness interval") {
				t.Errorf("error = %q", err.Error())
			}
		})
	}

	// option order does not matter
	if _, err := New(WithReadTimeout(time.Minute), WithLivenessInterval(2*time.Minute)); err == nil {
		t.Error("New() accepted a read timeout set before a longer liveness interval")
	}
}
