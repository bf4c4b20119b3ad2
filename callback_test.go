package heartbridge

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWithEventCallback_ReceivesHeartRate(t *testing.T) {
	provider, baseURL := newProvider(t)
	oscPort, datagrams := oscSink(t)

	samples := make(chan Event, 8)
	cb := func(ev Event) {
		if ev.Kind == EventHeartRate {
			samples <- ev
		}
	}

	b, err := New(
		WithSessionID("abc123"),
		WithBaseURL(baseURL),
		WithOSCTarget("127.0.0.1", oscPort),
		WithPort(0),
		WithFormatting(FormattingOptions{
			ShowTrendArrow:       true,
			TextTemplate:         "❤ {heartRate}",
			ChannelOutputEnabled: true,
		}),
		WithEventCallback(cb),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitConnected(t, provider)
	provider.PushHeartRate(72)

	select {
	case ev := <-samples:
		if ev.HeartRate != 72 || ev.Trend != TrendHigher || ev.SessionID != "abc123" {
			t.Errorf("event = %+v, want 72 higher for abc123", ev)
		}
		if ev.Text != "❤ 72⬆️" {
			t.Errorf("Text = %q, want %q", ev.Text, "❤ 72⬆️")
		}
		if ev.At.IsZero() {
			t.Error("At should not be zero")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for heart-rate callback")
	}

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for len(seen) < 5 {
		select {
		case msg := <-datagrams:
			seen[msg.Address] = true
			if msg.Address == "/chatbox/input" && msg.Arguments[0] != "❤ 72⬆️" {
				t.Errorf("chatbox text = %v", msg.Arguments[0])
			}
		case <-deadline:
			t.Fatalf("received OSC addresses %v, want chatbox plus four parameters", seen)
		}
	}
}

func TestWithEventCallback_ConnectionLifecycle(t *testing.T) {
	provider, baseURL := newProvider(t)
	oscPort, _ := oscSink(t)

	var mu sync.Mutex
	var kinds []EventKind
	connected := make(chan struct{}, 1)
	cb := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
		if ev.Kind == EventConnected {
			connected <- struct{}{}
		}
	}

	b, err := New(
		WithBaseURL(baseURL),
		WithOSCTarget("127.0.0.1", oscPort),
		WithPort(0),
		WithEventCallback(cb),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	waitForStatus(t, b)
	if err := b.Connect("abc", DefaultFormatting()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitConnected(t, provider)
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for monitor-connected")
	}
	if err := b.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	want := []EventKind{EventConnected, EventStopped}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("events[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}

// waitForStatus blocks until the bridge accepts controls.
func waitForStatus(t *testing.T, b *Bridge) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := b.Status(); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("bridge never started")
}

func TestWithEventCallback_PanicRecovery(t *testing.T) {
	var buf safeBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var afterPanic atomic.Int32
	b, err := New(
		WithPort(0),
		WithLogger(logger),
		WithEventCallback(func(Event) { panic("test panic") }),
		WithEventCallback(func(Event) { afterPanic.Add(1) }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, cb := range b.eventCallbacks {
		invokeCallbackSafe(cb, Event{Kind: EventConnected}, b.logger)
	}

	if afterPanic.Load() != 1 {
		t.Errorf("second callback calls = %d, want 1", afterPanic.Load())
	}
	logs := buf.String()
	if !strings.Contains(logs, "event callback panicked") {
		t.Errorf("expected panic to be logged, got: %s", logs)
	}
	if !strings.Contains(logs, "correlation_id=") {
		t.Errorf("expected correlation id in log, got: %s", logs)
	}
	if !strings.Contains(logs, "test panic") {
		t.Errorf("expected panic value in log, got: %s", logs)
	}
}

func TestWithEventCallback_NilIsSafe(t *testing.T) {
	b, err := New(WithEventCallback(nil))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(b.eventCallbacks) != 0 {
		t.Errorf("callbacks = %d, want 0", len(b.eventCallbacks))
	}
}

func TestWithEventCallback_ExecutionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int

	record := func(n int) func(Event) {
		return func(Event) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, n)
		}
	}

	b, err := New(
		WithEventCallback(record(1)),
		WithEventCallback(record(2)),
		WithEventCallback(record(3)),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, cb := range b.eventCallbacks {
		invokeCallbackSafe(cb, Event{}, testLogger())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}

// safeBuffer is a bytes.Buffer safe for concurrent log writes.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWithEventCallback_ReentrantCallsDuringBacklog(t *testing.T) {
	provider, baseURL := newProvider(t)
	oscPort, _ := oscSink(t)

	var b *Bridge
	var seen atomic.Bool
	blocked := make(chan struct{})
	release := make(chan struct{})
	reentered := make(chan error, 1)

	cb := func(ev Event) {
		if ev.Kind != EventHeartRate || !seen.CompareAndSwap(false, true) {
			return
		}
		close(blocked)
		<-release
		if _, err := b.Status(); err != nil {
			reentered <- err
			return
		}
		reentered <- b.UpdateFormatting(FormattingOptions{TextTemplate: "{heartRate}"})
	}

	var err error
	b, err = New(
		WithSessionID("abc123"),
		WithBaseURL(baseURL),
		WithOSCTarget("127.0.0.1", oscPort),
		WithPort(0),
		WithChatboxCooldown(0),
		WithEventCallback(cb),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitConnected(t, provider)
	provider.PushHeartRate(60)
	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never saw the first sample")
	}

	// far more samples than the event buffer holds, all accepted
	const backlog = 100
	for bpm := 61; bpm < 61+backlog; bpm++ {
		provider.PushHeartRate(bpm)
	}

	deadline := time.Now().Add(5 * time.Second)
	for acceptedSamples(t, b) < backlog+1 {
		if time.Now().After(deadline) {
			t.Fatalf("accepted samples = %v, want %d while the callback is blocked",
				acceptedSamples(t, b), backlog+1)
		}
		time.Sleep(10 * time.Millisecond)
	}

	close(release)
	select {
	case err := <-reentered:
		if err != nil {
			t.Errorf("re-entrant call error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("re-entrant call from the callback did not return")
	}

	st, err := b.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Formatting.TextTemplate != "{heartRate}" {
		t.Errorf("TextTemplate = %q, want %q", st.Formatting.TextTemplate, "{heartRate}")
	}
}

func acceptedSamples(t *testing.T, b *Bridge) float64 {
	t.Helper()

	families, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "heartbridge_samples_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == "accepted" {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
