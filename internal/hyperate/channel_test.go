package hyperate_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/jpalmerr/heartbridge/internal/hyperate"
	"github.com/jpalmerr/heartbridge/internal/hyperate/hyperatetest"
)

// dialProvider bootstraps and dials against a fake provider.
func dialProvider(t *testing.T, provider *hyperatetest.Provider, readTimeout time.Duration) (*hyperate.Channel, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(provider.Handler())
	t.Cleanup(srv.Close)

	tokens, err := hyperate.NewBootstrapper(srv.URL, testLogger()).Bootstrap(context.Background(), "ABCD")
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	ch, err := hyperate.NewDialer(srv.URL, readTimeout, testLogger()).Dial(context.Background(), "ABCD", tokens)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch, srv
}

// nextEvent waits for a channel event with timeout.
func nextEvent(t *testing.T, events <-chan hyperate.ChannelEvent) hyperate.ChannelEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel event")
		return hyperate.ChannelEvent{}
	}
}

func TestChannel_HandshakeAndFrames(t *testing.T) {
	provider := hyperatetest.NewProvider()
	ch, _ := dialProvider(t, provider, 0)

	join := <-provider.Received()
	if join.Event != hyperate.EventJoin {
		t.Fatalf("first frame event = %q, want phx_join", join.Event)
	}
	if join.Topic != "lv:"+hyperatetest.RootElementID {
		t.Errorf("join topic = %q", join.Topic)
	}

	events := make(chan hyperate.ChannelEvent, 8)
	ch.Listen(42, events)

	ev := nextEvent(t, events)
	if ev.Kind != hyperate.ChannelFrame || ev.Frame.Event != hyperate.EventReply {
		t.Fatalf("event = %v/%q, want frame phx_reply", ev.Kind, ev.Frame.Event)
	}
	if ev.ChannelID != 42 {
		t.Errorf("ChannelID = %d, want 42", ev.ChannelID)
	}

	provider.PushHeartRate(88)
	ev = nextEvent(t, events)
	if got := ev.Frame.HeartRates(); !reflect.DeepEqual(got, []int{88}) {
		t.Errorf("HeartRates() = %v, want [88]", got)
	}

	if err := ch.Send(hyperate.HeartbeatFrame(5)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	hb := <-provider.Received()
	if hb.Event != hyperate.EventHeartbeat || hb.MessageRef == nil || *hb.MessageRef != "5" {
		t.Errorf("heartbeat frame = %+v", hb)
	}
}

func TestChannel_PeerCloseIsReported(t *testing.T) {
	provider := hyperatetest.NewProvider()
	ch, _ := dialProvider(t, provider, 0)

	events := make(chan hyperate.ChannelEvent, 8)
	ch.Listen(1, events)
	nextEvent(t, events) // join reply

	provider.CloseConnections()

	ev := nextEvent(t, events)
	if ev.Kind != hyperate.ChannelClosed {
		t.Errorf("Kind = %v, want closed", ev.Kind)
	}
}

func TestChannel_SilencePastReadTimeoutErrors(t *testing.T) {
	provider := hyperatetest.NewProvider()
	provider.SetSilent(true)
	ch, _ := dialProvider(t, provider, 100*time.Millisecond)

	events := make(chan hyperate.ChannelEvent, 8)
	ch.Listen(1, events)

	ev := nextEvent(t, events)
	if ev.Kind != hyperate.ChannelErrored {
		t.Fatalf("Kind = %v, want errored", ev.Kind)
	}
	var chErr *hyperate.ChannelError
	if !errors.As(ev.Err, &chErr) || chErr.Op != "read" {
		t.Errorf("Err = %v, want read ChannelError", ev.Err)
	}
}

func TestChannel_CloseStopsDelivery(t *testing.T) {
	provider := hyperatetest.NewProvider()
	ch, _ := dialProvider(t, provider, 0)

	events := make(chan hyperate.ChannelEvent) // unbuffered: nobody reads
	ch.Listen(1, events)

	if err := ch.Close(); err != nil {
		t.Logf("Close() error (acceptable): %v", err)
	}
	// second close is a no-op
	_ = ch.Close()

	if err := ch.Send(hyperate.HeartbeatFrame(5)); !errors.Is(err, hyperate.ErrChannelClosed) {
		t.Errorf("Send() after Close error = %v, want ErrChannelClosed", err)
	}

	select {
	case ev := <-events:
		t.Errorf("unexpected event after Close: %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDial_RejectedWithoutCookie(t *testing.T) {
	provider := hyperatetest.NewProvider()
	srv := httptest.NewServer(provider.Handler())
	defer srv.Close()

	tokens := hyperate.Tokens{CSRFToken: hyperatetest.CSRFToken, RootElementID: "x", SessionBlob: "s"}
	_, err := hyperate.NewDialer(srv.URL, 0, testLogger()).Dial(context.Background(), "ABCD", tokens)

	var chErr *hyperate.ChannelError
	if !errors.As(err, &chErr) || chErr.Op != "dial" {
		t.Errorf("Dial() error = %v, want dial ChannelError", err)
	}
}
