package hyperate_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jpalmerr/heartbridge/internal/hyperate"
	"github.com/jpalmerr/heartbridge/internal/hyperate/hyperatetest"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBootstrap_ExtractsTokens(t *testing.T) {
	provider := hyperatetest.NewProvider()
	srv := httptest.NewServer(provider.Handler())
	defer srv.Close()

	b := hyperate.NewBootstrapper(srv.URL, testLogger())
	defer b.Close()

	tokens, err := b.Bootstrap(context.Background(), "ABCD")
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	want := hyperate.Tokens{
		CSRFToken:     hyperatetest.CSRFToken,
		SessionBlob:   hyperatetest.SessionBlob,
		StaticBlob:    hyperatetest.StaticBlob,
		RootElementID: hyperatetest.RootElementID,
		SessionCookie: hyperatetest.SessionCookie,
	}
	if tokens != want {
		t.Errorf("Bootstrap() = %+v, want %+v", tokens, want)
	}
	if provider.PageHits() != 1 {
		t.Errorf("PageHits() = %d, want 1", provider.PageHits())
	}
}

func TestBootstrap_MissingFields(t *testing.T) {
	tests := []struct {
		name      string
		configure func(p *hyperatetest.Provider)
		reason    string
	}{
		{name: "no csrf", configure: func(p *hyperatetest.Provider) { p.MissingCSRF = true }, reason: "no csrf token"},
		{name: "no root", configure: func(p *hyperatetest.Provider) { p.MissingRoot = true }, reason: "no root container"},
		{name: "no cookie", configure: func(p *hyperatetest.Provider) { p.MissingCookie = true }, reason: "no session cookie"},
		{name: "bad status", configure: func(p *hyperatetest.Provider) { p.PageStatus = http.StatusNotFound }, reason: "unexpected status 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := hyperatetest.NewProvider()
			tt.configure(provider)
			srv := httptest.NewServer(provider.Handler())
			defer srv.Close()

			b := hyperate.NewBootstrapper(srv.URL, testLogger())
			_, err := b.Bootstrap(context.Background(), "ABCD")
			if err == nil {
				t.Fatal("Bootstrap() error = nil, want BootstrapError")
			}

			var bErr *hyperate.BootstrapError
			if !errors.As(err, &bErr) {
				t.Fatalf("Bootstrap() error type = %T, want *BootstrapError", err)
			}
			if bErr.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", bErr.Reason, tt.reason)
			}
			if bErr.SessionID != "ABCD" {
				t.Errorf("SessionID = %q, want ABCD", bErr.SessionID)
			}
		})
	}
}

func TestBootstrap_MissingRootID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "k", Value: "v"})
		_, _ = w.Write([]byte(`<meta name="csrf-token" content="x"><div data-phx-main data-phx-session="s"></div>`))
	}))
	defer srv.Close()

	_, err := hyperate.NewBootstrapper(srv.URL, testLogger()).Bootstrap(context.Background(), "id")

	var bErr *hyperate.BootstrapError
	if !errors.As(err, &bErr) || bErr.Reason != "no root element id" {
		t.Errorf("Bootstrap() error = %v, want reason %q", err, "no root element id")
	}
}

func TestBootstrap_UnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := hyperate.NewBootstrapper(url, testLogger()).Bootstrap(context.Background(), "id")

	var bErr *hyperate.BootstrapError
	if !errors.As(err, &bErr) {
		t.Fatalf("Bootstrap() error = %v, want *BootstrapError", err)
	}
	if bErr.Unwrap() == nil {
		t.Error("BootstrapError.Unwrap() = nil, want transport cause")
	}
	if !strings.Contains(err.Error(), "fetch widget page") {
		t.Errorf("error %q should mention the fetch", err)
	}
}

func TestPageURL(t *testing.T) {
	if got := hyperate.PageURL("https://app.hyperate.io/", "AB12"); got != "https://app.hyperate.io/AB12" {
		t.Errorf("PageURL() = %q", got)
	}
	if got := hyperate.PageURL("https://app.hyperate.io", "a b"); got != "https://app.hyperate.io/a%20b" {
		t.Errorf("PageURL() = %q, want escaped id", got)
	}
}
