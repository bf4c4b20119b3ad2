package hyperate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DefaultBaseURL is the provider's public widget host.
const DefaultBaseURL = "https://app.hyperate.io"

const defaultFetchTimeout = 10 * time.Second

// Tokens are the server-issued values needed to join a monitor's LiveView.
//
// Tokens are short-lived: a fresh set is derived for every connection
// attempt and never reused.
type Tokens struct {
	CSRFToken     string
	SessionBlob   string
	StaticBlob    string
	RootElementID string
	SessionCookie string
}

// Bootstrapper fetches a monitor's widget page and extracts [Tokens].
type Bootstrapper struct {
	baseURL string
	client  *Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewBootstrapper creates a [Bootstrapper] for the given base URL.
// An empty baseURL selects [DefaultBaseURL].
func NewBootstrapper(baseURL string, logger *slog.Logger) *Bootstrapper {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  NewClient(),
		timeout: defaultFetchTimeout,
		logger:  logger,
	}
}

// PageURL returns the widget page URL for a session identifier.
func (b *Bootstrapper) PageURL(sessionID string) string {
	return PageURL(b.baseURL, sessionID)
}

// PageURL joins a base URL and a session identifier into the widget page URL.
func PageURL(baseURL, sessionID string) string {
	return strings.TrimRight(baseURL, "/") + "/" + url.PathEscape(sessionID)
}

// Bootstrap fetches the widget page for sessionID and extracts its tokens.
//
// Any missing field yields a *BootstrapError. Bootstrap does not retry.
func (b *Bootstrapper) Bootstrap(ctx context.Context, sessionID string) (Tokens, error) {
	pageURL := b.PageURL(sessionID)

	resp := b.client.Fetch(ctx, pageURL, b.timeout)
	if resp.Error != nil {
		return Tokens{}, &BootstrapError{SessionID: sessionID, Reason: "fetch widget page", Err: resp.Error}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Tokens{}, &BootstrapError{
			SessionID: sessionID,
			Reason:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	b.logger.Debug("widget page fetched",
		"session_id", sessionID,
		"status_code", resp.StatusCode,
		"latency_ms", resp.Latency.Milliseconds(),
	)

	tokens, reason, err := parsePage(resp.Body)
	if err != nil {
		return Tokens{}, &BootstrapError{SessionID: sessionID, Reason: "parse widget page", Err: err}
	}
	if reason != "" {
		return Tokens{}, &BootstrapError{SessionID: sessionID, Reason: reason}
	}

	cookie := sessionCookie(resp.Header)
	if cookie == "" {
		return Tokens{}, &BootstrapError{SessionID: sessionID, Reason: "no session cookie"}
	}
	tokens.SessionCookie = cookie

	return tokens, nil
}

// Close releases idle HTTP connections.
func (b *Bootstrapper) Close() {
	b.client.Close()
}

// parsePage extracts the markup-borne tokens. A non-empty reason names the
// first required field that is missing.
func parsePage(body []byte) (tokens Tokens, reason string, err error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Tokens{}, "", err
	}

	var csrf string
	var root *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if csrf == "" && n.Data == "meta" && attr(n, "name") == "csrf-token" {
			csrf = attr(n, "content")
		}
		if root == nil && hasAttr(n, "data-phx-main") {
			root = n
		}
		return csrf == "" || root == nil
	})

	switch {
	case csrf == "":
		return Tokens{}, "no csrf token", nil
	case root == nil:
		return Tokens{}, "no root container", nil
	}

	tokens = Tokens{
		CSRFToken:     csrf,
		SessionBlob:   attr(root, "data-phx-session"),
		StaticBlob:    attr(root, "data-phx-static"),
		RootElementID: attr(root, "id"),
	}
	switch {
	case tokens.RootElementID == "":
		return Tokens{}, "no root element id", nil
	case tokens.SessionBlob == "":
		return Tokens{}, "no session blob", nil
	}
	return tokens, "", nil
}

// walk visits nodes depth first until visit returns false.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if !visit(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// sessionCookie returns the name=value pair of the first Set-Cookie header.
func sessionCookie(h http.Header) string {
	values := h.Values("Set-Cookie")
	if len(values) == 0 {
		return ""
	}
	pair, _, _ := strings.Cut(values[0], ";")
	return strings.TrimSpace(pair)
}
