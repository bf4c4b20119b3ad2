// Package hyperate speaks the upstream heart-rate provider's protocol.
//
// The provider serves a per-monitor widget page rendered by Phoenix
// LiveView. Subscribing to a monitor takes two steps:
//
//   - [Bootstrapper]: fetches the widget page and scrapes the CSRF token,
//     the LiveView session/static blobs, the root element id and the
//     session cookie into [Tokens]
//   - [Dialer]: opens the LiveView WebSocket with those tokens and sends the
//     join (handshake) frame, returning a [Channel]
//
// Frames on the channel are 5-element JSON arrays, see [Frame]. The package
// never retries or reconnects on its own; that is the supervisor's job.
package hyperate
