// Package heartbridge relays a live heart-rate broadcast to a local OSC
// receiver.
//
// A Bridge follows one session on a HypeRate-style widget site over its
// realtime LiveView socket, turns each heart-rate sample into a chat box
// message and four avatar parameters, and sends them as OSC datagrams
// (VRChat's /chatbox/input and /avatar/parameters/VRCOSC/Heartrate/...).
// Lost connections are retried on a fixed watchdog interval.
//
// # Quick Start
//
//	b, _ := heartbridge.New(heartbridge.WithSessionID("abc123"))
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	b.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
// Bridge uses the functional options pattern for configuration:
//
//	b, err := heartbridge.New(
//	    heartbridge.WithSessionID("abc123"),
//	    heartbridge.WithFormatting(heartbridge.FormattingOptions{
//	        ShowTrendArrow:       true,
//	        Use24HourClock:       true,
//	        TextTemplate:         "❤ {heartRate} {clock}",
//	        ChannelOutputEnabled: true,
//	    }),
//	    heartbridge.WithOSCTarget("localhost", 9000),
//	    heartbridge.WithChatboxCooldown(3 * time.Second),
//	)
//
// # Events
//
// Status and data notifications ([Event]) are delivered to callbacks
// registered with [WithEventCallback] and streamed by the control API:
//
//   - GET /api/status: current state
//   - GET /api/events: Server-Sent Events stream
//   - POST /api/session, DELETE /api/session: connect and disconnect
//   - PUT /api/formatting: update formatting options; omitted fields are kept
//   - GET /metrics: Prometheus metrics
//
// # Architecture
//
// The bridge consists of several internal packages (under internal/):
//
//   - internal/hyperate: Session bootstrap and the realtime channel
//   - internal/heartrate: Sample decoding and output rendering
//   - internal/publisher: Rate-limited OSC publishing
//   - internal/supervisor: Single-loop session lifecycle and reconnects
//   - internal/store: Latest state with pub/sub for the control API
//   - internal/server: HTTP control API with Server-Sent Events
//   - internal/metrics: Prometheus collectors
//
// The internal packages are not part of the public API and may change
// without notice.
package heartbridge
