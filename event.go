package heartbridge

import (
	"time"

	"github.com/jpalmerr/heartbridge/internal/heartrate"
)

// EventKind names a notification emitted by the bridge.
type EventKind string

const (
	// EventConnected is emitted when the realtime channel opens.
	EventConnected EventKind = "monitor-connected"

	// EventStopped is emitted when the channel goes away for any reason,
	// including [Bridge.Disconnect].
	EventStopped EventKind = "monitor-stopped"

	// EventError carries a failure description in [Event.Message].
	EventError EventKind = "monitor-error"

	// EventHeartbeatSent is emitted after each liveness message.
	EventHeartbeatSent EventKind = "heartbeat-sent"

	// EventHeartRate carries an accepted heart-rate sample.
	EventHeartRate EventKind = "heartrate-update"
)

// String returns the string representation of the kind.
func (k EventKind) String() string {
	return string(k)
}

// Trend compares a sample with the previous accepted one.
type Trend string

const (
	TrendUnchanged Trend = "unchanged"
	TrendHigher    Trend = "higher"
	TrendLower     Trend = "lower"
)

// Event is a status or data notification.
//
// Event is a value type; callbacks may retain it freely.
type Event struct {
	// Kind identifies the notification.
	Kind EventKind

	// SessionID is the session the event belongs to.
	SessionID string

	// At is when the event was emitted.
	At time.Time

	// Message describes the failure for [EventError].
	Message string

	// HeartRate is the sample in beats per minute for [EventHeartRate].
	HeartRate int

	// Trend is the direction of change for [EventHeartRate].
	Trend Trend

	// Text is the rendered chat text for [EventHeartRate].
	Text string

	// Beat is the liveness reference sent for [EventHeartbeatSent].
	Beat int
}

// FormattingOptions controls how samples are rendered.
//
// TextTemplate may contain {heartRate} and {clock}; only the first
// occurrence of each is replaced. An empty template selects
// [DefaultTextTemplate].
type FormattingOptions struct {
	ShowTrendArrow       bool
	Use24HourClock       bool
	TextTemplate         string
	ChannelOutputEnabled bool
}

// DefaultTextTemplate is the template used when none is configured.
const DefaultTextTemplate = heartrate.DefaultTemplate

// DefaultFormatting returns the options used when none are configured:
// no trend arrow, 24-hour clock, [DefaultTextTemplate], channel output on.
func DefaultFormatting() FormattingOptions {
	return formattingFromInternal(heartrate.DefaultOptions())
}

func (f FormattingOptions) internal() heartrate.Options {
	tmpl := f.TextTemplate
	if tmpl == "" {
		tmpl = DefaultTextTemplate
	}
	return heartrate.Options{
		ShowTrendArrow:       f.ShowTrendArrow,
		Use24HourClock:       f.Use24HourClock,
		TextTemplate:         tmpl,
		ChannelOutputEnabled: f.ChannelOutputEnabled,
	}
}

func formattingFromInternal(o heartrate.Options) FormattingOptions {
	return FormattingOptions{
		ShowTrendArrow:       o.ShowTrendArrow,
		Use24HourClock:       o.Use24HourClock,
		TextTemplate:         o.TextTemplate,
		ChannelOutputEnabled: o.ChannelOutputEnabled,
	}
}

func trendFromInternal(t heartrate.Trend) Trend {
	switch t {
	case heartrate.TrendHigher:
		return TrendHigher
	case heartrate.TrendLower:
		return TrendLower
	default:
		return TrendUnchanged
	}
}
