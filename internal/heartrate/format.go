package heartrate

import (
	"strconv"
	"strings"
	"time"
)

const (
	// PlaceholderHeartRate is replaced with the sample value (and trend glyph).
	PlaceholderHeartRate = "{heartRate}"

	// PlaceholderClock is replaced with the current wall-clock time.
	PlaceholderClock = "{clock}"

	// DefaultTemplate is used when no template is configured.
	DefaultTemplate = "❤❤❤ {heartRate} {clock}"

	arrowUp   = "⬆️"
	arrowDown = "⬇️"

	clock24h = "15:04"
	clock12h = "3:04 PM"
)

// Options controls how samples are rendered.
//
// Options is an immutable snapshot: callers replace it wholesale rather than
// mutating fields of a shared value.
type Options struct {
	ShowTrendArrow       bool
	Use24HourClock       bool
	TextTemplate         string
	ChannelOutputEnabled bool
}

// DefaultOptions returns the options used when the caller supplies none.
func DefaultOptions() Options {
	return Options{
		ShowTrendArrow:       false,
		Use24HourClock:       true,
		TextTemplate:         DefaultTemplate,
		ChannelOutputEnabled: true,
	}
}

// RenderText fills the text template for a sample.
//
// Only the first occurrence of each placeholder is substituted; a second
// {heartRate} or {clock} stays literal.
func RenderText(opts Options, s Sample, now time.Time) string {
	hr := strconv.Itoa(s.BPM)
	if opts.ShowTrendArrow {
		switch s.Trend {
		case TrendHigher:
			hr += arrowUp
		case TrendLower:
			hr += arrowDown
		}
	}

	layout := clock12h
	if opts.Use24HourClock {
		layout = clock24h
	}

	text := strings.Replace(opts.TextTemplate, PlaceholderHeartRate, hr, 1)
	return strings.Replace(text, PlaceholderClock, now.Format(layout), 1)
}

// ChannelValues is the avatar-parameter encoding of a heart rate.
//
// The receiving protocol only carries continuous floats, so each decimal
// digit of the BPM is sent as digit/10 on its own channel.
type ChannelValues struct {
	Enabled  bool
	Units    float32
	Tens     float32
	Hundreds float32
}

// RenderChannels encodes the last three decimal digits of bpm.
func RenderChannels(bpm int) ChannelValues {
	return ChannelValues{
		Enabled:  true,
		Units:    float32(bpm%10) / 10,
		Tens:     float32((bpm%100)/10) / 10,
		Hundreds: float32((bpm%1000)/100) / 10,
	}
}
