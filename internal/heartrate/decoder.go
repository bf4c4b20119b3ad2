package heartrate

// Trend classifies a sample relative to the previously accepted sample.
type Trend int

const (
	// TrendUnchanged means the sample equals the previous accepted sample.
	TrendUnchanged Trend = iota

	// TrendHigher means the sample is above the previous accepted sample.
	TrendHigher

	// TrendLower means the sample is below the previous accepted sample.
	TrendLower
)

// String returns the lowercase trend name used in events and JSON.
func (t Trend) String() string {
	switch t {
	case TrendHigher:
		return "higher"
	case TrendLower:
		return "lower"
	default:
		return "unchanged"
	}
}

// Sample is an accepted heart-rate reading.
type Sample struct {
	// BPM is the heart rate in beats per minute. Always positive.
	BPM int

	// Trend compares BPM with the previously accepted sample.
	Trend Trend
}

// Decoder accepts raw heart-rate values and tracks the previous accepted one.
//
// The previous value is monitor state, not connection state: callers keep a
// single Decoder for the lifetime of the monitor and never reset it on
// reconnect. The zero value is ready to use and treats the first sample as
// higher than the (implicit) previous value of 0.
type Decoder struct {
	previous int
}

// Accept processes a raw value.
//
// A value of exactly zero is noise: it returns ok=false and leaves the
// previous value untouched. Negative values are rejected the same way since
// they cannot be a heart rate.
func (d *Decoder) Accept(v int) (Sample, bool) {
	if v <= 0 {
		return Sample{}, false
	}

	s := Sample{BPM: v, Trend: TrendUnchanged}
	switch {
	case v > d.previous:
		s.Trend = TrendHigher
	case v < d.previous:
		s.Trend = TrendLower
	}

	d.previous = v
	return s, true
}

// Previous returns the last accepted value, or 0 if none was accepted yet.
func (d *Decoder) Previous() int {
	return d.previous
}
