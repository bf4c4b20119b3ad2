package hyperate

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Frame events the bridge understands. Anything else is ignored.
const (
	EventReply     = "phx_reply"
	EventDiff      = "diff"
	EventJoin      = "phx_join"
	EventHeartbeat = "heartbeat"

	heartRateEntry = "new-heartbeat"
	phoenixTopic   = "phoenix"
	joinRef        = "4"
)

// Frame is one LiveView message: [joinRef, messageRef, topic, event, body].
type Frame struct {
	JoinRef    *string
	MessageRef *string
	Topic      string
	Event      string
	Body       json.RawMessage
}

// MarshalJSON encodes the frame as a 5-element positional array.
func (f Frame) MarshalJSON() ([]byte, error) {
	body := f.Body
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	return json.Marshal([]any{f.JoinRef, f.MessageRef, f.Topic, f.Event, body})
}

// UnmarshalJSON decodes a 5-element positional array.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 5 {
		return fmt.Errorf("frame has %d elements, want 5", len(parts))
	}

	var out Frame
	if err := json.Unmarshal(parts[0], &out.JoinRef); err != nil {
		return fmt.Errorf("join ref: %w", err)
	}
	if err := json.Unmarshal(parts[1], &out.MessageRef); err != nil {
		return fmt.Errorf("message ref: %w", err)
	}
	if err := json.Unmarshal(parts[2], &out.Topic); err != nil {
		return fmt.Errorf("topic: %w", err)
	}
	if err := json.Unmarshal(parts[3], &out.Event); err != nil {
		return fmt.Errorf("event: %w", err)
	}
	out.Body = parts[4]

	*f = out
	return nil
}

// DecodeFrame parses a raw text message.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// HeartRates returns the samples carried by a diff frame's "new-heartbeat"
// entries, in order. Entries whose value is not a non-negative integer are
// skipped, as are frames of any other event.
//
// The body shape is {"e": [["new-heartbeat", {"heartbeat": 72}], ...]}.
func (f Frame) HeartRates() []int {
	if f.Event != EventDiff {
		return nil
	}

	var body struct {
		E []json.RawMessage `json:"e"`
	}
	if err := json.Unmarshal(f.Body, &body); err != nil {
		return nil
	}

	var rates []int
	for _, raw := range body.E {
		var entry []json.RawMessage
		if err := json.Unmarshal(raw, &entry); err != nil || len(entry) < 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(entry[0], &name); err != nil || name != heartRateEntry {
			continue
		}
		var payload struct {
			Heartbeat *float64 `json:"heartbeat"`
		}
		if err := json.Unmarshal(entry[1], &payload); err != nil || payload.Heartbeat == nil {
			continue
		}
		v := *payload.Heartbeat
		if v < 0 || v != float64(int(v)) {
			continue
		}
		rates = append(rates, int(v))
	}

	return rates
}

// JoinPayload is the body of the handshake frame.
type JoinPayload struct {
	Params  JoinParams `json:"params"`
	Session string     `json:"session"`
	Static  string     `json:"static"`
	URL     string     `json:"url"`
}

// JoinParams carries the CSRF token back to the server.
type JoinParams struct {
	CSRFToken string `json:"_csrf_token"`
	Mounts    int    `json:"_mounts"`
}

// JoinFrame builds the handshake frame for a monitor's LiveView.
func JoinFrame(tokens Tokens, pageURL string) (Frame, error) {
	body, err := json.Marshal(JoinPayload{
		Params:  JoinParams{CSRFToken: tokens.CSRFToken, Mounts: 0},
		Session: tokens.SessionBlob,
		Static:  tokens.StaticBlob,
		URL:     pageURL,
	})
	if err != nil {
		return Frame{}, err
	}

	ref := joinRef
	return Frame{
		JoinRef:    &ref,
		MessageRef: &ref,
		Topic:      "lv:" + tokens.RootElementID,
		Event:      EventJoin,
		Body:       body,
	}, nil
}

// HeartbeatFrame builds the liveness frame for the given beat counter.
func HeartbeatFrame(beat int) Frame {
	ref := strconv.Itoa(beat)
	return Frame{
		MessageRef: &ref,
		Topic:      phoenixTopic,
		Event:      EventHeartbeat,
		Body:       json.RawMessage("{}"),
	}
}
