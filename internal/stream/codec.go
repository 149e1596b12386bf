package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
)

const dataPrefix = "data:"

// Encode renders ev as one wire frame: "data: <json>\n\n".
func Encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	frame := make([]byte, 0, len(dataPrefix)+1+len(body)+2)
	frame = append(frame, dataPrefix...)
	frame = append(frame, ' ')
	frame = append(frame, body...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// Decoder incrementally parses frames from chunks split at arbitrary
// points. It is not safe for concurrent use.
type Decoder struct {
	buf       []byte
	logger    *slog.Logger
	malformed int
}

// NewDecoder creates a decoder that logs skipped frames to logger.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Push appends chunk and returns every event completed by it. Any trailing
// partial frame stays buffered for the next call.
func (d *Decoder) Push(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)

	var out []Event
	start := 0
	for {
		end, sep := frameEnd(d.buf[start:])
		if end < 0 {
			break
		}
		if ev, ok := d.parse(d.buf[start : start+end]); ok {
			out = append(out, ev)
		}
		start += end + sep
	}
	if start > 0 {
		d.buf = append(d.buf[:0], d.buf[start:]...)
	}
	return out
}

// Flush parses whatever remains buffered as a final frame, even without
// its terminating blank line, and resets the decoder.
func (d *Decoder) Flush() []Event {
	rest := bytes.TrimSpace(d.buf)
	d.buf = d.buf[:0]
	if len(rest) == 0 {
		return nil
	}
	if ev, ok := d.parse(rest); ok {
		return []Event{ev}
	}
	return nil
}

// Malformed returns how many frames were skipped as unparseable.
func (d *Decoder) Malformed() int { return d.malformed }

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

// frameEnd locates the first blank-line terminator, returning the frame
// length and separator length, or -1.
func frameEnd(b []byte) (int, int) {
	lf := bytes.Index(b, []byte("\n\n"))
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

func (d *Decoder) parse(frame []byte) (Event, bool) {
	var data [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, []byte(dataPrefix)) {
			// event:, id:, retry: and ": comment" lines carry nothing we use.
			continue
		}
		v := line[len(dataPrefix):]
		v = bytes.TrimPrefix(v, []byte(" "))
		data = append(data, v)
	}
	if len(data) == 0 {
		return Event{}, false
	}

	var ev Event
	if err := json.Unmarshal(bytes.Join(data, []byte("\n")), &ev); err != nil {
		d.skip("invalid json", frame, err)
		return Event{}, false
	}
	if !ev.Type.Valid() {
		d.skip("unknown event type", frame, fmt.Errorf("type %q", ev.Type))
		return Event{}, false
	}
	return ev, true
}

func (d *Decoder) skip(reason string, frame []byte, err error) {
	d.malformed++
	preview := frame
	if len(preview) > 120 {
		preview = preview[:120]
	}
	d.logger.Warn("Skipping malformed stream frame",
		"reason", reason,
		"error", err,
		"frame", string(preview),
	)
}
