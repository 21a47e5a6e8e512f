/*
PURPOSE:
  Incrementally decodes server-sent-event byte streams from LLM providers
  into JSON payloads.

REQUIREMENTS:
  User-specified:
  - Two framings: generic "data:" frames ending in [DONE], and typed
    "event:"/"data:" frames (content deltas forwarded, message end terminates).
  - Garbage resilience: malformed payloads are skipped, never fatal.

  Implementation-discovered:
  - Network reads split frames at arbitrary byte offsets; the buffer must
    survive across reads.
  - Some servers frame with CRLF.
  - Done must fire exactly once, even on read errors or abrupt close.

ARCHITECTURE INTEGRATION:
  - Called by: internal/provider
  - Uses: nothing internal.

ERROR HANDLING:
  - Malformed JSON: counted in Skipped(), decoding continues.
  - Read errors: returned from Decode after onDone fires.

IMPLEMENTATION RULES:
  - No goroutines; the caller owns the read loop.
  - Payloads handed to onData are copies.

USAGE:
  summary, err := sse.Decode(resp.Body, sse.Generic, onData, onDone)

SELF-HEALING INSTRUCTIONS:
  - If a provider adds a new terminal event type, add it to endEvents.

RELATED FILES:
  - internal/provider/openai.go
  - internal/provider/anthropic.go

MAINTENANCE:
  - Keep in sync with provider wire formats.
*/

package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Framing selects how frames are interpreted.
type Framing int

const (
	// Generic frames carry "data:" lines; "[DONE]" ends the stream.
	Generic Framing = iota
	// TypedEvent frames carry an "event:" line; only content deltas are forwarded.
	TypedEvent
)

func (f Framing) String() string {
	switch f {
	case Generic:
		return "generic"
	case TypedEvent:
		return "typed-event"
	default:
		return "unknown"
	}
}

const (
	doneSentinel = "[DONE]"
	deltaEvent   = "content_block_delta"
	readSize     = 4096
)

var endEvents = map[string]bool{
	"message_delta": true,
	"message_stop":  true,
}

// Decoder holds partial-frame state between reads.
type Decoder struct {
	framing  Framing
	buf      []byte
	onData   func(json.RawMessage)
	onDone   func()
	finished bool
	skipped  int
}

// NewDecoder creates a Decoder. Either callback may be nil.
func NewDecoder(framing Framing, onData func(json.RawMessage), onDone func()) *Decoder {
	return &Decoder{
		framing: framing,
		onData:  onData,
		onDone:  onDone,
	}
}

// Feed appends p to the buffer and dispatches every complete frame.
// It returns true once the end-of-stream marker has been seen; further
// input is ignored after that.
func (d *Decoder) Feed(p []byte) bool {
	if d.finished {
		return true
	}
	d.buf = append(d.buf, p...)

	rest := d.buf
	for {
		frame, remaining, ok := nextFrame(rest)
		if !ok {
			break
		}
		rest = remaining
		if d.dispatch(frame) {
			d.finish()
			d.buf = nil
			return true
		}
	}
	d.buf = append([]byte(nil), rest...)
	return false
}

// Close finalizes the stream. onDone fires if it has not already.
func (d *Decoder) Close() {
	d.finish()
	d.buf = nil
}

// Finished reports whether onDone has fired.
func (d *Decoder) Finished() bool {
	return d.finished
}

// Skipped returns the number of malformed payloads dropped so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

func (d *Decoder) finish() {
	if d.finished {
		return
	}
	d.finished = true
	if d.onDone != nil {
		d.onDone()
	}
}

// dispatch handles one frame and reports whether it ended the stream.
func (d *Decoder) dispatch(frame []byte) bool {
	if d.framing == TypedEvent {
		return d.dispatchTyped(frame)
	}
	return d.dispatchGeneric(frame)
}

func (d *Decoder) dispatchGeneric(frame []byte) bool {
	for _, line := range splitLines(frame) {
		payload, ok := field(line, "data:")
		if !ok {
			continue
		}
		if string(payload) == doneSentinel {
			return true
		}
		d.forward(payload)
	}
	return false
}

func (d *Decoder) dispatchTyped(frame []byte) bool {
	var eventType string
	var data [][]byte
	for _, line := range splitLines(frame) {
		if v, ok := field(line, "event:"); ok {
			eventType = string(v)
		} else if v, ok := field(line, "data:"); ok {
			data = append(data, v)
		}
	}

	switch {
	case len(data) > 0 && eventType == deltaEvent:
		d.forward(bytes.Join(data, []byte("\n")))
	case endEvents[eventType]:
		return true
	}
	return false
}

func (d *Decoder) forward(payload []byte) {
	if len(payload) == 0 || !json.Valid(payload) {
		d.skipped++
		return
	}
	if d.onData != nil {
		d.onData(json.RawMessage(append([]byte(nil), payload...)))
	}
}

// nextFrame splits off the first blank-line-delimited frame.
func nextFrame(buf []byte) (frame, rest []byte, ok bool) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))

	switch {
	case lf < 0 && crlf < 0:
		return nil, buf, false
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return buf[:crlf], buf[crlf+4:], true
	default:
		return buf[:lf], buf[lf+2:], true
	}
}

func splitLines(frame []byte) [][]byte {
	lines := bytes.Split(frame, []byte("\n"))
	for i, l := range lines {
		lines[i] = bytes.TrimSuffix(l, []byte("\r"))
	}
	return lines
}

func field(line []byte, name string) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte(name)) {
		return nil, false
	}
	return bytes.TrimSpace(line[len(name):]), true
}

// Summary describes how a decoded stream ended.
type Summary struct {
	// Skipped counts malformed payloads that were dropped.
	Skipped int
	// EndMarker is true when the stream ended with an explicit terminator
	// rather than EOF or a read error.
	EndMarker bool
}

// Decode reads r until the end marker, EOF, or a read error, feeding a
// Decoder. onDone fires exactly once in every case. A clean EOF without an
// end marker is not an error.
func Decode(r io.Reader, framing Framing, onData func(json.RawMessage), onDone func()) (Summary, error) {
	d := NewDecoder(framing, onData, onDone)
	defer d.Close()

	buf := make([]byte, readSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 && d.Feed(buf[:n]) {
			return Summary{Skipped: d.Skipped(), EndMarker: true}, nil
		}
		if errors.Is(readErr, io.EOF) {
			return Summary{Skipped: d.Skipped()}, nil
		}
		if readErr != nil {
			return Summary{Skipped: d.Skipped()}, readErr
		}
	}
}
