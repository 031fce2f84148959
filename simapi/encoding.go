package simapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	encModeOnce sync.Once
	encMode     cbor.EncMode
	encModeErr  error
)

// canonicalEncMode returns the deterministic CBOR encoder shared by summaries
// and event streams. Map keys are sorted and floats use their shortest form.
func canonicalEncMode() (cbor.EncMode, error) {
	encModeOnce.Do(func() {
		opts := cbor.CoreDetEncOptions()
		opts.Time = cbor.TimeRFC3339Nano
		encMode, encModeErr = opts.EncMode()
	})
	return encMode, encModeErr
}

// MarshalCanonical encodes the summary as deterministic CBOR. Equal summaries
// always produce identical bytes.
func (s *RunSummary) MarshalCanonical() ([]byte, error) {
	em, err := canonicalEncMode()
	if err != nil {
		return nil, fmt.Errorf("create CBOR encoder: %w", err)
	}
	data, err := em.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal run summary: %w", err)
	}
	return data, nil
}

// UnmarshalRunSummary decodes a CBOR run summary and checks its type tag.
func UnmarshalRunSummary(data []byte) (*RunSummary, error) {
	var s RunSummary
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse run summary: %w", err)
	}
	if s.Type != RunSummaryType {
		return nil, fmt.Errorf("unexpected payload type %q", s.Type)
	}
	return &s, nil
}

// EventFormat names an event stream encoding.
type EventFormat string

const (
	FormatCBOR  EventFormat = "cbor"
	FormatJSONL EventFormat = "jsonl"
)

// ParseEventFormat accepts "cbor" or "jsonl" in any case.
func ParseEventFormat(s string) (EventFormat, error) {
	switch f := EventFormat(strings.ToLower(s)); f {
	case FormatCBOR, FormatJSONL:
		return f, nil
	default:
		return "", fmt.Errorf("unknown event format %q (want cbor or jsonl)", s)
	}
}

// EventWriter appends impression events to a stream.
type EventWriter interface {
	WriteEvent(e ImpressionEvent) error
	Flush() error
}

// NewEventWriter returns a buffered writer for format over w.
func NewEventWriter(w io.Writer, format EventFormat) (EventWriter, error) {
	buf := bufio.NewWriter(w)
	switch format {
	case FormatCBOR:
		em, err := canonicalEncMode()
		if err != nil {
			return nil, fmt.Errorf("create CBOR encoder: %w", err)
		}
		return &cborEventWriter{buf: buf, enc: em.NewEncoder(buf)}, nil
	case FormatJSONL:
		return &jsonlEventWriter{buf: buf, enc: json.NewEncoder(buf)}, nil
	default:
		return nil, fmt.Errorf("unknown event format %q", format)
	}
}

// cborEventWriter writes a CBOR sequence, one data item per event.
type cborEventWriter struct {
	buf *bufio.Writer
	enc *cbor.Encoder
}

func (w *cborEventWriter) WriteEvent(e ImpressionEvent) error {
	if err := w.enc.Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func (w *cborEventWriter) Flush() error {
	return w.buf.Flush()
}

// jsonlEventWriter writes one JSON object per line.
type jsonlEventWriter struct {
	buf *bufio.Writer
	enc *json.Encoder
}

func (w *jsonlEventWriter) WriteEvent(e ImpressionEvent) error {
	if err := w.enc.Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func (w *jsonlEventWriter) Flush() error {
	return w.buf.Flush()
}

// ReadEvents decodes a whole event stream written by NewEventWriter.
func ReadEvents(r io.Reader, format EventFormat) ([]ImpressionEvent, error) {
	var next func(*ImpressionEvent) error
	switch format {
	case FormatCBOR:
		dec := cbor.NewDecoder(r)
		next = func(e *ImpressionEvent) error { return dec.Decode(e) }
	case FormatJSONL:
		dec := json.NewDecoder(r)
		next = func(e *ImpressionEvent) error { return dec.Decode(e) }
	default:
		return nil, fmt.Errorf("unknown event format %q", format)
	}

	var events []ImpressionEvent
	for {
		var e ImpressionEvent
		err := next(&e)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode event %d: %w", len(events), err)
		}
		events = append(events, e)
	}
}
