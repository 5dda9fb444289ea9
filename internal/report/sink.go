package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"charm.land/lipgloss/v2"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/term"
)

// Format names a sink encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ErrUnknownFormat is returned by NewSink for an unsupported format.
var ErrUnknownFormat = errors.New("unknown report format")

// Sink persists records. Implementations must be safe for concurrent use.
type Sink interface {
	Write(Record) error
}

// NewSink returns the sink for format, writing to w.
func NewSink(format Format, w io.Writer) (Sink, error) {
	switch format {
	case FormatText, "":
		return NewTextSink(w), nil
	case FormatJSON:
		return NewJSONSink(w), nil
	case FormatCBOR:
		return NewCBORSink(w), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	stackStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// TextSink writes one block per record:
//
//	blocked for 203ms
//	    at blockSync (app.js:4:22)
//	    at main (app.js:9:1)
//
// Output is styled when w is a terminal.
type TextSink struct {
	mu     sync.Mutex
	w      io.Writer
	styled bool
}

// NewTextSink returns a TextSink writing to w.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w, styled: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

func (s *TextSink) Write(rec Record) error {
	var b strings.Builder
	header := fmt.Sprintf("blocked for %dms", rec.BlockageMs)
	if rec.Source != "" {
		header += " in " + rec.Source
	}
	if rec.Stack == nil {
		header += " (stack unavailable)"
	}
	if s.styled {
		header = headerStyle.Render(header)
	}
	b.WriteString(header)
	b.WriteByte('\n')
	if rec.Stack != nil && *rec.Stack != "" {
		stack := *rec.Stack
		if s.styled {
			stack = stackStyle.Render(stack)
		}
		b.WriteString(stack)
		b.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, b.String())
	return err
}

// JSONSink writes JSON lines.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink returns a JSONSink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

func (s *JSONSink) Write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

// encMode is Core Deterministic Encoding (RFC 8949 §4.2), keeping
// sub-second precision for timestamps.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("report: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("report: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORSink writes a CBOR sequence (RFC 8742), one item per record.
type CBORSink struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewCBORSink returns a CBORSink writing to w.
func NewCBORSink(w io.Writer) *CBORSink {
	return &CBORSink{enc: encMode.NewEncoder(w)}
}

func (s *CBORSink) Write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

// ReadCBOR decodes every record of a CBOR sequence written by CBORSink.
func ReadCBOR(r io.Reader) ([]Record, error) {
	dec := decMode.NewDecoder(r)
	var records []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}
