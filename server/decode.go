package server

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/froglogic/tracer"
)

// DecodeError reports a trace entry slice that could not be
// parsed.  One bad slice never aborts the connection or the batch
// it arrived in.
type DecodeError struct {
	SubErr error
}

func NewDecodeError(err error) error {
	return &DecodeError{SubErr: err}
}

func (e *DecodeError) Error() string {
	if e.SubErr != nil {
		return fmt.Sprintf("cannot decode trace entry: '%s'", e.SubErr.Error())
	}
	return "cannot decode trace entry"
}

func (e *DecodeError) Unwrap() error { return e.SubErr }

// Wire representation of one `<traceentry>` element.

type xmlTraceEntry struct {
	XMLName     xml.Name       `xml:"traceentry"`
	PID         uint32         `xml:"pid,attr"`
	TID         uint32         `xml:"tid,attr"`
	Time        int64          `xml:"time,attr"`
	ProcessName string         `xml:"processname"`
	Verbosity   int            `xml:"verbosity"`
	Type        int            `xml:"type"`
	Location    xmlLocation    `xml:"location"`
	Function    string         `xml:"function"`
	Message     string         `xml:"message"`
	Variables   []xmlVariable  `xml:"variables>variable"`
	Frames      []xmlFrame     `xml:"backtrace>frame"`
}

type xmlLocation struct {
	LineNo int    `xml:"lineno,attr"`
	Path   string `xml:",chardata"`
}

type xmlVariable struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type xmlFrame struct {
	Module   string           `xml:"module"`
	Function xmlFrameFunction `xml:"function"`
	Location xmlLocation      `xml:"location"`
}

type xmlFrameFunction struct {
	Offset uint64 `xml:"offset,attr"`
	Name   string `xml:",chardata"`
}

// DecodeEntry parses one framed slice into an Entry.  Missing
// optional elements decode to their zero values; unknown variable
// type names decode as plain strings.  Trailing bytes after the
// closing tag (the start of a partially received next entry) are
// ignored.
func DecodeEntry(data []byte) (*Entry, error) {
	var wire xmlTraceEntry
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&wire); err != nil {
		return nil, NewDecodeError(err)
	}
	return entryFromWire(&wire), nil
}

func entryFromWire(wire *xmlTraceEntry) *Entry {
	e := &Entry{
		PID:         wire.PID,
		TID:         wire.TID,
		Timestamp:   time.Unix(wire.Time, 0).UTC(),
		ProcessName: wire.ProcessName,
		Verbosity:   wire.Verbosity,
		Type:        tracer.TracePointType(wire.Type),
		Path:        wire.Location.Path,
		LineNo:      wire.Location.LineNo,
		Function:    wire.Function,
		Message:     wire.Message,
	}

	for _, v := range wire.Variables {
		e.Variables = append(e.Variables, Variable{
			Name:  v.Name,
			Type:  variableTypeByWireName(v.Type),
			Value: v.Value,
		})
	}

	for _, f := range wire.Frames {
		e.Backtrace = append(e.Backtrace, StackFrame{
			Module:         f.Module,
			Function:       f.Function.Name,
			FunctionOffset: f.Function.Offset,
			SourceFile:     f.Location.Path,
			LineNumber:     f.Location.LineNo,
		})
	}

	return e
}

func variableTypeByWireName(name string) tracer.VariableType {
	switch strings.ToLower(name) {
	case "integer":
		return tracer.VariableTypeInteger
	case "float":
		return tracer.VariableTypeFloat
	case "boolean":
		return tracer.VariableTypeBoolean
	default:
		// Unknown producer-side types degrade to an opaque
		// string.
		return tracer.VariableTypeString
	}
}
