package tracer

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
)

// Serializer encodes one trace entry into a byte payload.  The
// dispatcher serializes entries one at a time under its serializer
// mutex, so implementations need no internal locking.
type Serializer interface {
	Serialize(entry *TraceEntry) ([]byte, error)
}

// XMLSerializer produces the normative wire format: one
// `<traceentry>` element per entry, framed on the wire by the
// literal `<traceentry ` prefix of the next entry.  Timestamps are
// truncated to whole Unix seconds.
type XMLSerializer struct{}

func NewXMLSerializer() *XMLSerializer { return &XMLSerializer{} }

func (s *XMLSerializer) Serialize(entry *TraceEntry) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, `<traceentry pid="%d" tid="%d" time="%d">`,
		entry.ProcessID, entry.ThreadID, entry.Timestamp.Unix())

	writeTextElement(&buf, "processname", entry.ProcessName)

	tp := entry.TracePoint
	writeTextElement(&buf, "verbosity", strconv.Itoa(tp.Verbosity))
	writeTextElement(&buf, "type", strconv.Itoa(int(tp.Type)))

	fmt.Fprintf(&buf, `<location lineno="%d">`, tp.Line)
	xmlEscape(&buf, tp.SourceFile)
	buf.WriteString("</location>")

	writeTextElement(&buf, "function", tp.Function)
	writeTextElement(&buf, "message", entry.Message)

	if len(entry.Variables) > 0 {
		buf.WriteString("<variables>")
		for _, v := range entry.Variables {
			fmt.Fprintf(&buf, `<variable name="%s" type="%s">`,
				xmlEscaped(v.Name), v.Type.String())
			xmlEscape(&buf, v.Value)
			buf.WriteString("</variable>")
		}
		buf.WriteString("</variables>")
	}

	if len(entry.Backtrace) > 0 {
		buf.WriteString("<backtrace>")
		for _, frame := range entry.Backtrace {
			buf.WriteString("<frame>")
			writeTextElement(&buf, "module", frame.Module)
			fmt.Fprintf(&buf, `<function offset="%d">`, frame.FunctionOffset)
			xmlEscape(&buf, frame.Function)
			buf.WriteString("</function>")
			fmt.Fprintf(&buf, `<location lineno="%d">`, frame.LineNumber)
			xmlEscape(&buf, frame.SourceFile)
			buf.WriteString("</location>")
			buf.WriteString("</frame>")
		}
		buf.WriteString("</backtrace>")
	}

	buf.WriteString("</traceentry>")
	return buf.Bytes(), nil
}

func writeTextElement(buf *bytes.Buffer, name, text string) {
	buf.WriteByte('<')
	buf.WriteString(name)
	buf.WriteByte('>')
	xmlEscape(buf, text)
	buf.WriteString("</")
	buf.WriteString(name)
	buf.WriteByte('>')
}

func xmlEscape(buf *bytes.Buffer, s string) {
	// EscapeText only fails on writer errors, which bytes.Buffer
	// never produces.
	_ = xml.EscapeText(buf, []byte(s))
}

func xmlEscaped(s string) string {
	var buf bytes.Buffer
	xmlEscape(&buf, s)
	return buf.String()
}

// PlaintextSerializer renders entries in the human-readable form
//
//	03.09.2010 16:00:56: Process 2524 [started at 03.09.2010 16:00:56] (Thread 468): [LOG] 'main() entered' hello.cpp:8: int main()
//
// intended for the stdout and file sinks.
type PlaintextSerializer struct{}

func NewPlaintextSerializer() *PlaintextSerializer { return &PlaintextSerializer{} }

const plaintextTimeFormat = "02.01.2006 15:04:05"

func (s *PlaintextSerializer) Serialize(entry *TraceEntry) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s: Process %d [started at %s] (Thread %d): [%s]",
		entry.Timestamp.Format(plaintextTimeFormat),
		entry.ProcessID,
		entry.ProcessStartTime.Format(plaintextTimeFormat),
		entry.ThreadID,
		typeTag(entry.TracePoint.Type))

	if entry.Message != "" {
		fmt.Fprintf(&buf, " '%s'", entry.Message)
	}

	fmt.Fprintf(&buf, " %s:%d: %s",
		entry.TracePoint.SourceFile, entry.TracePoint.Line, entry.TracePoint.Function)

	for _, v := range entry.Variables {
		fmt.Fprintf(&buf, "\n  %s (%s) = %s", v.Name, v.Type.String(), v.Value)
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func typeTag(t TracePointType) string {
	switch t {
	case TracePointError:
		return "ERROR"
	case TracePointDebug:
		return "DEBUG"
	case TracePointLog:
		return "LOG"
	case TracePointWatch:
		return "WATCH"
	default:
		return "NONE"
	}
}
