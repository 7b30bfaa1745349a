package server

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// toplevelElement wraps a raw XML trace log so that a file holding
// back-to-back `<traceentry>` elements parses as one document.
// The daemon's TCP framer makes the same shape implicit; the
// importer has the whole log up front and can lean on the XML
// parser instead.
const (
	toplevelOpen  = "<toplevel_trace_element>"
	toplevelClose = "</toplevel_trace_element>"
)

// ImportXML streams a concatenated XML trace log into the feeder.
// The reader's content is wrapped in the top-level convenience
// element and decoded entry by entry, so arbitrarily large logs
// import in constant memory.  onEntry, when non-nil, runs after
// each stored entry.
//
// A malformed entry element aborts the import with a DecodeError;
// unlike the lossy TCP path, a file import is expected to be
// complete or fail loudly.
func ImportXML(r io.Reader, feeder *DatabaseFeeder, onEntry func(*Entry)) error {
	wrapped := io.MultiReader(
		strings.NewReader(toplevelOpen),
		r,
		strings.NewReader(toplevelClose),
	)

	dec := xml.NewDecoder(wrapped)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return NewDecodeError(err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "toplevel_trace_element":
			continue
		case "traceentry":
			var wire xmlTraceEntry
			if err := dec.DecodeElement(&wire, &start); err != nil {
				return NewDecodeError(err)
			}
			entry := entryFromWire(&wire)
			if err := feeder.Feed(entry); err != nil {
				return err
			}
			if onEntry != nil {
				onEntry(entry)
			}
		default:
			return NewDecodeError(fmt.Errorf("unexpected element '%s'", start.Name.Local))
		}
	}
}
