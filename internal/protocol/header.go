// Package protocol defines the wire and reload-handoff data shapes shared
// between the daemon's connection handling and its reload coordinator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Header is the single JSON line every client connection begins with.
// Payload bytes follow immediately after the terminating newline (0x0A);
// ancillary descriptors travel with the header message itself or with a
// later one. Payload is opaque bytes, never transcoded.
type Header struct {
	// Unit is the client's claimed unit identity. Only honored when the
	// daemon trusts clients blindly and no unit was otherwise inferred.
	Unit string `json:"unit,omitempty"`

	// LogNames names, in order, the ancillary descriptors carried with (or
	// shortly after) this header. Descriptors beyond this list default to
	// the primary stream name.
	LogNames []string `json:"lognames,omitempty"`
}

// ParseHeader decodes a header frame's bytes (without the trailing
// newline). Malformed input is fatal to the connection.
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(b, &h); err != nil {
		return Header{}, fmt.Errorf("malformed header: %w", err)
	}
	return h, nil
}

// LogNameFor returns the stream name for the i'th ancillary descriptor
// received alongside a header, falling back to the primary stream name
// for positions beyond what the header declared.
func (h Header) LogNameFor(i int, primary string) string {
	if i >= 0 && i < len(h.LogNames) {
		return h.LogNames[i]
	}
	return primary
}

// ScanLine finds the first 0x0A in buf, returning the line (without the
// delimiter) and the remainder, or ok=false if no newline is present yet.
// The connection handler drives this itself rather than through
// bufio.Scanner because it must also observe ancillary data arriving
// alongside each underlying read, which bufio.Scanner cannot surface.
func ScanLine(buf []byte) (line, rest []byte, ok bool) {
	for i, b := range buf {
		if b == '\n' {
			return buf[:i], buf[i+1:], true
		}
	}
	return nil, buf, false
}
