package core

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMediaType is reported for empty or unrecognised content.
const DefaultMediaType = "application/octet-stream"

// Sniffer derives a media type from file content. Client supplied types are
// never consulted.
type Sniffer interface {
	Sniff(data []byte) string
}

// MIMESniffer detects types from magic signatures.
type MIMESniffer struct{}

var _ Sniffer = MIMESniffer{}

// Sniff returns the bare media type of data without parameters.
func (MIMESniffer) Sniff(data []byte) string {
	if len(data) == 0 {
		return DefaultMediaType
	}
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	mt = strings.ToLower(strings.TrimSpace(mt))
	if mt == "" {
		return DefaultMediaType
	}
	return mt
}

// SnifferFunc adapts a function to Sniffer.
type SnifferFunc func([]byte) string

func (f SnifferFunc) Sniff(data []byte) string { return f(data) }
