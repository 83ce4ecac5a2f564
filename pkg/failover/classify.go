package failover

import (
	"strings"
)

// Class is the failover classification of a query error
type Class int

const (
	// ClassFatal covers errors that no reconnect can repair; they propagate
	// immediately (syntax errors, constraint violations, permissions).
	ClassFatal Class = iota
	// ClassReadOnlyFailover marks a write rejected by a node that is not
	// currently the writable primary.
	ClassReadOnlyFailover
	// ClassConnectionLost marks a network or availability failure.
	ClassConnectionLost
)

// String returns the class name used in logs and metrics
func (c Class) String() string {
	switch c {
	case ClassReadOnlyFailover:
		return "read_only_failover"
	case ClassConnectionLost:
		return "connection_lost"
	default:
		return "fatal"
	}
}

// Transient reports whether the class triggers the reconnection protocol
func (c Class) Transient() bool {
	return c == ClassReadOnlyFailover || c == ClassConnectionLost
}

// DefaultReadOnlyMarkers are the substrings that identify a rejected write
// against a read-only replica. Matching is case-insensitive, so these also
// cover messages like "The MySQL server is running with the --read-only
// option" and "READ ONLY transaction".
var DefaultReadOnlyMarkers = []string{
	"read-only",
	"read only",
}

// DefaultConnectionLostMarkers are the substrings that identify a dropped or
// unreachable connection. Adapters publish extended lists covering the
// messages their driver actually produces.
var DefaultConnectionLostMarkers = []string{
	"not connected",
	"lost connection",
	"can't connect",
	"shutdown in progress",
}

// Classifier maps an error's message text to a Class. Classification is
// total: every non-nil error yields exactly one class.
type Classifier struct {
	readOnly []string
	connLost []string
}

// NewClassifier builds a classifier from marker lists. A nil or empty list
// falls back to the package defaults. Markers are matched case-insensitively.
func NewClassifier(readOnlyMarkers, connectionLostMarkers []string) *Classifier {
	if len(readOnlyMarkers) == 0 {
		readOnlyMarkers = DefaultReadOnlyMarkers
	}
	if len(connectionLostMarkers) == 0 {
		connectionLostMarkers = DefaultConnectionLostMarkers
	}

	return &Classifier{
		readOnly: lowerAll(readOnlyMarkers),
		connLost: lowerAll(connectionLostMarkers),
	}
}

// DefaultClassifier returns a classifier with the package default markers
func DefaultClassifier() *Classifier {
	return NewClassifier(nil, nil)
}

// Classify returns the class of err. Read-only markers are checked first:
// a message matching both lists classifies as a read-only failover, because
// the node answering with a rejection is reachable and the write-rejection
// is the condition worth verifying.
func (c *Classifier) Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}

	msg := strings.ToLower(err.Error())

	for _, marker := range c.readOnly {
		if strings.Contains(msg, marker) {
			return ClassReadOnlyFailover
		}
	}

	for _, marker := range c.connLost {
		if strings.Contains(msg, marker) {
			return ClassConnectionLost
		}
	}

	return ClassFatal
}

func lowerAll(markers []string) []string {
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}
