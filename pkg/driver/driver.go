// Package driver defines the contract between the resilient client and the
// database drivers it manages. An adapter owns exactly one physical
// connection per handle; the client replaces whole handles, it never repairs
// one in place.
package driver

import (
	"context"
	"database/sql"
)

// SessionConfig carries session-level settings from a retiring connection to
// its replacement. Keys are driver-specific variable names; values are the
// raw textual values the server reported.
type SessionConfig map[string]string

// Clone returns an independent copy of the configuration.
func (c SessionConfig) Clone() SessionConfig {
	if c == nil {
		return nil
	}
	out := make(SessionConfig, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Rows is the subset of *sql.Rows the resilient client consumes. *sql.Rows
// and *sqlx.Rows satisfy it directly.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Conn is a single established database connection. Implementations must pin
// one physical connection for the lifetime of the handle so that session
// state set through ApplySessionConfig survives until the handle is closed.
type Conn interface {
	// QueryContext runs a statement that returns rows.
	QueryContext(ctx context.Context, query string, args ...interface{}) (Rows, error)

	// ExecContext runs a statement that returns no rows.
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

	// PingContext verifies the connection is alive.
	PingContext(ctx context.Context) error

	// SessionConfig reads the current values of the session variables this
	// adapter is configured to carry across reconnects.
	SessionConfig(ctx context.Context) (SessionConfig, error)

	// ApplySessionConfig restores previously captured session variables.
	ApplySessionConfig(ctx context.Context, cfg SessionConfig) error

	// Closed reports whether Close has been called on this handle.
	Closed() bool

	// Close releases the physical connection. Callers treat close failures
	// as non-events; a broken handle being torn down must never surface an
	// error of its own.
	Close() error

	// ID returns a stable identifier for this handle, used in diagnostics.
	ID() string
}

// Connector produces connections to a fixed endpoint. One Connector backs one
// resilient client; every reconnect goes through the same Connector with the
// same options, so a DNS flip behind the endpoint is picked up naturally.
type Connector interface {
	// Connect establishes a new connection.
	Connect(ctx context.Context) (Conn, error)

	// Driver returns the adapter name ("mysql", "postgres") for diagnostics.
	Driver() string

	// WritableQuery returns the dialect statement that reports the
	// endpoint's read-only status variable, with any placeholder arguments.
	// The resilient client executes it after a read-only failover and
	// expects the last column of the first row to be "OFF" (case
	// insensitive) on a writable primary.
	WritableQuery() (query string, args []interface{})
}
