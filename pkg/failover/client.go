package failover

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/steadydb/failover/pkg/driver"
	"github.com/steadydb/failover/pkg/errors"
	"github.com/steadydb/failover/pkg/logging"
)

// Options holds the resilience configuration fixed at construction
type Options struct {
	// MaxRetry is the reconnect attempt budget per protocol run. Zero is
	// legal and means transient errors propagate without any reconnect
	// attempt.
	MaxRetry int

	// Backoff overrides DefaultBackoff. Mainly useful in tests and for
	// deployments that need a different ramp.
	Backoff BackoffFunc

	// ReadOnlyMarkers and ConnectionLostMarkers override the classifier
	// defaults. Adapters publish lists matching their driver's messages.
	ReadOnlyMarkers       []string
	ConnectionLostMarkers []string

	// DisconnectOnReadOnly changes the reaction to a read-only failover:
	// instead of the retry loop, the connection is closed and the error
	// propagates, leaving recovery to the next call's lazy reconnect.
	DisconnectOnReadOnly bool

	// SleepBeforeDisconnect delays the close when DisconnectOnReadOnly
	// fires, staggering the reconnect herd across many clients.
	SleepBeforeDisconnect time.Duration

	// Hooks receives protocol lifecycle callbacks.
	Hooks Hooks

	// Logger defaults to the global logger.
	Logger *logging.Logger
}

// DefaultOptions returns the standard resilience configuration
func DefaultOptions() Options {
	return Options{
		MaxRetry: DefaultMaxRetry,
	}
}

// Client wraps a single logical database connection with failover-aware
// error classification, bounded reconnection, and post-reconnect health
// verification. Queries that fail are never re-executed automatically: the
// client repairs the connection so the next call succeeds, and the original
// error always reaches the caller.
//
// A Client is not safe for concurrent use. Run one instance per worker; the
// backoff sleep blocks the calling goroutine.
type Client struct {
	connector  driver.Connector
	opts       Options
	classifier *Classifier
	logger     *logging.Logger

	conn driver.Conn
	// session mirrors the configuration last known to be on the wire, so a
	// reconnect can restore it even when the outgoing handle is too broken
	// to be read.
	session driver.SessionConfig
}

// New connects and returns a resilient client. The initial connect is not
// retried; if it fails, construction fails.
func New(ctx context.Context, connector driver.Connector, opts Options) (*Client, error) {
	if connector == nil {
		return nil, errors.NewConfigError("connector is required")
	}
	if opts.MaxRetry < 0 {
		return nil, errors.NewConfigError("max retry must not be negative")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	conn, err := connector.Connect(ctx)
	if err != nil {
		return nil, errors.NewConnectError(connector.Driver(), "initial connect failed").WithCause(err)
	}

	c := &Client{
		connector:  connector,
		opts:       opts,
		classifier: NewClassifier(opts.ReadOnlyMarkers, opts.ConnectionLostMarkers),
		logger:     logger,
		conn:       conn,
	}

	// Snapshot the session configuration the connection came up with, so a
	// reconnect from a broken handle still has something to restore.
	if cfg, err := conn.SessionConfig(ctx); err == nil {
		c.session = cfg
	}

	c.logger.Info("Connected",
		"driver", connector.Driver(),
		"connection_id", conn.ID(),
	)

	return c, nil
}

// QueryContext runs a statement that returns rows. On a transient failure
// the reconnection protocol runs and the original error is returned; the
// statement is not retried.
func (c *Client) QueryContext(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	if err := c.ensureConn(ctx); err != nil {
		return nil, err
	}

	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		c.handleFailure(ctx, err)
		return nil, err
	}

	return rows, nil
}

// ExecContext runs a statement that returns no rows, with the same
// resilience contract as QueryContext.
func (c *Client) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := c.ensureConn(ctx); err != nil {
		return nil, err
	}

	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		c.handleFailure(ctx, err)
		return nil, err
	}

	return res, nil
}

// QueryRowContext runs a statement expected to return at most one row
func (c *Client) QueryRowContext(ctx context.Context, query string, args ...interface{}) *Row {
	rows, err := c.QueryContext(ctx, query, args...)
	return &Row{rows: rows, err: err}
}

// Row is the result of QueryRowContext, scanned lazily like sql.Row
type Row struct {
	rows driver.Rows
	err  error
}

// Scan copies the first row's columns into dest and releases the result set
func (r *Row) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	defer r.rows.Close()

	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := r.rows.Scan(dest...); err != nil {
		return err
	}

	return r.rows.Close()
}

// PingContext passes directly through to the current handle
func (c *Client) PingContext(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

// SessionConfig reads the session configuration from the current handle
func (c *Client) SessionConfig(ctx context.Context) (driver.SessionConfig, error) {
	return c.conn.SessionConfig(ctx)
}

// ApplySessionConfig applies cfg to the current handle and records it so a
// later reconnect restores it even if the handle breaks unreadably.
func (c *Client) ApplySessionConfig(ctx context.Context, cfg driver.SessionConfig) error {
	if err := c.conn.ApplySessionConfig(ctx, cfg); err != nil {
		return err
	}

	if c.session == nil {
		c.session = make(driver.SessionConfig, len(cfg))
	}
	for k, v := range cfg {
		c.session[k] = v
	}

	return nil
}

// Writable reports whether the endpoint currently accepts writes, using the
// adapter's status-variable query against the current handle.
func (c *Client) Writable(ctx context.Context) (bool, error) {
	value, err := c.statusValue(ctx, c.conn)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(value, readOnlyOff), nil
}

// Classify exposes the client's error classification
func (c *Client) Classify(err error) Class {
	return c.classifier.Classify(err)
}

// Closed reports whether the current handle has been closed
func (c *Client) Closed() bool {
	return c.conn.Closed()
}

// Close closes the current handle
func (c *Client) Close() error {
	return c.conn.Close()
}

// ConnectionID identifies the current handle in diagnostics
func (c *Client) ConnectionID() string {
	return c.conn.ID()
}

// Driver returns the adapter name
func (c *Client) Driver() string {
	return c.connector.Driver()
}

// ensureConn reconnects once when the current handle was closed, so a client
// left idle across a failover recovers without an explicit health check by
// the caller. The single attempt is deliberate: repeated failures here
// belong to the caller's own retry handling.
func (c *Client) ensureConn(ctx context.Context) error {
	if c.conn != nil && !c.conn.Closed() {
		return nil
	}

	conn, err := c.connector.Connect(ctx)
	if err != nil {
		return errors.NewConnectError(c.connector.Driver(), "reconnect of closed handle failed").WithCause(err)
	}

	if len(c.session) > 0 {
		if err := conn.ApplySessionConfig(ctx, c.session); err != nil {
			closeQuietly(conn)
			return errors.NewConnectError(c.connector.Driver(), "session restore failed").WithCause(err)
		}
	}

	c.conn = conn
	c.logger.Info("Reconnected closed handle",
		"driver", c.connector.Driver(),
		"connection_id", conn.ID(),
	)

	return nil
}
