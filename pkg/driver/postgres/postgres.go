// Package postgres adapts PostgreSQL and Aurora PostgreSQL endpoints to the
// driver contract. Like the mysql adapter, each handle pins exactly one
// physical connection.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/steadydb/failover/pkg/driver"
	"github.com/steadydb/failover/pkg/errors"
)

const (
	// DefaultPort is the standard PostgreSQL server port
	DefaultPort = 5432

	// DefaultConnectTimeout bounds connection establishment and the
	// post-connect ping
	DefaultConnectTimeout = 10 * time.Second

	// DefaultSSLMode matches managed-cluster defaults
	DefaultSSLMode = "prefer"

	// DefaultReadOnlyVariable is the setting the writable check reads.
	// Aurora PostgreSQL readers report transaction_read_only=on.
	DefaultReadOnlyVariable = "transaction_read_only"
)

// DefaultSessionVars are the session settings carried across reconnects when
// the adapter is not configured otherwise.
var DefaultSessionVars = []string{"search_path", "timezone", "statement_timeout"}

// LostConnectionMarkers extends the classifier defaults with the messages
// lib/pq and database/sql actually produce when the endpoint drops.
var LostConnectionMarkers = []string{
	"not connected",
	"lost connection",
	"can't connect",
	"shutdown in progress",
	"bad connection",
	"connection refused",
	"connection reset",
	"broken pipe",
	"unexpected eof",
	"i/o timeout",
	"the database system is shutting down",
	"the database system is starting up",
	"terminating connection",
	"server closed the connection",
}

// Setting names reach the server only as bind parameters, but they are still
// validated so configuration mistakes surface at construction.
var settingNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Config holds the connection options for the PostgreSQL adapter
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	ConnectTimeout time.Duration

	// ReadOnlyVariable is the run-time setting consulted by the writable
	// check.
	ReadOnlyVariable string

	// SessionVars are the session settings captured from a retiring handle
	// and re-applied to its replacement.
	SessionVars []string
}

// Connector creates pinned single-connection handles to one PostgreSQL
// endpoint.
type Connector struct {
	cfg Config
	dsn string
}

// NewConnector validates cfg, fills defaults, and builds the DSN
func NewConnector(cfg Config) (*Connector, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = DefaultSSLMode
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadOnlyVariable == "" {
		cfg.ReadOnlyVariable = DefaultReadOnlyVariable
	}
	if cfg.SessionVars == nil {
		cfg.SessionVars = DefaultSessionVars
	}

	if !settingNameRE.MatchString(cfg.ReadOnlyVariable) {
		return nil, errors.NewConfigError(fmt.Sprintf("invalid read-only setting name %q", cfg.ReadOnlyVariable))
	}
	for _, name := range cfg.SessionVars {
		if !settingNameRE.MatchString(name) {
			return nil, errors.NewConfigError(fmt.Sprintf("invalid session setting name %q", name))
		}
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		int(cfg.ConnectTimeout.Seconds()),
	)

	return &Connector{cfg: cfg, dsn: dsn}, nil
}

// Connect establishes one pinned connection and verifies it with a ping
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	db, err := sqlx.Open("postgres", c.dsn)
	if err != nil {
		return nil, errors.NewConnectError("postgres", "open failed").WithCause(err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return nil, errors.NewConnectError("postgres", "connect failed").WithCause(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		db.Close()
		return nil, errors.NewConnectError("postgres", "ping failed").WithCause(err)
	}

	return &Conn{
		id:          uuid.New().String(),
		db:          db,
		conn:        conn,
		sessionVars: c.cfg.SessionVars,
	}, nil
}

// Driver returns the adapter name used in diagnostics
func (c *Connector) Driver() string { return "postgres" }

// WritableQuery reads the configured read-only setting; the value is "off"
// on a writable primary.
func (c *Connector) WritableQuery() (string, []interface{}) {
	return "SELECT current_setting($1)", []interface{}{c.cfg.ReadOnlyVariable}
}

// DSN exposes the built connection string, mainly for diagnostics and tests
func (c *Connector) DSN() string { return c.dsn }

// Conn is one pinned PostgreSQL connection
type Conn struct {
	id          string
	db          *sqlx.DB
	conn        *sqlx.Conn
	sessionVars []string
	closed      atomic.Bool
}

// QueryContext runs a statement that returns rows
func (c *Conn) QueryContext(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	rows, err := c.conn.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ExecContext runs a statement that returns no rows
func (c *Conn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

// PingContext verifies the pinned connection is alive
func (c *Conn) PingContext(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

// SessionConfig reads the configured session settings off this connection.
// current_setting's missing_ok form returns NULL for unknown settings, which
// are simply skipped.
func (c *Conn) SessionConfig(ctx context.Context) (driver.SessionConfig, error) {
	cfg := make(driver.SessionConfig, len(c.sessionVars))

	for _, name := range c.sessionVars {
		var value sql.NullString
		if err := c.conn.GetContext(ctx, &value, "SELECT current_setting($1, true)", name); err != nil {
			return nil, err
		}
		if value.Valid {
			cfg[name] = value.String
		}
	}

	return cfg, nil
}

// ApplySessionConfig restores captured session settings on this connection
func (c *Conn) ApplySessionConfig(ctx context.Context, cfg driver.SessionConfig) error {
	for name, value := range cfg {
		if !settingNameRE.MatchString(name) {
			return errors.NewConfigError(fmt.Sprintf("invalid session setting name %q", name))
		}
		if _, err := c.conn.ExecContext(ctx, "SELECT set_config($1, $2, false)", name, value); err != nil {
			return err
		}
	}
	return nil
}

// Closed reports whether Close has been called
func (c *Conn) Closed() bool { return c.closed.Load() }

// Close releases the pinned connection and its carrier pool
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	err := c.conn.Close()
	if dbErr := c.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

// ID identifies this handle in diagnostics
func (c *Conn) ID() string { return c.id }
