// Package mysql adapts MySQL and Aurora MySQL endpoints to the driver
// contract. Each handle pins exactly one physical connection, so session
// state applied to it stays with it until the handle is retired.
package mysql

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/steadydb/failover/pkg/driver"
	"github.com/steadydb/failover/pkg/errors"
)

const (
	// DefaultPort is the standard MySQL server port
	DefaultPort = 3306

	// DefaultConnectTimeout bounds connection establishment and the
	// post-connect ping
	DefaultConnectTimeout = 10 * time.Second

	// DefaultReadOnlyVariable is the status variable the writable check
	// queries. Aurora MySQL reports innodb_read_only=ON on replicas.
	DefaultReadOnlyVariable = "innodb_read_only"
)

// DefaultSessionVars are the session system variables carried across
// reconnects when the adapter is not configured otherwise.
var DefaultSessionVars = []string{"sql_mode", "time_zone", "autocommit"}

// LostConnectionMarkers extends the classifier defaults with the messages
// go-sql-driver/mysql and database/sql actually produce when the endpoint
// drops. Pass it as the connection-lost list when fronting this adapter.
var LostConnectionMarkers = []string{
	"not connected",
	"lost connection",
	"can't connect",
	"shutdown in progress",
	"gone away",
	"invalid connection",
	"bad connection",
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"unexpected eof",
}

// System variable names are interpolated into SELECT @@SESSION / SET SESSION
// statements, so they are restricted to identifier characters.
var varNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds the connection options for the MySQL adapter
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// Params are appended to the DSN verbatim (charset, collation, tls).
	Params map[string]string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// ReadOnlyVariable is the server status variable consulted by the
	// writable check.
	ReadOnlyVariable string

	// SessionVars are the session system variables captured from a retiring
	// handle and re-applied to its replacement.
	SessionVars []string
}

// Connector creates pinned single-connection handles to one MySQL endpoint.
// Every connect resolves the endpoint again, so a DNS flip during failover
// is picked up naturally.
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
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadOnlyVariable == "" {
		cfg.ReadOnlyVariable = DefaultReadOnlyVariable
	}
	if cfg.SessionVars == nil {
		cfg.SessionVars = DefaultSessionVars
	}

	if !varNameRE.MatchString(cfg.ReadOnlyVariable) {
		return nil, errors.NewConfigError(fmt.Sprintf("invalid read-only variable name %q", cfg.ReadOnlyVariable))
	}
	for _, name := range cfg.SessionVars {
		if !varNameRE.MatchString(name) {
			return nil, errors.NewConfigError(fmt.Sprintf("invalid session variable name %q", name))
		}
	}

	mc := gomysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Database
	mc.Timeout = cfg.ConnectTimeout
	mc.ReadTimeout = cfg.ReadTimeout
	mc.WriteTimeout = cfg.WriteTimeout
	mc.ParseTime = true
	if len(cfg.Params) > 0 {
		mc.Params = make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			mc.Params[k] = v
		}
	}

	return &Connector{cfg: cfg, dsn: mc.FormatDSN()}, nil
}

// Connect establishes one pinned connection and verifies it with a ping
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	db, err := sqlx.Open("mysql", c.dsn)
	if err != nil {
		return nil, errors.NewConnectError("mysql", "open failed").WithCause(err)
	}

	// The pool exists only to carry a single pinned connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return nil, errors.NewConnectError("mysql", "connect failed").WithCause(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		db.Close()
		return nil, errors.NewConnectError("mysql", "ping failed").WithCause(err)
	}

	return &Conn{
		id:          uuid.New().String(),
		db:          db,
		conn:        conn,
		sessionVars: c.cfg.SessionVars,
	}, nil
}

// Driver returns the adapter name used in diagnostics
func (c *Connector) Driver() string { return "mysql" }

// WritableQuery reports the configured read-only status variable. The
// variable name is validated at construction, so interpolating it is safe.
func (c *Connector) WritableQuery() (string, []interface{}) {
	return fmt.Sprintf("SHOW GLOBAL VARIABLES LIKE '%s'", c.cfg.ReadOnlyVariable), nil
}

// DSN exposes the built connection string, mainly for diagnostics and tests
func (c *Connector) DSN() string { return c.dsn }

// Conn is one pinned MySQL connection
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

// SessionConfig reads the configured session variables off this connection.
// Variables unknown to the server are skipped rather than failing the whole
// capture.
func (c *Conn) SessionConfig(ctx context.Context) (driver.SessionConfig, error) {
	cfg := make(driver.SessionConfig, len(c.sessionVars))

	for _, name := range c.sessionVars {
		var value sql.NullString
		query := fmt.Sprintf("SELECT @@SESSION.%s", name)
		if err := c.conn.GetContext(ctx, &value, query); err != nil {
			if isUnknownVariable(err) {
				continue
			}
			return nil, err
		}
		if value.Valid {
			cfg[name] = value.String
		}
	}

	return cfg, nil
}

// ApplySessionConfig restores captured session variables on this connection
func (c *Conn) ApplySessionConfig(ctx context.Context, cfg driver.SessionConfig) error {
	for name, value := range cfg {
		if !varNameRE.MatchString(name) {
			return errors.NewConfigError(fmt.Sprintf("invalid session variable name %q", name))
		}
		query := fmt.Sprintf("SET SESSION %s = ?", name)
		if _, err := c.conn.ExecContext(ctx, query, value); err != nil {
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

func isUnknownVariable(err error) bool {
	var mysqlErr *gomysql.MySQLError
	if stderrors.As(err, &mysqlErr) {
		// ER_UNKNOWN_SYSTEM_VARIABLE
		return mysqlErr.Number == 1193
	}
	return strings.Contains(strings.ToLower(err.Error()), "unknown system variable")
}
