package failover

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steadydb/failover/pkg/driver"
)

// The fakes below play the adapter's role in protocol tests: a connector
// hands out scripted connections in order, and each connection fails or
// answers exactly the way its fields say.

const fakeStatusQuery = "SHOW GLOBAL VARIABLES LIKE ?"

type fakeRows struct {
	columns []string
	rows    [][]string
	idx     int
	closed  bool
	iterErr error
}

func (r *fakeRows) Columns() ([]string, error) { return r.columns, nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	row := r.rows[r.idx-1]
	if len(dest) > len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i := range dest {
		p, ok := dest[i].(*string)
		if !ok {
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
		*p = row[i]
	}
	return nil
}

func (r *fakeRows) Close() error { r.closed = true; return nil }
func (r *fakeRows) Err() error   { return r.iterErr }

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeConn struct {
	id      string
	session driver.SessionConfig
	applied []driver.SessionConfig

	queryErr   error
	execErr    error
	pingErr    error
	sessionErr error
	applyErr   error
	closeErr   error

	// statusValue is what the status-variable query reports; statusErr makes
	// that query fail instead.
	statusValue string
	statusErr   error

	queries    []string
	pings      int
	closeCalls int
	closed     bool
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ ...interface{}) (driver.Rows, error) {
	c.queries = append(c.queries, query)

	if query == fakeStatusQuery {
		if c.statusErr != nil {
			return nil, c.statusErr
		}
		return &fakeRows{
			columns: []string{"Variable_name", "Value"},
			rows:    [][]string{{"innodb_read_only", c.statusValue}},
		}, nil
	}

	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return &fakeRows{columns: []string{"value"}, rows: [][]string{{"1"}}}, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ ...interface{}) (sql.Result, error) {
	c.queries = append(c.queries, query)
	if c.execErr != nil {
		return nil, c.execErr
	}
	return fakeResult{}, nil
}

func (c *fakeConn) PingContext(context.Context) error {
	c.pings++
	return c.pingErr
}

func (c *fakeConn) SessionConfig(context.Context) (driver.SessionConfig, error) {
	if c.closed {
		return nil, fmt.Errorf("handle is closed")
	}
	if c.sessionErr != nil {
		return nil, c.sessionErr
	}
	return c.session.Clone(), nil
}

func (c *fakeConn) ApplySessionConfig(_ context.Context, cfg driver.SessionConfig) error {
	if c.applyErr != nil {
		return c.applyErr
	}
	c.applied = append(c.applied, cfg.Clone())
	if c.session == nil {
		c.session = make(driver.SessionConfig)
	}
	for k, v := range cfg {
		c.session[k] = v
	}
	return nil
}

func (c *fakeConn) Closed() bool { return c.closed }

func (c *fakeConn) Close() error {
	c.closeCalls++
	c.closed = true
	return c.closeErr
}

func (c *fakeConn) ID() string { return c.id }

// lastApplied returns the most recent configuration applied to the handle
func (c *fakeConn) lastApplied() driver.SessionConfig {
	if len(c.applied) == 0 {
		return nil
	}
	return c.applied[len(c.applied)-1]
}

type connectResult struct {
	conn *fakeConn
	err  error
}

type fakeConnector struct {
	script   []connectResult
	connects int
}

func (f *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	f.connects++
	if len(f.script) == 0 {
		return nil, fmt.Errorf("fake connector: script exhausted after %d connects", f.connects)
	}

	next := f.script[0]
	f.script = f.script[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.conn, nil
}

func (f *fakeConnector) Driver() string { return "fake" }

func (f *fakeConnector) WritableQuery() (string, []interface{}) {
	return fakeStatusQuery, []interface{}{"innodb_read_only"}
}

func healthyConn(id string) *fakeConn {
	return &fakeConn{
		id:          id,
		statusValue: "OFF",
		session:     driver.SessionConfig{},
	}
}
