package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadydb/failover/pkg/driver"
	"github.com/steadydb/failover/pkg/failover"
	"github.com/steadydb/failover/pkg/health"
	"github.com/steadydb/failover/pkg/logging"
)

const testStatusQuery = "SHOW GLOBAL VARIABLES LIKE ?"

type fakeRows struct {
	columns []string
	rows    [][]string
	idx     int
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
	for i := range dest {
		p, ok := dest[i].(*string)
		if !ok {
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
		*p = row[i]
	}
	return nil
}

func (r *fakeRows) Close() error { return nil }
func (r *fakeRows) Err() error   { return nil }

type fakeConn struct {
	id          string
	statusValue string
	queryErr    error
	closed      bool
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ ...interface{}) (driver.Rows, error) {
	if query == testStatusQuery {
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

func (c *fakeConn) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errors.New("not supported")
}

func (c *fakeConn) PingContext(context.Context) error { return nil }

func (c *fakeConn) SessionConfig(context.Context) (driver.SessionConfig, error) {
	return driver.SessionConfig{}, nil
}

func (c *fakeConn) ApplySessionConfig(context.Context, driver.SessionConfig) error { return nil }

func (c *fakeConn) Closed() bool { return c.closed }

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) ID() string { return c.id }

type fakeConnector struct {
	conns    []*fakeConn
	connects int
}

func (f *fakeConnector) Connect(context.Context) (driver.Conn, error) {
	f.connects++
	if len(f.conns) == 0 {
		return nil, errors.New("no connections left")
	}
	next := f.conns[0]
	f.conns = f.conns[1:]
	return next, nil
}

func (f *fakeConnector) Driver() string { return "fake" }

func (f *fakeConnector) WritableQuery() (string, []interface{}) {
	return testStatusQuery, []interface{}{"innodb_read_only"}
}

// churnConnector hands out an endless series of connections that each fail
// the next statement with a transient error, so every probe replaces the
// installed handle.
type churnConnector struct {
	mu       sync.Mutex
	connects int
}

func (c *churnConnector) Connect(context.Context) (driver.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return &fakeConn{
		id:          fmt.Sprintf("conn-%d", c.connects),
		statusValue: "OFF",
		queryErr:    errors.New("Lost connection to MySQL server during query"),
	}, nil
}

func (c *churnConnector) Driver() string { return "fake" }

func (c *churnConnector) WritableQuery() (string, []interface{}) {
	return testStatusQuery, []interface{}{"innodb_read_only"}
}

func (c *churnConnector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger(&logging.Config{Level: "error", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	logger.SetOutput(io.Discard)
	return logger
}

func newTestService(t *testing.T, connector driver.Connector, cfg Config) *Service {
	t.Helper()

	opts := failover.DefaultOptions()
	opts.Backoff = func(int) time.Duration { return 0 }

	client, err := failover.New(context.Background(), connector, opts)
	require.NoError(t, err)

	return NewService(client, cfg, quietLogger(t), nil, nil)
}

func TestService_Probe_RecordsResult(t *testing.T) {
	connector := &fakeConnector{conns: []*fakeConn{{id: "conn-1", statusValue: "OFF"}}}
	svc := newTestService(t, connector, DefaultConfig())

	svc.Probe(context.Background())

	status := svc.Status()
	require.NotNil(t, status.LastProbe)
	assert.Empty(t, status.LastProbe.Error)
	assert.True(t, status.LastProbe.Writable)
	assert.True(t, status.Connected)
	assert.Equal(t, "fake", status.Driver)
	assert.Equal(t, "conn-1", status.ConnectionID)
}

func TestService_Probe_FatalErrorRecorded(t *testing.T) {
	conn := &fakeConn{id: "conn-1", statusValue: "OFF", queryErr: errors.New("syntax error near SELECT")}
	connector := &fakeConnector{conns: []*fakeConn{conn}}
	svc := newTestService(t, connector, DefaultConfig())

	svc.Probe(context.Background())

	status := svc.Status()
	require.NotNil(t, status.LastProbe)
	assert.Contains(t, status.LastProbe.Error, "syntax error")
	assert.Equal(t, 1, connector.connects)

	st, _, err := svc.probeHealth(context.Background())
	assert.Equal(t, health.StatusDegraded, st)
	assert.Error(t, err)
}

func TestService_Probe_DrivesReconnect(t *testing.T) {
	conn1 := &fakeConn{id: "conn-1", statusValue: "OFF", queryErr: errors.New("Lost connection to MySQL server during query")}
	conn2 := &fakeConn{id: "conn-2", statusValue: "OFF"}
	connector := &fakeConnector{conns: []*fakeConn{conn1, conn2}}
	svc := newTestService(t, connector, DefaultConfig())

	// The failing probe surfaces the original error but leaves the client
	// reconnected to the replacement handle.
	svc.Probe(context.Background())
	require.NotNil(t, svc.Status().LastProbe)
	assert.Contains(t, svc.Status().LastProbe.Error, "Lost connection")
	assert.Equal(t, "conn-2", svc.Status().ConnectionID)
	assert.True(t, conn1.closed)

	svc.Probe(context.Background())
	status := svc.Status()
	assert.Empty(t, status.LastProbe.Error)
	assert.True(t, status.LastProbe.Writable)
}

func TestService_ProbeHealth_NoProbeYet(t *testing.T) {
	connector := &fakeConnector{conns: []*fakeConn{{id: "conn-1", statusValue: "OFF"}}}
	svc := newTestService(t, connector, DefaultConfig())

	st, msg, err := svc.probeHealth(context.Background())
	assert.Equal(t, health.StatusUnknown, st)
	assert.Equal(t, "no probe has completed yet", msg)
	assert.NoError(t, err)
}

func TestService_StartAndStop(t *testing.T) {
	connector := &fakeConnector{conns: []*fakeConn{{id: "conn-1", statusValue: "OFF"}}}
	cfg := DefaultConfig()
	cfg.ProbeInterval = 10 * time.Millisecond
	svc := newTestService(t, connector, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	require.Eventually(t, func() bool {
		return svc.Status().LastProbe != nil
	}, time.Second, 5*time.Millisecond)

	svc.Stop()
	assert.NotPanics(t, func() { svc.Stop() })

	status := svc.Status()
	assert.Empty(t, status.LastProbe.Error)
	assert.True(t, status.Connected)
}

func TestService_ConcurrentRequestsDuringReconnects(t *testing.T) {
	gin.SetMode(gin.TestMode)

	connector := &churnConnector{}
	cfg := DefaultConfig()
	cfg.ProbeInterval = time.Millisecond
	svc := newTestService(t, connector, cfg)
	router := svc.Routes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	// Wait until the loop has replaced the initial handle at least once, so
	// the requests below overlap real reconnects.
	require.Eventually(t, func() bool {
		return connector.count() >= 2
	}, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	for _, path := range []string{"/healthz", "/readyz", "/status"} {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				w := httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodGet, path, nil)
				router.ServeHTTP(w, req)
			}
		}(path)
	}
	wg.Wait()

	cancel()
	svc.Stop()

	assert.NotEmpty(t, svc.Status().ConnectionID)
	assert.GreaterOrEqual(t, connector.count(), 2)
}

func TestService_Routes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	connector := &fakeConnector{conns: []*fakeConn{{id: "conn-1", statusValue: "OFF"}}}
	svc := newTestService(t, connector, DefaultConfig())
	svc.Probe(context.Background())

	router := svc.Routes()

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Origin", "https://example.com")
		router.ServeHTTP(w, req)
		return w
	}

	w := get("/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))

	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "fake", status.Driver)
	assert.Equal(t, "conn-1", status.ConnectionID)
	require.NotNil(t, status.LastProbe)
	assert.True(t, status.LastProbe.Writable)

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusOK, get("/livez").Code)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)
	assert.Equal(t, http.StatusOK, get("/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get("/nope").Code)
}

func TestService_CORSConfig_ExplicitOrigins(t *testing.T) {
	connector := &fakeConnector{conns: []*fakeConn{{id: "conn-1", statusValue: "OFF"}}}
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://ops.example.com"}
	svc := newTestService(t, connector, cfg)

	corsConfig := svc.corsConfig()
	assert.False(t, corsConfig.AllowAllOrigins)
	assert.Equal(t, []string{"https://ops.example.com"}, corsConfig.AllowOrigins)
}
