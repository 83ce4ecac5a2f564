package postgres

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadydb/failover/pkg/errors"
	"github.com/steadydb/failover/pkg/failover"
)

func TestNewConnector_Defaults(t *testing.T) {
	connector, err := NewConnector(Config{
		User:     "app",
		Password: "secret",
		Database: "orders",
	})
	require.NoError(t, err)

	assert.Equal(t, "localhost", connector.cfg.Host)
	assert.Equal(t, DefaultPort, connector.cfg.Port)
	assert.Equal(t, DefaultSSLMode, connector.cfg.SSLMode)
	assert.Equal(t, DefaultReadOnlyVariable, connector.cfg.ReadOnlyVariable)
	assert.Equal(t, DefaultSessionVars, connector.cfg.SessionVars)
	assert.Equal(t, "postgres", connector.Driver())
}

func TestNewConnector_DSN(t *testing.T) {
	connector, err := NewConnector(Config{
		Host:           "db.example.com",
		Port:           5433,
		User:           "app",
		Password:       "secret",
		Database:       "orders",
		SSLMode:        "require",
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t,
		"host=db.example.com port=5433 user=app password=secret dbname=orders sslmode=require connect_timeout=5",
		connector.DSN(),
	)
}

func TestNewConnector_RejectsInvalidSettingNames(t *testing.T) {
	connector, err := NewConnector(Config{ReadOnlyVariable: "transaction read only"})
	assert.Nil(t, connector)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	connector, err = NewConnector(Config{SessionVars: []string{"search_path; DROP"}})
	assert.Nil(t, connector)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestNewConnector_AllowsQualifiedSettingNames(t *testing.T) {
	// Extension settings use dotted names, e.g. app.tenant_id.
	connector, err := NewConnector(Config{SessionVars: []string{"app.tenant_id"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"app.tenant_id"}, connector.cfg.SessionVars)
}

func TestConnector_WritableQuery(t *testing.T) {
	connector, err := NewConnector(Config{})
	require.NoError(t, err)

	query, args := connector.WritableQuery()
	assert.Equal(t, "SELECT current_setting($1)", query)
	assert.Equal(t, []interface{}{"transaction_read_only"}, args)
}

func TestLostConnectionMarkers_CoverClassifierDefaults(t *testing.T) {
	for _, marker := range failover.DefaultConnectionLostMarkers {
		assert.Contains(t, LostConnectionMarkers, marker)
	}
}

func TestLostConnectionMarkers_ClassifyDriverMessages(t *testing.T) {
	classifier := failover.NewClassifier(nil, LostConnectionMarkers)

	tests := []struct {
		name     string
		message  string
		expected failover.Class
	}{
		{"shutting down", "pq: the database system is shutting down", failover.ClassConnectionLost},
		{"admin shutdown", "pq: terminating connection due to administrator command", failover.ClassConnectionLost},
		{"bad conn", "driver: bad connection", failover.ClassConnectionLost},
		{"read-only transaction wins", "pq: cannot execute INSERT in a read-only transaction", failover.ClassReadOnlyFailover},
		{"constraint stays fatal", `pq: duplicate key value violates unique constraint "orders_pkey"`, failover.ClassFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifier.Classify(fmt.Errorf("%s", tt.message)))
		})
	}
}
