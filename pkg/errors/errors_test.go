package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ConnError
		expected string
	}{
		{
			name:     "without cause",
			err:      NewConnError(ErrorTypeConnectionLost, "CONNECTION_LOST", "server went away"),
			expected: "CONNECTION_LOST: server went away",
		},
		{
			name:     "with cause",
			err:      NewConnError(ErrorTypeFatal, "FATAL_ERROR", "query rejected").WithCause(fmt.Errorf("syntax error")),
			expected: "FATAL_ERROR: query rejected (caused by: syntax error)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestConnError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying driver error")
	err := NewConnectionLostError("lost connection to server").WithCause(cause)

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name         string
		err          *ConnError
		expectedType ErrorType
		expectedCode string
	}{
		{"fatal", NewFatalError("bad statement"), ErrorTypeFatal, "FATAL_ERROR"},
		{"read only failover", NewReadOnlyFailoverError("write rejected"), ErrorTypeReadOnlyFailover, "READ_ONLY_FAILOVER"},
		{"connection lost", NewConnectionLostError("gone away"), ErrorTypeConnectionLost, "CONNECTION_LOST"},
		{"still read only", NewStillReadOnlyError("ON"), ErrorTypeStillReadOnly, "STILL_READ_ONLY"},
		{"config", NewConfigError("negative max retry"), ErrorTypeConfig, "CONFIG_ERROR"},
		{"connect", NewConnectError("mysql", "dial failed"), ErrorTypeConnect, "CONNECT_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.expectedType, tt.err.Type)
			assert.Equal(t, tt.expectedCode, tt.err.Code)
			assert.False(t, tt.err.Timestamp.IsZero())
		})
	}
}

func TestNewStillReadOnlyError_IncludesValue(t *testing.T) {
	err := NewStillReadOnlyError("ON")
	assert.Contains(t, err.Message, `"ON"`)
}

func TestNewConnectError_DriverDetail(t *testing.T) {
	err := NewConnectError("postgres", "connection refused")
	assert.Equal(t, "postgres", err.Details["driver"])
}

func TestWithHelpers(t *testing.T) {
	err := NewFatalError("boom").
		WithDetail("query", "INSERT INTO t VALUES (1)").
		WithConnectionID("conn-42")

	assert.Equal(t, "INSERT INTO t VALUES (1)", err.Details["query"])
	assert.Equal(t, "conn-42", err.ConnectionID)
}

func TestIsType(t *testing.T) {
	err := NewReadOnlyFailoverError("replica rejected write")

	assert.True(t, IsType(err, ErrorTypeReadOnlyFailover))
	assert.False(t, IsType(err, ErrorTypeConnectionLost))
	assert.False(t, IsType(fmt.Errorf("plain error"), ErrorTypeReadOnlyFailover))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"read only failover", NewReadOnlyFailoverError("x"), true},
		{"connection lost", NewConnectionLostError("x"), true},
		{"still read only", NewStillReadOnlyError("ON"), true},
		{"fatal", NewFatalError("x"), false},
		{"config", NewConfigError("x"), false},
		{"plain error", fmt.Errorf("x"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, "CONNECTION_LOST", GetCode(NewConnectionLostError("x")))
	assert.Equal(t, "UNKNOWN_ERROR", GetCode(fmt.Errorf("plain")))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrorTypeStillReadOnly, GetType(NewStillReadOnlyError("ON")))
	assert.Equal(t, ErrorTypeFatal, GetType(fmt.Errorf("plain")))
}
