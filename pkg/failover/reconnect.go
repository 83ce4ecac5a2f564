package failover

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/steadydb/failover/pkg/driver"
	"github.com/steadydb/failover/pkg/errors"
)

// readOnlyOff is the status-variable value of a writable primary
const readOnlyOff = "OFF"

// protocolState names the reconnection protocol phases for diagnostics
type protocolState int

const (
	stateBackoff protocolState = iota
	stateReconnecting
	stateVerifying
	stateHealthy
	stateFailed
)

func (s protocolState) String() string {
	switch s {
	case stateBackoff:
		return "backoff"
	case stateReconnecting:
		return "reconnecting"
	case stateVerifying:
		return "verifying"
	case stateHealthy:
		return "healthy"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// handleFailure reacts to a failed query. Fatal errors are left alone. For
// transient classes the reconnection protocol runs to repair the connection;
// the caller returns the original error either way.
func (c *Client) handleFailure(ctx context.Context, err error) {
	class := c.classifier.Classify(err)
	if !class.Transient() {
		return
	}

	c.opts.Hooks.failoverDetected(class, err)
	c.logger.LogFailoverEvent(ctx, class.String(), c.conn.ID(), err, logrus.Fields{
		"driver": c.connector.Driver(),
	})

	if class == ClassReadOnlyFailover && c.opts.DisconnectOnReadOnly {
		c.disconnectForReadOnly(ctx)
		return
	}

	c.runProtocol(ctx, class, err)
}

// disconnectForReadOnly is the alternate read-only reaction: no retry loop,
// just an optional settle delay and a close. The next call's lazy reconnect
// picks up the promoted endpoint. Staggering the close avoids a reconnect
// stampede when many clients observe the failover at once.
func (c *Client) disconnectForReadOnly(ctx context.Context) {
	if delay := c.opts.SleepBeforeDisconnect; delay > 0 {
		c.logger.Warn("Disconnecting after read-only failover",
			"driver", c.connector.Driver(),
			"connection_id", c.conn.ID(),
			"sleep", delay.String(),
		)
		c.sleep(ctx, delay)
	} else {
		c.logger.Warn("Disconnecting after read-only failover",
			"driver", c.connector.Driver(),
			"connection_id", c.conn.ID(),
		)
	}

	closeQuietly(c.conn)
}

// runProtocol is the bounded reconnect loop: Backoff -> Reconnecting ->
// Verifying, repeated until verification passes or the attempt budget runs
// out. Connect failures, verification failures and still-read-only answers
// all consume attempts from the same budget and never surface to the
// caller; only the original triggering error does.
func (c *Client) runProtocol(ctx context.Context, class Class, cause error) {
	start := time.Now()

	for attempt := 1; ; attempt++ {
		if attempt > c.opts.MaxRetry {
			c.logger.LogReconnectEvent(ctx, "reconnect_exhausted", c.opts.MaxRetry, 0, logrus.Fields{
				"driver": c.connector.Driver(),
				"state":  stateFailed.String(),
				"class":  class.String(),
				"error":  cause.Error(),
			})
			c.opts.Hooks.reconnectFailure(c.opts.MaxRetry, cause)
			return
		}

		delay := c.backoff(attempt)
		c.logger.LogReconnectEvent(ctx, "reconnect_backoff", attempt, delay, logrus.Fields{
			"driver":    c.connector.Driver(),
			"state":     stateBackoff.String(),
			"class":     class.String(),
			"max_retry": c.opts.MaxRetry,
		})
		c.opts.Hooks.reconnectAttempt(attempt, delay, cause)

		if !c.sleep(ctx, delay) {
			c.logger.LogReconnectEvent(ctx, "reconnect_cancelled", attempt, delay, logrus.Fields{
				"driver": c.connector.Driver(),
				"state":  stateFailed.String(),
			})
			c.opts.Hooks.reconnectFailure(attempt, cause)
			return
		}

		c.logger.LogReconnectEvent(ctx, "reconnect_attempt", attempt, delay, logrus.Fields{
			"driver": c.connector.Driver(),
			"state":  stateReconnecting.String(),
		})

		// Capture session configuration from the outgoing handle while it
		// may still answer, then retire it. An unreadable handle falls back
		// to the client-side mirror.
		session := c.captureSession(ctx)
		closeQuietly(c.conn)

		conn, err := c.connector.Connect(ctx)
		if err != nil {
			c.logger.LogReconnectEvent(ctx, "reconnect_connect_failed", attempt, delay, logrus.Fields{
				"driver": c.connector.Driver(),
				"state":  stateReconnecting.String(),
				"error":  err.Error(),
			})
			continue
		}

		// The new handle becomes current before verification; on Failed the
		// client keeps whatever the last attempt produced.
		c.conn = conn

		if len(session) > 0 {
			if err := conn.ApplySessionConfig(ctx, session); err != nil {
				c.logger.LogReconnectEvent(ctx, "reconnect_session_restore_failed", attempt, delay, logrus.Fields{
					"driver": c.connector.Driver(),
					"state":  stateReconnecting.String(),
					"error":  err.Error(),
				})
				continue
			}
			c.session = session.Clone()
		}

		if err := c.verify(ctx, conn, class); err != nil {
			fields := logrus.Fields{
				"driver": c.connector.Driver(),
				"state":  stateVerifying.String(),
				"error":  err.Error(),
			}
			if connErr, ok := err.(*errors.ConnError); ok && connErr.Type == errors.ErrorTypeStillReadOnly {
				c.opts.Hooks.stillReadOnly(attempt, connErr.Details["value"])
				fields["value"] = connErr.Details["value"]
				c.logger.LogReconnectEvent(ctx, "reconnect_still_read_only", attempt, delay, fields)
			} else {
				c.logger.LogReconnectEvent(ctx, "reconnect_verify_failed", attempt, delay, fields)
			}
			continue
		}

		c.logger.LogReconnectEvent(ctx, "reconnect_succeeded", attempt, delay, logrus.Fields{
			"driver":        c.connector.Driver(),
			"state":         stateHealthy.String(),
			"connection_id": conn.ID(),
			"elapsed_ms":    time.Since(start).Milliseconds(),
		})
		c.opts.Hooks.reconnectSuccess(attempt, conn.ID())
		return
	}
}

// verify confirms the replacement connection is actually usable, not just
// established. A connection-lost trigger needs a live connection; a
// read-only trigger additionally needs the endpoint promoted to writable.
func (c *Client) verify(ctx context.Context, conn driver.Conn, class Class) error {
	if class == ClassConnectionLost {
		if err := conn.PingContext(ctx); err != nil {
			return errors.NewVerificationError("ping failed").WithCause(err).WithConnectionID(conn.ID())
		}
		return nil
	}

	value, err := c.statusValue(ctx, conn)
	if err != nil {
		return errors.NewVerificationError("status query failed").WithCause(err).WithConnectionID(conn.ID())
	}
	if !strings.EqualFold(value, readOnlyOff) {
		return errors.NewStillReadOnlyError(value).
			WithDetail("value", value).
			WithConnectionID(conn.ID())
	}

	return nil
}

// statusValue runs the adapter's status-variable query on conn and returns
// the reported value. SHOW VARIABLES dialects answer (name, value) rows;
// single-column dialects answer just the value. The last column wins.
func (c *Client) statusValue(ctx context.Context, conn driver.Conn) (string, error) {
	query, args := c.connector.WritableQuery()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		// No row at all: the variable is unknown to the server. Treated as
		// not writable rather than as a hard failure.
		return "", nil
	}

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	values := make([]interface{}, len(cols))
	for i := range values {
		values[i] = new(string)
	}
	if err := rows.Scan(values...); err != nil {
		return "", err
	}

	return *(values[len(values)-1].(*string)), nil
}

// captureSession reads the session configuration off the outgoing handle,
// falling back to the mirror the client maintains. A totally unknown
// configuration is an empty one; capture problems never fail a reconnect.
func (c *Client) captureSession(ctx context.Context) driver.SessionConfig {
	if cfg, err := c.conn.SessionConfig(ctx); err == nil && len(cfg) > 0 {
		return cfg
	}
	return c.session.Clone()
}

// backoff computes the delay before the given attempt
func (c *Client) backoff(attempt int) time.Duration {
	if c.opts.Backoff != nil {
		return c.opts.Backoff(attempt)
	}
	return DefaultBackoff(attempt)
}

// sleep blocks for the given delay, honoring context cancellation. A false
// return means the protocol must stop.
func (c *Client) sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// closeQuietly retires a handle; close errors on broken connections are
// expected and never propagate.
func closeQuietly(conn driver.Conn) {
	if conn == nil || conn.Closed() {
		return
	}
	_ = conn.Close()
}
