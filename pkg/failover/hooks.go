package failover

import (
	"time"
)

// Hooks receives reconnection protocol lifecycle callbacks. All fields are
// optional and invoked synchronously on the calling goroutine, so they must
// be fast and must not call back into the client.
type Hooks struct {
	// OnFailoverDetected fires when a query error classifies as transient,
	// before any reconnect handling starts.
	OnFailoverDetected func(class Class, err error)

	// OnReconnectAttempt fires before the backoff sleep of each attempt.
	OnReconnectAttempt func(attempt int, delay time.Duration, cause error)

	// OnStillReadOnly fires when a replacement connection came up but the
	// endpoint still reports a read-only status value.
	OnStillReadOnly func(attempt int, value string)

	// OnReconnectSuccess fires when a replacement connection passed
	// verification.
	OnReconnectSuccess func(attempt int, connectionID string)

	// OnReconnectFailure fires when the attempt budget is exhausted or the
	// protocol is cancelled.
	OnReconnectFailure func(attempts int, cause error)
}

func (h Hooks) failoverDetected(class Class, err error) {
	if h.OnFailoverDetected != nil {
		h.OnFailoverDetected(class, err)
	}
}

func (h Hooks) reconnectAttempt(attempt int, delay time.Duration, cause error) {
	if h.OnReconnectAttempt != nil {
		h.OnReconnectAttempt(attempt, delay, cause)
	}
}

func (h Hooks) stillReadOnly(attempt int, value string) {
	if h.OnStillReadOnly != nil {
		h.OnStillReadOnly(attempt, value)
	}
}

func (h Hooks) reconnectSuccess(attempt int, connectionID string) {
	if h.OnReconnectSuccess != nil {
		h.OnReconnectSuccess(attempt, connectionID)
	}
}

func (h Hooks) reconnectFailure(attempts int, cause error) {
	if h.OnReconnectFailure != nil {
		h.OnReconnectFailure(attempts, cause)
	}
}
