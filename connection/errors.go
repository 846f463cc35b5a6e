package connection

import (
	"errors"
	"fmt"

	"github.com/tuyalan/tuyalan/retry"
)

// Sentinel errors classifying connection-level failures.
var (
	// ErrNotConnected is returned by Send/SendNoResponse/SendHeartbeat
	// when the connection's state is not Connected.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrResponseTimeout is returned when a send's matching response
	// doesn't arrive within the configured response timeout. Retryable:
	// it wraps retry.ErrTimeout.
	ErrResponseTimeout = fmt.Errorf("connection: response timeout: %w", retry.ErrTimeout)

	// ErrConnectTimeout is returned when Connect doesn't reach Connected
	// within the configured connect timeout. Retryable: it wraps
	// retry.ErrTimeout.
	ErrConnectTimeout = fmt.Errorf("connection: connect timeout: %w", retry.ErrTimeout)

	// ErrSocketError wraps an underlying I/O failure, which stays in the
	// error chain for retry.DefaultRetryable. Retryable; transitions the
	// connection to Failed.
	ErrSocketError = errors.New("connection: socket error")

	// ErrCancelled is the outcome given to pending sends still
	// outstanding when the connection is torn down.
	ErrCancelled = errors.New("connection: cancelled")
)
