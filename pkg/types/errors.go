package types

import (
	"errors"
	"fmt"
)

var (
	// ErrDisposed is returned for operations attempted during or after
	// teardown of a component.
	ErrDisposed = errors.New("disposed")

	// ErrCancelled is returned when a request or job is cancelled
	// explicitly or by a queue drain.
	ErrCancelled = errors.New("cancelled")

	// ErrTimeout is surfaced for connection-level timeouts raised by the
	// transport. The scheduler does not retry these; resubmission is the
	// caller's decision.
	ErrTimeout = errors.New("timeout")
)

// ExecutionError reports a panic inside a worker-pool transform. It carries
// the recovered cause and a truncated view of the failing stack so the
// failure is diagnosable without flooding logs with full traces.
type ExecutionError struct {
	Cause any
	Stack []string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job execution failed: %v", e.Cause)
}

// RetryExhaustedError reports that a request stayed retryable past the
// configured retry budget. LastStatus is the final status observed.
type RetryExhaustedError struct {
	LastStatus int
	Attempts   int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts, last status %d", e.Attempts, e.LastStatus)
}

// TransportError wraps a non-HTTP-status failure from the transport layer,
// such as a DNS or connect error.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
