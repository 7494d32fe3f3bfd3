package ethereum

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBlockNotFound is returned when the endpoint answers a block query with null.
	ErrBlockNotFound = errors.New("block not found")

	// ErrTransactionNotFound is returned when the endpoint answers a transaction query with null.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// ErrorKind is the failure taxonomy used for retry decisions.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRateLimited
	KindTimeout
	KindMalformedResponse
	KindHTTPError
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindMalformedResponse:
		return "malformed_response"
	case KindHTTPError:
		return "http_error"
	default:
		return "unknown"
	}
}

// HTTPError is a non-2xx response from the endpoint.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
	RetryAfter time.Duration // parsed Retry-After header, zero if absent
}

func (e *HTTPError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("http %d %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Status, truncate(e.Body, 200))
}

// RPCError is a JSON-RPC error object returned by the endpoint.
type RPCError struct {
	Code    int
	Message string
	Data    []byte
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// DecodeError is a response body that could not be decoded as the expected JSON-RPC reply.
// Body keeps the raw text for the embedded-error fallback.
type DecodeError struct {
	Body []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed response: %v: %s", e.Err, truncate(e.Body, 200))
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// CallError is the terminal failure of one logical call, after any retries.
type CallError struct {
	Method   string
	Attempts int
	Kind     ErrorKind
	Label    string
	// Exhausted is set when a retryable failure ran out of retry budget.
	Exhausted bool
	Err       error
}

func (e *CallError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("%s: retries exhausted after %d attempts (%s): %v", e.Method, e.Attempts, e.Label, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
