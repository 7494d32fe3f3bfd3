package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"bencheth/internal/metrics"
	"bencheth/pkg/logger"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

const maxResponseSize = 32 << 20

// maxDelayCeiling bounds a single delay when MaxBackoff is zero.
const maxDelayCeiling = 10 * time.Minute

// RetryPolicy bounds the retries of a single logical call.
type RetryPolicy struct {
	RateLimitRetries int
	TimeoutRetries   int
	InitialBackoff   time.Duration
	// MaxBackoff caps a single delay, including server hints. Zero falls back to maxDelayCeiling.
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns 10 rate-limit retries, 3 timeout retries and a 500ms initial backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimitRetries: 10,
		TimeoutRetries:   3,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       30 * time.Second,
	}
}

func (p RetryPolicy) ceiling() time.Duration {
	if p.MaxBackoff > 0 {
		return p.MaxBackoff
	}
	return maxDelayCeiling
}

// delay returns the wait before retry number n (0-based), doubling from InitialBackoff.
// A positive hint replaces the exponential delay. Both are capped.
func (p RetryPolicy) delay(n int, hint time.Duration) time.Duration {
	limit := p.ceiling()
	if hint > 0 {
		return min(hint, limit)
	}
	d := p.InitialBackoff
	for i := 0; i < n && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}

// attemptError carries the classification of one failed attempt through the retry policies.
type attemptError struct {
	cl  Classification
	err error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// newRetrier builds a failsafe retry policy for one error kind with its own budget and backoff counter.
func (p RetryPolicy) newRetrier(kind ErrorKind, method string, log *logger.Logger) retrypolicy.RetryPolicy[any] {
	retries := 0
	return retrypolicy.Builder[any]().
		HandleIf(func(_ any, err error) bool {
			var ae *attemptError
			return errors.As(err, &ae) && ae.cl.Retry && ae.cl.Kind == kind
		}).
		WithMaxRetries(p.budget(kind)).
		WithDelayFunc(func(exec failsafe.ExecutionAttempt[any]) time.Duration {
			var hint time.Duration
			var ae *attemptError
			if errors.As(exec.LastError(), &ae) {
				hint = ae.cl.BackoffHint
			}
			d := p.delay(retries, hint)
			retries++
			log.Debug("retrying %s in %s (attempt %d, %s)", method, d, exec.Attempts(), kind)
			return d
		}).
		ReturnLastFailure().
		Build()
}

func (p RetryPolicy) budget(kind ErrorKind) int {
	if kind == KindTimeout {
		return p.TimeoutRetries
	}
	return p.RateLimitRetries
}

type jsonrpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonrpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpcError   `json:"error"`
}

// Transport is an instrumented JSON-RPC 2.0 over HTTP client.
// Every logical call records one latency observation and one request_total increment;
// every failed attempt is classified (and counted) once, then retried by the failsafe
// policy for its kind.
// Transport is safe for concurrent use.
type Transport struct {
	url        string
	httpClient *http.Client
	classifier RetryClassifier
	metrics    *metrics.Registry
	policy     RetryPolicy
	logger     *logger.Logger
	nextID     atomic.Uint64
}

// NewTransport creates a transport for url. A nil httpClient gets a 30s timeout client
// and a non-positive InitialBackoff falls back to the default.
func NewTransport(url string, httpClient *http.Client, classifier RetryClassifier, m *metrics.Registry, policy RetryPolicy, log *logger.Logger) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = DefaultRetryPolicy().InitialBackoff
	}
	return &Transport{
		url:        url,
		httpClient: httpClient,
		classifier: classifier,
		metrics:    m,
		policy:     policy,
		logger:     log,
	}
}

// Call invokes method with params and decodes the result into result (which may be nil).
// Failures are returned as *CallError.
func (t *Transport) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	t.logger.Debug("request: method=%s params=%v", method, params)

	start := time.Now()
	defer func() {
		t.metrics.ObserveRequest(time.Since(start))
	}()

	if params == nil {
		params = []interface{}{}
	}

	// policies are built per call so each call gets its own budgets
	executor := failsafe.NewExecutor[any](
		t.policy.newRetrier(KindRateLimited, method, t.logger),
		t.policy.newRetrier(KindTimeout, method, t.logger),
	)

	attempts := 0
	err := executor.WithContext(ctx).Run(func() error {
		attempts++
		err := t.attempt(ctx, result, method, params)
		if err == nil {
			return nil
		}
		// caller gave up; not an endpoint failure
		if ctx.Err() != nil {
			return err
		}
		return &attemptError{cl: t.classifier.Classify(err), err: err}
	})
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return &CallError{Method: method, Attempts: attempts, Label: labelUnknown, Err: ctx.Err()}
	}

	var ae *attemptError
	if !errors.As(err, &ae) {
		return &CallError{Method: method, Attempts: attempts, Label: labelUnknown, Err: err}
	}
	return &CallError{
		Method:    method,
		Attempts:  attempts,
		Kind:      ae.cl.Kind,
		Label:     ae.cl.Label,
		Exhausted: ae.cl.Retry,
		Err:       ae.err,
	}
}

func (t *Transport) attempt(ctx context.Context, result interface{}, method string, params []interface{}) error {
	id := t.nextID.Add(1)
	body, err := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       respBody,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	return decodeResponse(respBody, id, result)
}

func decodeResponse(body []byte, id uint64, result interface{}) error {
	var msg jsonrpcResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return &DecodeError{Body: body, Err: err}
	}
	if msg.ID == nil {
		return &DecodeError{Body: body, Err: errors.New("missing response id")}
	}
	if *msg.ID != id {
		return &DecodeError{Body: body, Err: fmt.Errorf("response id %d does not match request id %d", *msg.ID, id)}
	}
	if msg.Error != nil {
		return &RPCError{Code: msg.Error.Code, Message: msg.Error.Message, Data: msg.Error.Data}
	}
	if len(msg.Result) == 0 {
		return &DecodeError{Body: body, Err: errors.New("missing result")}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Result, result); err != nil {
		return &DecodeError{Body: body, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
