package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bencheth/internal/metrics"
	"bencheth/pkg/logger"
)

const labelUnknown = "unknown"

// Classification is the retry decision and metric label for one failed attempt.
type Classification struct {
	Kind  ErrorKind
	Retry bool
	Label string
	// BackoffHint is a server-provided delay; zero means use the exponential schedule.
	BackoffHint time.Duration
}

// RetryClassifier decides whether a failed attempt should be retried.
type RetryClassifier interface {
	Classify(err error) Classification
}

// Rule is a provider-specific JSON-RPC error that is worth retrying.
type Rule struct {
	Name  string
	Match func(e *RPCError) bool
	Label func(e *RPCError) string
}

func constLabel(label string) func(*RPCError) string {
	return func(*RPCError) string { return label }
}

func messageLabel(e *RPCError) string {
	return e.Message
}

// rpcRules are evaluated in order; the first match wins.
var rpcRules = []Rule{
	{
		// alchemy reports rate limits inside the envelope
		Name:  "alchemy-rate-limit",
		Match: func(e *RPCError) bool { return e.Code == http.StatusTooManyRequests },
		Label: constLabel("429"),
	},
	{
		// infura: exceeded project rate limit
		Name:  "infura-project-rate-limit",
		Match: func(e *RPCError) bool { return e.Code == -32005 },
		Label: constLabel("-32005"),
	},
	{
		// alchemy, for specific IPs
		Name: "alchemy-ip-rate-limit",
		Match: func(e *RPCError) bool {
			return e.Code == -32016 && strings.Contains(e.Message, "rate limit")
		},
		Label: constLabel("-32016"),
	},
	{
		// infura load balancer hitting a node that is behind its peers
		Name:  "infura-header-not-found",
		Match: func(e *RPCError) bool { return e.Message == "header not found" },
		Label: messageLabel,
	},
	{
		// infura, daily budget spent
		Name:  "infura-daily-limit",
		Match: func(e *RPCError) bool { return e.Message == "daily request count exceeded, request rate limited" },
		Label: messageLabel,
	},
}

// Classify maps a failed attempt to a retry decision. It has no side effects.
func Classify(err error) Classification {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return Classification{
				Kind:        KindRateLimited,
				Retry:       true,
				Label:       "429",
				BackoffHint: httpErr.RetryAfter,
			}
		}
		// provider errors outrank the status code, whatever the status
		if embedded := embeddedRPCError(httpErr.Body); embedded != nil {
			if cl, ok := matchRule(embedded); ok {
				if cl.BackoffHint == 0 {
					cl.BackoffHint = httpErr.RetryAfter
				}
				return cl
			}
		}
		return Classification{Kind: KindHTTPError, Label: strconv.Itoa(httpErr.StatusCode)}
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return classifyRPCError(rpcErr)
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		// some providers send an invalid envelope in the error case, but the body still holds the error
		if embedded := embeddedRPCError(decodeErr.Body); embedded != nil {
			return classifyRPCError(embedded)
		}
		return Classification{Kind: KindMalformedResponse, Label: labelUnknown}
	}

	if isTimeout(err) {
		return Classification{Kind: KindTimeout, Retry: true, Label: "timeout"}
	}

	return Classification{Kind: KindUnknown, Label: labelUnknown}
}

func classifyRPCError(e *RPCError) Classification {
	if cl, ok := matchRule(e); ok {
		return cl
	}
	return Classification{Kind: KindUnknown, Label: labelUnknown}
}

func matchRule(e *RPCError) (Classification, bool) {
	for _, rule := range rpcRules {
		if rule.Match(e) {
			return Classification{
				Kind:        KindRateLimited,
				Retry:       true,
				Label:       rule.Label(e),
				BackoffHint: backoffFromData(e.Data),
			}, true
		}
	}
	return Classification{}, false
}

func embeddedRPCError(body []byte) *RPCError {
	var resp struct {
		Error *struct {
			Code    int             `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error == nil {
		return nil
	}
	return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message, Data: resp.Error.Data}
}

// backoffFromData reads infura's backoff_seconds, either top level or under "rate".
func backoffFromData(data []byte) time.Duration {
	if len(data) == 0 {
		return 0
	}
	var hint struct {
		BackoffSeconds *float64 `json:"backoff_seconds"`
		Rate           *struct {
			BackoffSeconds *float64 `json:"backoff_seconds"`
		} `json:"rate"`
	}
	if err := json.Unmarshal(data, &hint); err != nil {
		return 0
	}
	seconds := hint.BackoffSeconds
	if hint.Rate != nil && hint.Rate.BackoffSeconds != nil {
		seconds = hint.Rate.BackoffSeconds
	}
	if seconds == nil || *seconds <= 0 {
		return 0
	}
	return time.Duration(*seconds * float64(time.Second))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// MeasuredClassifier is the RetryClassifier used by the transport: it applies the
// rule table and counts every classified failure in request_errors.
type MeasuredClassifier struct {
	metrics *metrics.Registry
	logger  *logger.Logger
}

// NewMeasuredClassifier creates the classifier bound to a metrics registry.
func NewMeasuredClassifier(m *metrics.Registry, log *logger.Logger) *MeasuredClassifier {
	return &MeasuredClassifier{metrics: m, logger: log}
}

// Classify classifies err and increments the error counter for its label exactly once.
func (c *MeasuredClassifier) Classify(err error) Classification {
	cl := Classify(err)
	c.logger.Debug("RPC error (%s, retry=%t, label=%q): %v", cl.Kind, cl.Retry, cl.Label, err)
	c.metrics.RecordError(cl.Label)
	return cl
}
