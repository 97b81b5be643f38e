// Package cloudcode provides Cloud Code API client implementation.
package cloudcode

import (
	"net/http"
	"sync"
	"time"

	"github.com/relaygw/cloudcode-gateway/internal/config"
	"github.com/sony/gobreaker"
)

// breakerRegistry lazily builds one gobreaker.CircuitBreaker per upstream
// endpoint (daily, prod) so a persistently failing endpoint is skipped
// without waiting out its HTTP timeout on every fallback attempt.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      config.CircuitBreakerConfig
}

func newBreakerRegistry(cfg config.CircuitBreakerConfig) *breakerRegistry {
	return &breakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		cfg:      cfg,
	}
}

func (r *breakerRegistry) forEndpoint(endpoint string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[endpoint]; ok {
		return cb
	}

	maxFailures := r.cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeoutMs := r.cfg.OpenTimeoutMs
	if openTimeoutMs == 0 {
		openTimeoutMs = 30000
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    endpoint,
		Timeout: time.Duration(openTimeoutMs) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})
	r.breakers[endpoint] = cb
	return cb
}

// doWithBreaker executes req through the circuit breaker for its endpoint.
// Network errors and timeouts count as breaker failures; a 5xx response is
// returned to the caller untouched so the existing retry/backoff logic
// decides how to treat it, but still counts as a breaker failure since an
// endpoint returning only 5xx is as unusable as one that's unreachable.
func (r *breakerRegistry) doWithBreaker(client *http.Client, endpoint string, req *http.Request) (*http.Response, error) {
	cb := r.forEndpoint(endpoint)

	result, err := cb.Execute(func() (interface{}, error) {
		resp, doErr := client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if resp.StatusCode >= 500 {
			return resp, errUpstreamServerError
		}
		return resp, nil
	})

	if result == nil {
		return nil, err
	}

	resp := result.(*http.Response)
	if err == errUpstreamServerError {
		// Breaker recorded the failure; hand the 5xx response back to the
		// caller so its status-code switch still runs.
		return resp, nil
	}
	return resp, err
}

var errUpstreamServerError = &upstreamServerError{}

type upstreamServerError struct{}

func (*upstreamServerError) Error() string { return "upstream server error" }
