package client

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Retry Configuration
// =============================================================================

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
	// Jitter adds randomness to backoff (0.0 to 1.0)
	Jitter float64
	// RetryableStatusCodes are HTTP status codes that should be retried
	RetryableStatusCodes []int
}

// DefaultRetryConfig returns the retry policy used against PostgREST.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// =============================================================================
// Circuit Breaker
// =============================================================================

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration
	// OnStateChange is called after every transition
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the breaker defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker stops calling a failing backend for a cool-down period.
type CircuitBreaker struct {
	mu sync.RWMutex

	config          CircuitBreakerConfig
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
	lastError       error
	now             func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultCircuitBreakerConfig().SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultCircuitBreakerConfig().Timeout
	}
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.transitionTo(CircuitHalfOpen)
		return nil
	default:
		return nil
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastError = err
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	cb.failures = 0
	cb.successes = 0
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(old, newState)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// LastError returns the last recorded error.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.lastError
}

// =============================================================================
// Resilient HTTP Client
// =============================================================================

// Stats is a snapshot of the resilient client's counters.
type Stats struct {
	Total   int64
	Success int64
	Failed  int64
	Retried int64
}

// ResilientClient wraps an HTTP client with retry and circuit breaker.
type ResilientClient struct {
	client         *http.Client
	retryConfig    RetryConfig
	circuitBreaker *CircuitBreaker

	totalRequests   int64
	successRequests int64
	failedRequests  int64
	retriedRequests int64
}

// ResilientClientConfig configures the resilient client.
type ResilientClientConfig struct {
	BaseClient           *http.Client
	RetryConfig          RetryConfig
	CircuitBreakerConfig CircuitBreakerConfig
}

// NewResilientClient creates a new resilient HTTP client.
func NewResilientClient(config ResilientClientConfig) *ResilientClient {
	if config.BaseClient == nil {
		config.BaseClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		}
	}

	return &ResilientClient{
		client:         config.BaseClient,
		retryConfig:    config.RetryConfig,
		circuitBreaker: NewCircuitBreaker(config.CircuitBreakerConfig),
	}
}

// Do executes an HTTP request with retry and circuit breaker. When retries
// are exhausted on a retryable status, the last response is returned so the
// caller can read the PostgREST error body.
func (rc *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&rc.totalRequests, 1)

	if err := rc.circuitBreaker.Allow(); err != nil {
		atomic.AddInt64(&rc.failedRequests, 1)
		return nil, err
	}

	var lastErr error
	var resp *http.Response

	for attempt := 0; attempt <= rc.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			atomic.AddInt64(&rc.retriedRequests, 1)

			select {
			case <-req.Context().Done():
				atomic.AddInt64(&rc.failedRequests, 1)
				return nil, req.Context().Err()
			case <-time.After(rc.calculateBackoff(attempt)):
			}

			retry, err := rewind(req)
			if err != nil {
				atomic.AddInt64(&rc.failedRequests, 1)
				return nil, err
			}
			req = retry
		}

		resp, lastErr = rc.client.Do(req)
		if lastErr != nil {
			if rc.isRetryableError(lastErr) {
				continue
			}
			rc.circuitBreaker.RecordFailure(lastErr)
			atomic.AddInt64(&rc.failedRequests, 1)
			return nil, lastErr
		}

		if rc.isRetryableStatusCode(resp.StatusCode) {
			lastErr = &HTTPError{StatusCode: resp.StatusCode}
			if attempt < rc.retryConfig.MaxRetries {
				resp.Body.Close()
				resp = nil
			}
			continue
		}

		rc.circuitBreaker.RecordSuccess()
		atomic.AddInt64(&rc.successRequests, 1)
		return resp, nil
	}

	rc.circuitBreaker.RecordFailure(lastErr)
	atomic.AddInt64(&rc.failedRequests, 1)
	if resp != nil {
		return resp, nil
	}
	return nil, lastErr
}

// rewind clones req with a fresh body for another attempt.
func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.GetBody == nil {
		return clone, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

func (rc *ResilientClient) calculateBackoff(attempt int) time.Duration {
	backoff := float64(rc.retryConfig.InitialBackoff) * math.Pow(rc.retryConfig.BackoffMultiplier, float64(attempt-1))

	if backoff > float64(rc.retryConfig.MaxBackoff) {
		backoff = float64(rc.retryConfig.MaxBackoff)
	}

	if rc.retryConfig.Jitter > 0 {
		jitter := backoff * rc.retryConfig.Jitter * (rand.Float64()*2 - 1)
		backoff += jitter
	}

	return time.Duration(backoff)
}

func (rc *ResilientClient) isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (rc *ResilientClient) isRetryableStatusCode(code int) bool {
	for _, retryable := range rc.retryConfig.RetryableStatusCodes {
		if code == retryable {
			return true
		}
	}
	return false
}

// HTTPError represents an HTTP error.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return http.StatusText(e.StatusCode)
}

// Stats returns a snapshot of the request counters.
func (rc *ResilientClient) Stats() Stats {
	return Stats{
		Total:   atomic.LoadInt64(&rc.totalRequests),
		Success: atomic.LoadInt64(&rc.successRequests),
		Failed:  atomic.LoadInt64(&rc.failedRequests),
		Retried: atomic.LoadInt64(&rc.retriedRequests),
	}
}

// CircuitState returns the current circuit breaker state.
func (rc *ResilientClient) CircuitState() CircuitState {
	return rc.circuitBreaker.State()
}

// =============================================================================
// Enhanced Client with Resilience
// =============================================================================

// EnhancedConfig extends Config with resilience options.
type EnhancedConfig struct {
	Config
	RetryConfig          RetryConfig
	CircuitBreakerConfig CircuitBreakerConfig
}

// NewEnhanced creates a Supabase client whose transport retries transient
// failures and trips a circuit breaker. The returned ResilientClient exposes
// counters for metrics collection.
func NewEnhanced(cfg EnhancedConfig) (*Client, *ResilientClient, error) {
	resilient := NewResilientClient(ResilientClientConfig{
		BaseClient:           cfg.HTTPClient,
		RetryConfig:          cfg.RetryConfig,
		CircuitBreakerConfig: cfg.CircuitBreakerConfig,
	})

	c, err := New(Config{
		URL:    cfg.URL,
		APIKey: cfg.APIKey,
		HTTPClient: &http.Client{
			Transport: &resilientTransport{client: resilient},
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return c, resilient, nil
}

// resilientTransport wraps ResilientClient as http.RoundTripper.
type resilientTransport struct {
	client *ResilientClient
}

func (rt *resilientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.client.Do(req)
}

// =============================================================================
// Request ID
// =============================================================================

type requestIDKey struct{}

// WithRequestID adds a request ID to the context. It is forwarded to
// PostgREST as X-Request-ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateRequestID generates a unique request ID.
func GenerateRequestID() string {
	return uuid.NewString()
}
