package aws

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"

	"capacityeval/internal/config"
	"capacityeval/internal/logging"
)

const jitterPercent = 0.1

// RateLimiter implements rate limiting with exponential backoff
type RateLimiter struct {
	tokens       chan struct{}
	interval     time.Duration
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	mu           sync.RWMutex
	failureCount int
	lastFailure  time.Time
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewRateLimiter creates a new rate limiter with the specified rate and backoff settings.
// If cfg is nil, it uses the DefaultRateLimitConfig.
func NewRateLimiter(cfg *config.RateLimitConfig) *RateLimiter {
	if cfg == nil {
		cfg = &config.DefaultRateLimitConfig
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = config.DefaultRateLimitConfig.RequestsPerSecond
	}
	tokenCount := int(math.Ceil(rps))

	rl := &RateLimiter{
		tokens:     make(chan struct{}, tokenCount),
		interval:   time.Duration(float64(time.Second) / rps),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		stop:       make(chan struct{}),
	}

	for i := 0; i < tokenCount; i++ {
		rl.tokens <- struct{}{}
	}

	go rl.replenish()

	return rl
}

// replenish continuously replenishes tokens at the specified rate
func (rl *RateLimiter) replenish() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			select {
			case rl.tokens <- struct{}{}:
			default:
				// bucket is full
			}
		}
	}
}

// Close stops token replenishment
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// getCurrentBackoff calculates the current backoff duration based on failure count
func (rl *RateLimiter) getCurrentBackoff() time.Duration {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if rl.failureCount == 0 || time.Since(rl.lastFailure) > time.Minute*5 {
		return 0
	}
	return rl.backoffFor(rl.failureCount)
}

func (rl *RateLimiter) backoffFor(failures int) time.Duration {
	backoff := float64(rl.baseDelay) * math.Pow(2, float64(failures-1))
	if backoff > float64(rl.maxDelay) {
		backoff = float64(rl.maxDelay)
	}
	return time.Duration(backoff)
}

// Wait waits for rate limit with exponential backoff
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if backoff := rl.getCurrentBackoff(); backoff > 0 {
		logging.Debug("Rate limiter applying backoff", map[string]interface{}{
			"backoff_ms":    backoff.Milliseconds(),
			"failure_count": rl.failures(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(addJitter(backoff)):
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rl.tokens:
		return nil
	}
}

func (rl *RateLimiter) failures() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.failureCount
}

// OnSuccess records a successful API call and resets backoff
func (rl *RateLimiter) OnSuccess() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.failureCount > 0 {
		logging.Debug("Rate limiter resetting backoff after success", map[string]interface{}{
			"previous_failure_count": rl.failureCount,
		})
		rl.failureCount = 0
		rl.lastFailure = time.Time{}
	}
}

// OnFailure records a throttled API call and updates backoff parameters
func (rl *RateLimiter) OnFailure() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.failureCount++
	rl.lastFailure = time.Now()

	logging.Debug("Rate limiter recorded failure", map[string]interface{}{
		"failure_count":   rl.failureCount,
		"next_backoff_ms": rl.backoffFor(rl.failureCount).Milliseconds(),
	})
}

// Execute runs operation under the limiter, retrying throttling errors
// until maxRetries is exhausted. Other errors are returned immediately.
func (rl *RateLimiter) Execute(ctx context.Context, apiName string, operation func() error) error {
	var err error
	for attempt := 0; attempt <= rl.maxRetries; attempt++ {
		if werr := rl.Wait(ctx); werr != nil {
			return werr
		}

		err = operation()
		if err == nil {
			rl.OnSuccess()
			return nil
		}
		if !IsThrottling(err) {
			return err
		}

		rl.OnFailure()
		logging.Debug("Rate limited, retrying operation", map[string]interface{}{
			"api":       apiName,
			"attempt":   attempt + 1,
			"max_retry": rl.maxRetries,
		})
	}

	return fmt.Errorf("max retries exceeded for %s: %w", apiName, err)
}

// IsThrottling reports whether err is an AWS throttling or rate limit error
func IsThrottling(err error) bool {
	if err == nil {
		return false
	}

	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case "Throttling", "ThrottlingException", "ThrottledException",
			"RequestThrottledException", "TooManyRequestsException",
			"ProvisionedThroughputExceededException", "RequestLimitExceeded",
			"LimitExceededException", "RequestThrottled":
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "throttling") ||
		strings.Contains(errStr, "rate exceeded") ||
		strings.Contains(errStr, "too many requests")
}

// addJitter adds random jitter to the delay
func addJitter(delay time.Duration) time.Duration {
	jitter := float64(delay) * jitterPercent
	return delay + time.Duration(jitter*(rand.Float64()*2-1))
}

// RateLimiterRegistry manages rate limiters per service and region
type RateLimiterRegistry struct {
	limiters sync.Map
}

var globalRegistry = &RateLimiterRegistry{}

// GetRateLimiter gets or creates a rate limiter for the given key
func (r *RateLimiterRegistry) GetRateLimiter(key string, cfg *config.RateLimitConfig) *RateLimiter {
	if limiter, ok := r.limiters.Load(key); ok {
		return limiter.(*RateLimiter)
	}

	limiter := NewRateLimiter(cfg)
	actual, loaded := r.limiters.LoadOrStore(key, limiter)
	if loaded {
		limiter.Close()
	}
	return actual.(*RateLimiter)
}

// GetGlobalRegistry returns the global rate limiter registry
func GetGlobalRegistry() *RateLimiterRegistry {
	return globalRegistry
}
