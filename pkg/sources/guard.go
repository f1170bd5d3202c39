package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/metrics"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 60 * time.Second
	maxBodyBytes           = 32 << 20
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// guard wraps outbound requests for one source with a token bucket and a circuit
// breaker.
type guard struct {
	sourceID string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
}

func newGuard(sourceID string, limits Limits, client *http.Client) *guard {
	g := &guard{sourceID: sourceID, client: client, timeout: limits.Timeout}
	if g.timeout <= 0 {
		g.timeout = defaultTimeout
	}
	if limits.RatePerSecond > 0 {
		burst := limits.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(limits.RatePerSecond), burst)
	}

	failures := limits.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	cooldown := limits.BreakerCooldown
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        sourceID,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// client errors other than 429 do not trip the breaker
			if se, ok := err.(*StatusError); ok {
				return se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests
			}
			return err == nil
		},
	})
	return g
}

// State reports the breaker state, used by health output.
func (g *guard) State() string {
	return g.breaker.State().String()
}

func (g *guard) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if g.limiter != nil {
		start := time.Now()
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		metrics.RecordRateLimitWait(g.sourceID, time.Since(start).Seconds())
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		start := time.Now()
		resp, err := g.client.Do(req.WithContext(ctx))
		if err != nil {
			metrics.RecordHTTPRequest(g.sourceID, "error", time.Since(start).Seconds())
			return nil, err
		}
		defer resp.Body.Close()
		metrics.RecordHTTPRequest(g.sourceID, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func newRequest(method, url, body string, headers map[string]string) (*http.Request, error) {
	if method == "" {
		method = http.MethodGet
	}
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "abvtrends/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}
