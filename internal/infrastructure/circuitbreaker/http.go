package circuitbreaker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPClient wraps an HTTP client with circuit breaker protection
type HTTPClient struct {
	client  *http.Client
	breaker *CircuitBreaker
	log     *zap.Logger
}

// NewHTTPClient creates a new HTTP client with circuit breaker
func NewHTTPClient(client *http.Client, breaker *CircuitBreaker, log *zap.Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
		}
	}
	return &HTTPClient{
		client:  client,
		breaker: breaker,
		log:     log,
	}
}

// Do executes an HTTP request with circuit breaker protection
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	result, err := c.breaker.ExecuteCtx(req.Context(), func(ctx context.Context) (interface{}, error) {
		req = req.WithContext(ctx)
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}

		// Consider 5xx errors as failures for circuit breaker
		if resp.StatusCode >= 500 {
			return resp, fmt.Errorf("server error: %d", resp.StatusCode)
		}

		return resp, nil
	})

	if err != nil {
		if IsCircuitOpen(err) {
			c.log.Warn("Circuit breaker open, request blocked",
				zap.String("url", req.URL.String()),
				zap.String("breaker", c.breaker.Name()),
			)
		}
		return nil, err
	}

	return result.(*http.Response), nil
}

// ServiceClient provides circuit breaker protection for service calls
type ServiceClient struct {
	manager *Manager
	log     *zap.Logger
}

// NewServiceClient creates a new service client
func NewServiceClient(manager *Manager, log *zap.Logger) *ServiceClient {
	return &ServiceClient{
		manager: manager,
		log:     log,
	}
}

// Call executes a service call with circuit breaker protection
func (c *ServiceClient) Call(ctx context.Context, service string, fn func(context.Context) error) error {
	breaker := c.manager.Get(service, DefaultSettings())

	_, err := breaker.ExecuteCtx(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, fn(ctx)
	})

	return err
}

// RetryWithBackoff executes a function with retry and exponential backoff
func RetryWithBackoff(ctx context.Context, maxRetries int, initialDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := initialDelay

	for i := 0; i <= maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		// Don't retry circuit breaker errors
		if IsCircuitOpen(err) || IsTooManyRequests(err) {
			return err
		}

		// Check context
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2 // Exponential backoff
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
