package answering

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/domain"
)

// Client talks to the external answering service (the RAG backend). Answers
// come back as a stream the caller decodes with Decode; the client only maps
// transport and status failures onto the domain error taxonomy.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "answering-service",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		log:        log,
	}
}

type askRequest struct {
	Question string            `json:"question"`
	Profile  map[string]string `json:"profile,omitempty"`
	Language string            `json:"language"`
	Stream   bool              `json:"stream"`
}

// Ask forwards a question with the accumulated profile context and returns
// the raw answer stream. Auth and quota rejections come back as distinct
// sentinels so the dialogue can offer the right recovery choices.
func (c *Client) Ask(ctx context.Context, question string, profile map[string]string, language string) (io.ReadCloser, error) {
	payload, err := json.Marshal(askRequest{
		Question: question,
		Profile:  profile,
		Language: language,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("answering: marshal request: %w", err)
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ask", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("answering: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream, text/plain")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return nil, c.statusError(resp.StatusCode)
		}
		return resp.Body, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: answering service circuit open", domain.ErrTransientNetwork)
		}
		return nil, err
	}
	return body.(io.ReadCloser), nil
}

func (c *Client) statusError(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: answering service status %d", domain.ErrAuthRequired, status)
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: answering service status %d", domain.ErrQuotaExceeded, status)
	default:
		return fmt.Errorf("%w: answering service status %d", domain.ErrTransientNetwork, status)
	}
}
