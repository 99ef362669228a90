package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/siga-mi/internal/domain"
	"github.com/seu-repo/siga-mi/internal/infrastructure/circuitbreaker"
)

// Renderer is the HTTP client for the external report rendering collaborator.
// Document layout is the collaborator's concern; this adapter only carries
// the profile and answered questions over.
type Renderer struct {
	baseURL    string
	apiKey     string
	httpClient *circuitbreaker.HTTPClient
	log        *zap.Logger
}

func NewRenderer(baseURL, apiKey string, timeout time.Duration, breakers *circuitbreaker.Manager, log *zap.Logger) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := breakers.Get("report-renderer", circuitbreaker.DefaultSettings())
	return &Renderer{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: circuitbreaker.NewHTTPClient(
			&http.Client{Timeout: timeout}, breaker, log),
		log: log,
	}
}

func (r *Renderer) Generate(ctx context.Context, req *domain.ReportRequest) (*domain.ReportHandle, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("report: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/reports", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("report: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if circuitbreaker.IsCircuitOpen(err) {
			return nil, fmt.Errorf("%w: report service circuit open", domain.ErrTransientNetwork)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: report service status %d", domain.ErrTransientNetwork, resp.StatusCode)
	}

	var handle domain.ReportHandle
	if err := json.NewDecoder(resp.Body).Decode(&handle); err != nil {
		return nil, fmt.Errorf("report: decode response: %w", err)
	}

	r.log.Info("Report generated",
		zap.String("session_id", req.SessionID),
		zap.String("report_id", handle.ID))
	return &handle, nil
}
