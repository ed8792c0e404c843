package ledger

import (
	"context"
	"fmt"
	"time"

	"datamarket/internal/core/ports"
)

// HealthCheck implements ports.HealthChecker for the ledger indexer.
type HealthCheck struct {
	client *Client
}

// NewHealthCheck creates a ledger health checker.
func NewHealthCheck(client *Client) *HealthCheck {
	return &HealthCheck{client: client}
}

// Ping asks the indexer whether it is healthy.
func (h *HealthCheck) Ping(ctx context.Context) error {
	var body healthResponse
	start := time.Now()
	resp, err := h.client.http.R().SetContext(ctx).SetResult(&body).Get("/health")
	err = classify(resp, err)
	h.client.metrics.LedgerRequest(endpointHealth, err, time.Since(start))
	if err != nil {
		return err
	}
	if !body.IsHealthy {
		return fmt.Errorf("%w: indexer reports unhealthy", ports.ErrLedgerUnavailable)
	}
	return nil
}

// Name returns the dependency name.
func (h *HealthCheck) Name() string {
	return "ledger"
}
