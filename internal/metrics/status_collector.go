package metrics

import (
	"context"
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
)

// TransactionStatusCollector reports how many purchases sit in each status.
type TransactionStatusCollector struct {
	repo    ports.TransactionRepository
	timeout time.Duration
	count   *prometheus.Desc
}

func NewTransactionStatusCollector(repo ports.TransactionRepository, source string) *TransactionStatusCollector {
	return &TransactionStatusCollector{
		repo:    repo,
		timeout: 2 * time.Second,
		count: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "transactions", "count"),
			"Purchase transactions by status",
			[]string{"status"},
			prometheus.Labels{"source": source},
		),
	}
}

func (c *TransactionStatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.count
}

func (c *TransactionStatusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counts, err := c.repo.CountByStatus(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.count, err)
		return
	}

	for _, status := range []domain.TransactionStatus{
		domain.TransactionStatusPending,
		domain.TransactionStatusSuccess,
		domain.TransactionStatusFailed,
	} {
		ch <- prometheus.MustNewConstMetric(c.count, prometheus.GaugeValue, float64(counts[status]), string(status))
	}
}
