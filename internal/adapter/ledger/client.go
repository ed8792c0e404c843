// Package ledger talks to a Blockfrost-compatible Cardano indexer.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"
	"datamarket/internal/metrics"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	endpointTransaction = "tx"
	endpointMetadata    = "tx_metadata"
	endpointHealth      = "health"
)

// Config holds the connection settings for the indexer.
type Config struct {
	BaseURL   string
	ProjectID string
	Timeout   time.Duration
}

// Client implements ports.LedgerClient over the Blockfrost REST API.
type Client struct {
	http    *resty.Client
	metrics *metrics.Recorder
	log     zerolog.Logger
}

type txAmount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type txResponse struct {
	Hash          string     `json:"hash"`
	ValidContract bool       `json:"valid_contract"`
	OutputAmount  []txAmount `json:"output_amount"`
}

type healthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}

// NewClient creates a ledger client. rec may be nil.
func NewClient(cfg Config, rec *metrics.Recorder, log zerolog.Logger) *Client {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("project_id", cfg.ProjectID)

	return &Client{http: c, metrics: rec, log: log}
}

// GetTransaction fetches a transaction by hash. An unknown hash yields nil, nil.
func (c *Client) GetTransaction(ctx context.Context, ref string) (*domain.LedgerTransaction, error) {
	var body txResponse
	found, err := c.get(ctx, endpointTransaction, "/txs/"+url.PathEscape(ref), &body)
	if err != nil || !found {
		return nil, err
	}

	return &domain.LedgerTransaction{
		Hash:           body.Hash,
		Validated:      body.ValidContract,
		OutputsPresent: len(body.OutputAmount) > 0,
	}, nil
}

// GetMetadata fetches every metadata entry of a transaction. An unknown hash
// yields an empty list.
func (c *Client) GetMetadata(ctx context.Context, ref string) ([]domain.MetadataEntry, error) {
	var entries []domain.MetadataEntry
	if _, err := c.get(ctx, endpointMetadata, "/txs/"+url.PathEscape(ref)+"/metadata", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, out interface{}) (bool, error) {
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)

	err = classify(resp, err)
	if errors.Is(err, errNotFound) {
		c.metrics.LedgerRequest(endpoint, nil, time.Since(start))
		return false, nil
	}
	c.metrics.LedgerRequest(endpoint, err, time.Since(start))
	if err != nil {
		c.log.Warn().Err(err).Str("endpoint", endpoint).Msg("ledger request failed")
		return false, err
	}
	return true, nil
}

var errNotFound = errors.New("not found")

func classify(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrLedgerUnavailable, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return errNotFound
	case code >= 200 && code < 300:
		return nil
	default:
		return fmt.Errorf("%w: status %d", ports.ErrLedgerUnavailable, code)
	}
}
