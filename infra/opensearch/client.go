package opensearch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mstgnz/shaparak/infra/config"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"go.uber.org/zap"
)

// IndexPrefix starts every index this package writes
const IndexPrefix = "shaparak-"

// Client wraps the OpenSearch client
type Client struct {
	client  *opensearch.Client
	enabled bool
	logger  *zap.Logger
}

// NewClient creates an OpenSearch client and makes sure the exchange index of
// every gateway exists
func NewClient(cfg *config.AppConfig, gateways []string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	osConfig := opensearch.Config{
		Addresses: []string{cfg.OpenSearchURL},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !cfg.IsProduction(),
			},
		},
		MaxRetries:    3,
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			return time.Duration(i) * 100 * time.Millisecond
		},
	}
	if cfg.OpenSearchUser != "" && cfg.OpenSearchPass != "" {
		osConfig.Username = cfg.OpenSearchUser
		osConfig.Password = cfg.OpenSearchPass
	}

	client, err := opensearch.NewClient(osConfig)
	if err != nil {
		return nil, err
	}

	c := &Client{client: client, enabled: cfg.EnableOpenSearch, logger: logger}
	if c.enabled {
		c.setupIndices(context.Background(), gateways)
	}
	return c, nil
}

// GetClient returns the underlying OpenSearch client
func (c *Client) GetClient() *opensearch.Client {
	return c.client
}

// IsEnabled returns whether OpenSearch logging is enabled
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// ExchangeIndexName returns the index holding the bank exchanges of gateway
func ExchangeIndexName(gateway string) string {
	return IndexPrefix + gateway + "-exchanges"
}

// SystemIndexName is the index for warn-and-above service logs
const SystemIndexName = IndexPrefix + "system-logs"

func (c *Client) setupIndices(ctx context.Context, gateways []string) {
	for _, gw := range gateways {
		index := ExchangeIndexName(gw)
		exists, err := c.indexExists(ctx, index)
		if err != nil {
			c.logger.Warn("failed to check index", zap.String("index", index), zap.Error(err))
			continue
		}
		if exists {
			continue
		}
		if err := c.createExchangeIndex(ctx, index); err != nil {
			c.logger.Warn("failed to create index", zap.String("index", index), zap.Error(err))
			continue
		}
		c.logger.Info("created opensearch index", zap.String("index", index))
	}
}

func (c *Client) indexExists(ctx context.Context, index string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{index}}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

func (c *Client) createExchangeIndex(ctx context.Context, index string) error {
	mapping := `{
		"mappings": {
			"properties": {
				"timestamp":     {"type": "date", "format": "strict_date_optional_time||epoch_millis"},
				"gateway":       {"type": "keyword"},
				"op":            {"type": "keyword"},
				"method":        {"type": "keyword"},
				"url":           {"type": "keyword"},
				"request_body":  {"type": "text"},
				"status_code":   {"type": "integer"},
				"response_body": {"type": "text"},
				"duration_ms":   {"type": "long"},
				"attempt":       {"type": "integer"},
				"error":         {"type": "text"}
			}
		},
		"settings": {
			"number_of_shards": 1,
			"number_of_replicas": 0
		}
	}`

	req := opensearchapi.IndicesCreateRequest{
		Index: index,
		Body:  strings.NewReader(mapping),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index creation error: %s", res.String())
	}
	return nil
}
