package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mstgnz/shaparak/provider"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// ErrDisabled is returned by searches when OpenSearch logging is off
var ErrDisabled = errors.New("opensearch logging is disabled")

// ExchangeLog is one bank exchange as it is indexed
type ExchangeLog struct {
	ID           string      `json:"id"`
	Timestamp    time.Time   `json:"timestamp"`
	Gateway      string      `json:"gateway"`
	Op           provider.Op `json:"op"`
	Method       string      `json:"method"`
	URL          string      `json:"url"`
	RequestBody  string      `json:"request_body,omitempty"`
	StatusCode   int         `json:"status_code"`
	ResponseBody string      `json:"response_body,omitempty"`
	DurationMs   int64       `json:"duration_ms"`
	Attempt      int         `json:"attempt"`
	Error        string      `json:"error,omitempty"`
}

// Logger writes exchanges and system logs to OpenSearch
type Logger struct {
	client *Client
}

// NewLogger creates a new OpenSearch logger
func NewLogger(client *Client) *Logger {
	return &Logger{client: client}
}

// LogExchange indexes one bank exchange. Bodies arrive already masked.
func (l *Logger) LogExchange(ctx context.Context, ex provider.Exchange) error {
	if !l.client.IsEnabled() {
		return nil
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now()
	}

	doc := ExchangeLog{
		ID:           uuid.New().String(),
		Timestamp:    ex.Timestamp.UTC(),
		Gateway:      ex.Gateway,
		Op:           ex.Op,
		Method:       ex.Method,
		URL:          ex.URL,
		RequestBody:  ex.RequestBody,
		StatusCode:   ex.StatusCode,
		ResponseBody: ex.ResponseBody,
		DurationMs:   ex.Duration.Milliseconds(),
		Attempt:      ex.Attempt,
		Error:        ex.Error,
	}
	return l.index(ctx, ExchangeIndexName(ex.Gateway), doc.ID, doc)
}

// LogSystemEvent indexes a service log entry
func (l *Logger) LogSystemEvent(ctx context.Context, log any) error {
	if !l.client.IsEnabled() {
		return nil
	}
	return l.index(ctx, SystemIndexName, uuid.New().String(), log)
}

func (l *Logger) index(ctx context.Context, index, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal log: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index log: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch error: %s", res.String())
	}
	return nil
}

// SearchExchanges returns the latest exchanges of gateway, newest first,
// optionally narrowed to one operation
func (l *Logger) SearchExchanges(ctx context.Context, gateway string, op provider.Op, size int) ([]ExchangeLog, error) {
	if !l.client.IsEnabled() {
		return nil, ErrDisabled
	}
	if size <= 0 || size > 100 {
		size = 100
	}

	query := map[string]any{"match_all": map[string]any{}}
	if op != "" {
		query = map[string]any{"term": map[string]any{"op": string(op)}}
	}
	search := map[string]any{
		"query": query,
		"sort": []map[string]any{
			{"timestamp": map[string]string{"order": "desc"}},
		},
		"size": size,
	}
	body, err := json.Marshal(search)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{ExchangeIndexName(gateway)},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("opensearch search error: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source ExchangeLog `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}

	logs := make([]ExchangeLog, len(result.Hits.Hits))
	for i, hit := range result.Hits.Hits {
		logs[i] = hit.Source
	}
	return logs, nil
}
