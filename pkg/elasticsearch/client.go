// Package elasticsearch wraps the official go-elasticsearch v8 client with the
// handful of index and alias operations the rebuild pipeline needs: index
// creation, bulk loading, alias lookup, atomic alias updates and index
// deletion. Non-2xx responses are turned into *ResponseError values.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	elastic "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/brownbaglunch/webhook/pkg/config"
	apperrors "github.com/brownbaglunch/webhook/pkg/errors"
	"github.com/brownbaglunch/webhook/pkg/resilience"
)

// Client talks to one Elasticsearch cluster.
type Client struct {
	es      *elastic.Client
	refresh bool
	logger  *slog.Logger
}

// New creates a Client and verifies the cluster answers a ping within
// cfg.PingTimeout. An unreachable cluster yields an error wrapping
// ErrBackendUnavailable.
func New(ctx context.Context, cfg config.ElasticsearchConfig) (*Client, error) {
	c, err := NewUnchecked(cfg)
	if err != nil {
		return nil, err
	}
	_, err = resilience.WithTimeout(ctx, cfg.PingTimeout, "elasticsearch ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Ping(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	c.logger.Info("elasticsearch cluster is running", "addresses", cfg.Addresses)
	return c, nil
}

// NewUnchecked creates a Client without contacting the cluster.
func NewUnchecked(cfg config.ElasticsearchConfig) (*Client, error) {
	es, err := elastic.NewClient(elastic.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{
		es:      es,
		refresh: cfg.Refresh,
		logger:  slog.Default().With("component", "elasticsearch"),
	}, nil
}

// Ping checks that the cluster is reachable.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer closeBody(res)
	if res.IsError() {
		return fmt.Errorf("pinging elasticsearch: %w", newResponseError(res))
	}
	return nil
}

// CreateIndex creates an empty index with default settings.
func (c *Client) CreateIndex(ctx context.Context, name string) error {
	res, err := c.es.Indices.Create(name, c.es.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("creating index %s: %w", name, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return fmt.Errorf("creating index %s: %w", name, newResponseError(res))
	}
	return nil
}

// Bulk submits an NDJSON bulk body scoped to index and returns the parsed
// per-item outcome. Item-level failures are reported in the response, not as
// an error.
func (c *Client) Bulk(ctx context.Context, index string, body io.Reader) (*BulkResponse, error) {
	opts := []func(*esapi.BulkRequest){
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(index),
	}
	if c.refresh {
		opts = append(opts, c.es.Bulk.WithRefresh("true"))
	}
	res, err := c.es.Bulk(body, opts...)
	if err != nil {
		return nil, fmt.Errorf("bulk request to %s: %w", index, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return nil, fmt.Errorf("bulk request to %s: %w", index, newResponseError(res))
	}
	var out BulkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}
	return &out, nil
}

// AliasIndices returns the sorted names of the indices the alias points to.
// An alias that does not exist yields an empty slice and no error.
func (c *Client) AliasIndices(ctx context.Context, alias string) ([]string, error) {
	res, err := c.es.Indices.GetAlias(
		c.es.Indices.GetAlias.WithContext(ctx),
		c.es.Indices.GetAlias.WithName(alias),
	)
	if err != nil {
		return nil, fmt.Errorf("reading alias %s: %w", alias, err)
	}
	defer closeBody(res)
	if res.StatusCode == http.StatusNotFound {
		return []string{}, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("reading alias %s: %w", alias, newResponseError(res))
	}
	return decodeIndexNames(res.Body)
}

// UpdateAliases applies all actions in a single atomic _aliases request.
func (c *Client) UpdateAliases(ctx context.Context, actions []AliasAction) error {
	body, err := json.Marshal(map[string]any{"actions": actions})
	if err != nil {
		return fmt.Errorf("encoding alias actions: %w", err)
	}
	res, err := c.es.Indices.UpdateAliases(bytes.NewReader(body), c.es.Indices.UpdateAliases.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("updating aliases: %w", err)
	}
	defer closeBody(res)
	if res.IsError() {
		return fmt.Errorf("updating aliases: %w", newResponseError(res))
	}
	var ack struct {
		Acknowledged bool `json:"acknowledged"`
	}
	if err := json.NewDecoder(res.Body).Decode(&ack); err != nil {
		return fmt.Errorf("decoding alias update response: %w", err)
	}
	if !ack.Acknowledged {
		return fmt.Errorf("updating aliases: request not acknowledged")
	}
	return nil
}

// DeleteIndex deletes a single index.
func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	res, err := c.es.Indices.Delete([]string{name}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("deleting index %s: %w", name, err)
	}
	defer closeBody(res)
	if res.IsError() {
		return fmt.Errorf("deleting index %s: %w", name, newResponseError(res))
	}
	return nil
}

// ListIndices returns the sorted names of the indices matching pattern.
func (c *Client) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	res, err := c.es.Indices.Get([]string{pattern}, c.es.Indices.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("listing indices %s: %w", pattern, err)
	}
	defer closeBody(res)
	if res.StatusCode == http.StatusNotFound {
		return []string{}, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("listing indices %s: %w", pattern, newResponseError(res))
	}
	return decodeIndexNames(res.Body)
}

// decodeIndexNames reads a response keyed by index name.
func decodeIndexNames(r io.Reader) ([]string, error) {
	var byIndex map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&byIndex); err != nil {
		return nil, fmt.Errorf("decoding index map: %w", err)
	}
	names := make([]string, 0, len(byIndex))
	for name := range byIndex {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func closeBody(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
}
