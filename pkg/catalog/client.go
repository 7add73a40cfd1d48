// pkg/catalog/client.go
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// Source lists the partitions of a dataset
type Source interface {
	Partitions(ctx context.Context, dataset string) ([]model.Partition, error)
}

// excludedDatasetPrefixes hides freedom-of-information extracts from dataset listings
var excludedDatasetPrefixes = []string{"foi"}

// Client reads the dataset catalog of a CKAN-style open data API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a catalog client. timeout bounds every request.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("catalog"),
	}
}

type packageShowResponse struct {
	Result struct {
		Resources []struct {
			BQTableName string `json:"bq_table_name"`
			Name        string `json:"name"`
		} `json:"resources"`
	} `json:"result"`
}

type packageListResponse struct {
	Result []string `json:"result"`
}

// Partitions returns every resource of dataset with its embedded period
func (c *Client) Partitions(ctx context.Context, dataset string) ([]model.Partition, error) {
	endpoint := fmt.Sprintf("%s/package_show?id=%s", c.baseURL, url.QueryEscape(dataset))

	var resp packageShowResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	partitions := make([]model.Partition, 0, len(resp.Result.Resources))
	for _, res := range resp.Result.Resources {
		if res.BQTableName == "" {
			c.logger.Debug("Skipping resource without table name", zap.String("name", res.Name))
			continue
		}
		partitions = append(partitions, model.NewPartition(res.BQTableName))
	}

	c.logger.Debug("Fetched dataset catalog",
		zap.String("dataset", dataset),
		zap.Int("resources", len(partitions)))
	return partitions, nil
}

// Datasets lists the published datasets, leaving out FOI extracts
func (c *Client) Datasets(ctx context.Context) ([]string, error) {
	var resp packageListResponse
	if err := c.getJSON(ctx, c.baseURL+"/package_list", &resp); err != nil {
		return nil, err
	}

	datasets := make([]string, 0, len(resp.Result))
	for _, name := range resp.Result {
		if hasAnyPrefix(name, excludedDatasetPrefixes) {
			continue
		}
		datasets = append(datasets, name)
	}
	return datasets, nil
}

// getJSON performs one GET and decodes the body. Every failure is reported
// as the catalog being unavailable.
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to build request: %w", model.ErrCatalogUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s returned status %d", model.ErrCatalogUnavailable, endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: malformed response from %s: %w", model.ErrCatalogUnavailable, endpoint, err)
	}
	return nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
