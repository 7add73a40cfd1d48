package fetch

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// Page is the decoded body of one datastore_search_sql response
type Page struct {
	Records   []map[string]interface{}
	Truncated bool
	ExportURL string
	Bytes     int64
}

// Export is a bulk CSV export read in full
type Export struct {
	Header  []string
	Records [][]string
	Bytes   int64
}

// APIClient issues query and export requests against the open data API
type APIClient struct {
	http     *http.Client
	download *http.Client
	logger   *zap.Logger
}

// NewAPIClient creates a client whose query requests time out after timeout
func NewAPIClient(timeout time.Duration, logger *zap.Logger) *APIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &APIClient{
		http:     &http.Client{Timeout: timeout, Transport: transport},
		download: &http.Client{Timeout: 10 * time.Minute, Transport: transport},
		logger:   logger,
	}
}

// WithDownloadTimeout sets the timeout for bulk export downloads
func (c *APIClient) WithDownloadTimeout(timeout time.Duration) *APIClient {
	c.download.Timeout = timeout
	return c
}

// Close releases idle connections
func (c *APIClient) Close() {
	c.http.CloseIdleConnections()
}

type queryResponse struct {
	Result struct {
		Result struct {
			Records []map[string]interface{} `json:"records"`
		} `json:"result"`
		RecordsTruncated interface{} `json:"records_truncated"`
		GCURLs           []struct {
			URL string `json:"url"`
		} `json:"gc_urls"`
	} `json:"result"`
}

// Query performs one SQL request and decodes its records
func (c *APIClient) Query(ctx context.Context, requestURL string) (*Page, error) {
	body, err := c.get(ctx, c.http, requestURL)
	if err != nil {
		return nil, err
	}

	// Step 1: Decode, keeping numbers as text
	var resp queryResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, newCategorizedError(ErrorCategoryDecode,
			fmt.Errorf("failed to decode query response: %w", err))
	}

	page := &Page{
		Records:   resp.Result.Result.Records,
		Truncated: isTruncated(resp.Result.RecordsTruncated),
		Bytes:     int64(len(body)),
	}

	// Step 2: A truncated result must carry the export location
	if page.Truncated {
		if len(resp.Result.GCURLs) == 0 || resp.Result.GCURLs[0].URL == "" {
			return nil, newCategorizedError(ErrorCategoryDecode,
				errors.New("truncated result carries no export url"))
		}
		page.ExportURL = resp.Result.GCURLs[0].URL
	}

	return page, nil
}

// Download fetches a gzip-compressed CSV export
func (c *APIClient) Download(ctx context.Context, exportURL string) (*Export, error) {
	body, err := c.get(ctx, c.download, exportURL)
	if err != nil {
		var ce *categorizedError
		if errors.As(err, &ce) && ce.category == ErrorCategoryTransport {
			return nil, newCategorizedError(ErrorCategoryDownload, err)
		}
		return nil, err
	}

	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, newCategorizedError(ErrorCategoryDownload,
			fmt.Errorf("failed to open gzip export: %w", err))
	}
	defer zr.Close()

	reader := csv.NewReader(zr)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Export{Bytes: int64(len(body))}, nil
		}
		return nil, newCategorizedError(ErrorCategoryDownload,
			fmt.Errorf("failed to read export header: %w", err))
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, newCategorizedError(ErrorCategoryDownload,
			fmt.Errorf("failed to read export records: %w", err))
	}

	c.logger.Debug("Downloaded bulk export",
		zap.Int("records", len(records)),
		zap.Int("compressedBytes", len(body)))

	return &Export{Header: header, Records: records, Bytes: int64(len(body))}, nil
}

// get reads a full response body, categorizing failures
func (c *APIClient) get(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, newCategorizedError(ErrorCategoryTransport,
			fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newCategorizedError(ErrorCategoryTransport,
			fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, statusError(resp.StatusCode, req.URL.Redacted())
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newCategorizedError(ErrorCategoryTransport,
			fmt.Errorf("failed to read response body: %w", err))
	}
	return body, nil
}

// isTruncated accepts the flag as the string "true" or a JSON boolean
func isTruncated(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "True"
	default:
		return false
	}
}
