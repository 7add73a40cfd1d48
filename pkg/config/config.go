// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// DefaultQueryTemplate selects the tracked columns of one partition
const DefaultQueryTemplate = "SELECT DISTINCT BNF_CODE, BNF_DESCRIPTION, CHEMICAL_SUBSTANCE_BNF_DESCR {FROM_TABLE}"

// Config represents the application configuration
type Config struct {
	API       APIConfig       `yaml:"api"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Cache     CacheConfig     `yaml:"cache"`
	Report    ReportConfig    `yaml:"report"`
	Measures  MeasuresConfig  `yaml:"measures"`
	Publish   PublishConfig   `yaml:"publish"`
	Warehouse WarehouseConfig `yaml:"warehouse"`

	// Chapter rules applied before diffing, e.g. ["20", "21", "~2102"]
	ExcludeChapters []string `yaml:"exclude_chapters"`

	// Year below which partitions collapse into the synthetic bucket.
	// Zero means read it from the cache.
	CutoffYear int `yaml:"cutoff_year"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// APIConfig locates the open data API
type APIConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"` // Bulk CSV exports
}

// DatasetConfig names the dataset and the query run against each partition
type DatasetConfig struct {
	ID            string `yaml:"id"`
	QueryTemplate string `yaml:"query_template"`
}

// FetchConfig controls retries and parallelism of partition fetches
type FetchConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	Concurrency  int           `yaml:"concurrency"`
	CacheEnabled bool          `yaml:"cache_enabled"`
	VerifySample bool          `yaml:"verify_sample"` // Read appended partitions back
}

// ReportConfig controls where HTML reports are written
type ReportConfig struct {
	Dir            string `yaml:"dir"`
	PreviewBaseURL string `yaml:"preview_base_url"`
}

// MeasuresConfig locates measure definitions for the regression runner
type MeasuresConfig struct {
	Source     string `yaml:"source"` // "local" or "github"
	Folder     string `yaml:"folder"`
	ListingURL string `yaml:"listing_url"`
	RawBaseURL string `yaml:"raw_base_url"`
}

// PublishConfig controls where finished reports are uploaded
type PublishConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// LoadConfig loads configuration from an optional .env file, an optional YAML
// file and environment variables, in increasing order of precedence
func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("EPD_CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:         "https://opendata.nhsbsa.net/api/3/action",
			Timeout:         120 * time.Second,
			DownloadTimeout: 10 * time.Minute,
		},
		Dataset: DatasetConfig{
			ID:            "english-prescribing-data-epd",
			QueryTemplate: DefaultQueryTemplate,
		},
		Fetch: FetchConfig{
			MaxAttempts:  3,
			BackoffBase:  time.Second,
			Concurrency:  1,
			CacheEnabled: true,
		},
		Cache: CacheConfig{
			Backend:     "sqlite",
			Path:        "data/cache/cache_db.sqlite",
			Table:       "cache",
			BusyTimeout: 5 * time.Second,
		},
		Report: ReportConfig{
			Dir:            "reports",
			PreviewBaseURL: "https://html-preview.github.io/?url=https://github.com/ebmdatalab/openprescribing-epd-new/blob/main/reports/",
		},
		Measures: MeasuresConfig{
			Source:     "local",
			Folder:     "measures_to_test",
			ListingURL: "https://github.com/ebmdatalab/openprescribing/tree/main/openprescribing/measures/definitions",
			RawBaseURL: "https://raw.githubusercontent.com/ebmdatalab/openprescribing/main/openprescribing/measures/definitions/",
		},
		Warehouse: WarehouseConfig{
			KeyFile:       "warehouse-credentials.json",
			HistoricTable: "RAW_PRESCRIBING_V2",
			QueryTimeout:  10 * time.Minute,
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// loadFile overlays settings from a YAML file
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides settings from environment variables
func (c *Config) applyEnv() {
	c.API.BaseURL = strings.TrimRight(getEnv("EPD_API_BASE_URL", c.API.BaseURL), "/")
	c.API.Timeout = getEnvAsDuration("EPD_API_TIMEOUT_SECONDS", c.API.Timeout)
	c.API.DownloadTimeout = getEnvAsDuration("EPD_DOWNLOAD_TIMEOUT_SECONDS", c.API.DownloadTimeout)

	c.Dataset.ID = getEnv("EPD_DATASET_ID", c.Dataset.ID)
	c.Dataset.QueryTemplate = getEnv("EPD_QUERY_TEMPLATE", c.Dataset.QueryTemplate)

	c.Fetch.MaxAttempts = getEnvAsInt("RETRY_ATTEMPTS", c.Fetch.MaxAttempts)
	c.Fetch.BackoffBase = time.Duration(getEnvAsInt("RETRY_DELAY_MS", int(c.Fetch.BackoffBase.Milliseconds()))) * time.Millisecond
	c.Fetch.Concurrency = getEnvAsInt("WORKER_POOL_SIZE", c.Fetch.Concurrency)
	c.Fetch.CacheEnabled = getEnvAsBool("EPD_CACHE_ENABLED", c.Fetch.CacheEnabled)
	c.Fetch.VerifySample = getEnvAsBool("EPD_VERIFY_SAMPLE", c.Fetch.VerifySample)

	c.Cache.applyEnv()

	c.Report.Dir = getEnv("EPD_REPORTS_DIR", c.Report.Dir)
	c.Report.PreviewBaseURL = getEnv("EPD_PREVIEW_BASE_URL", c.Report.PreviewBaseURL)

	c.Measures.Source = getEnv("EPD_MEASURES_SOURCE", c.Measures.Source)
	c.Measures.Folder = getEnv("EPD_MEASURES_DIR", c.Measures.Folder)
	c.Measures.ListingURL = getEnv("EPD_MEASURES_LISTING_URL", c.Measures.ListingURL)
	c.Measures.RawBaseURL = getEnv("EPD_MEASURES_RAW_BASE_URL", c.Measures.RawBaseURL)

	c.Publish.S3Bucket = getEnv("EPD_S3_BUCKET", c.Publish.S3Bucket)
	c.Publish.S3Prefix = getEnv("EPD_S3_PREFIX", c.Publish.S3Prefix)
	c.Publish.Region = getEnv("AWS_REGION", c.Publish.Region)
	c.Publish.Endpoint = getEnv("EPD_S3_ENDPOINT", c.Publish.Endpoint)

	c.Warehouse.applyEnv()

	c.ExcludeChapters = getEnvAsStringSlice("EPD_EXCLUDE_CHAPTERS", c.ExcludeChapters)
	c.CutoffYear = getEnvAsInt("EPD_CUTOFF_YEAR", c.CutoffYear)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	var problems []string

	if c.API.BaseURL == "" {
		problems = append(problems, "API base URL is required")
	}
	if c.API.Timeout <= 0 {
		problems = append(problems, "API timeout must be positive")
	}
	if c.API.DownloadTimeout <= 0 {
		problems = append(problems, "download timeout must be positive")
	}
	if c.Dataset.ID == "" {
		problems = append(problems, "dataset ID is required")
	}
	if c.Fetch.MaxAttempts < 0 {
		problems = append(problems, "retry attempts cannot be negative")
	}
	if c.Fetch.Concurrency <= 0 {
		problems = append(problems, "worker pool size must be positive")
	}
	if c.CutoffYear < 0 {
		problems = append(problems, "cutoff year cannot be negative")
	}
	if c.Measures.Source != "local" && c.Measures.Source != "github" {
		problems = append(problems, "measures source must be 'local' or 'github'")
	}
	if err := c.Cache.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", model.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration reads a whole number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	seconds := getEnvAsInt(key, -1)
	if seconds < 0 {
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}

// errMissing reports a required environment variable
func errMissing(key string) error {
	return errors.New(key + " environment variable is required")
}
