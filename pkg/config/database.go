// pkg/config/database.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// CacheConfig selects and configures the partition cache backend
type CacheConfig struct {
	Backend     string          `yaml:"backend"` // "sqlite" or "postgres"
	Path        string          `yaml:"path"`    // SQLite database file
	Table       string          `yaml:"table"`
	BusyTimeout time.Duration   `yaml:"busy_timeout"`
	Postgres    *PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection parameters
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	// Statement timeout
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// WarehouseConfig describes the historical backfill source
type WarehouseConfig struct {
	CredentialsJSON string        `yaml:"-"` // Never read from a file on disk
	KeyFile         string        `yaml:"key_file"`
	HistoricTable   string        `yaml:"historic_table"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// SnowflakeConfig holds Snowflake connection parameters
type SnowflakeConfig struct {
	User          string
	Password      string
	Account       string
	Warehouse     string
	Database      string
	Schema        string
	Role          string
	Authenticator gosnowflake.AuthType

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Query timeout
	QueryTimeout time.Duration
}

// warehouseCredentials is the JSON document held in WAREHOUSE_CREDENTIALS_JSON
// or the key file
type warehouseCredentials struct {
	Account       string `json:"account"`
	User          string `json:"user"`
	Password      string `json:"password"`
	Warehouse     string `json:"warehouse"`
	Database      string `json:"database"`
	Schema        string `json:"schema"`
	Role          string `json:"role"`
	Authenticator string `json:"authenticator"`
}

func (c *CacheConfig) applyEnv() {
	c.Backend = getEnv("EPD_CACHE_BACKEND", c.Backend)
	c.Path = getEnv("EPD_CACHE_PATH", c.Path)
	c.Table = getEnv("EPD_CACHE_TABLE", c.Table)
	c.BusyTimeout = time.Duration(getEnvAsInt("EPD_CACHE_BUSY_TIMEOUT_MS", int(c.BusyTimeout.Milliseconds()))) * time.Millisecond

	if c.Backend == "postgres" {
		if c.Postgres == nil {
			c.Postgres = &PostgresConfig{}
		}
		c.Postgres.applyEnv()
	}
}

// Validate checks the backend selection
func (c *CacheConfig) Validate() error {
	if c.Table == "" {
		return errors.New("cache table name is required")
	}

	switch c.Backend {
	case "sqlite":
		if c.Path == "" {
			return errors.New("cache path is required for the sqlite backend")
		}
	case "postgres":
		if c.Postgres == nil {
			return errors.New("postgres settings are required for the postgres backend")
		}
		return c.Postgres.Validate()
	default:
		return fmt.Errorf("unknown cache backend %q", c.Backend)
	}
	return nil
}

func (c *PostgresConfig) applyEnv() {
	c.Host = getEnv("POSTGRES_HOST", orDefault(c.Host, "localhost"))
	c.Port = getEnvAsInt("POSTGRES_PORT", orDefaultInt(c.Port, 5432))
	c.User = getEnv("POSTGRES_USER", c.User)
	c.Password = getEnv("POSTGRES_PASSWORD", c.Password)
	c.Database = getEnv("POSTGRES_DB", c.Database)
	c.SSLMode = getEnv("POSTGRES_SSLMODE", orDefault(c.SSLMode, "disable"))

	c.MaxOpenConns = getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", orDefaultInt(c.MaxOpenConns, 10))
	c.MaxIdleConns = getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", orDefaultInt(c.MaxIdleConns, 5))
	c.ConnMaxLifetime = time.Duration(getEnvAsInt("POSTGRES_CONN_MAX_LIFETIME_SECONDS", orDefaultInt(int(c.ConnMaxLifetime.Seconds()), 1800))) * time.Second
	c.ConnMaxIdleTime = time.Duration(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_TIME_SECONDS", orDefaultInt(int(c.ConnMaxIdleTime.Seconds()), 600))) * time.Second
	c.StatementTimeout = time.Duration(getEnvAsInt("POSTGRES_STATEMENT_TIMEOUT_SECONDS", orDefaultInt(int(c.StatementTimeout.Seconds()), 300))) * time.Second
}

// Validate ensures the connection settings are usable
func (c *PostgresConfig) Validate() error {
	if c.User == "" {
		return errMissing("POSTGRES_USER")
	}
	if c.Database == "" {
		return errMissing("POSTGRES_DB")
	}
	return nil
}

// ConnectionString returns a formatted PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}

func (c *WarehouseConfig) applyEnv() {
	c.CredentialsJSON = getEnv("WAREHOUSE_CREDENTIALS_JSON", c.CredentialsJSON)
	c.KeyFile = getEnv("WAREHOUSE_KEY_FILE", c.KeyFile)
	c.HistoricTable = getEnv("WAREHOUSE_HISTORIC_TABLE", c.HistoricTable)
	c.QueryTimeout = getEnvAsDuration("WAREHOUSE_QUERY_TIMEOUT_SECONDS", c.QueryTimeout)
}

// LoadSnowflakeConfig resolves warehouse credentials. The JSON blob in
// WAREHOUSE_CREDENTIALS_JSON wins; the key file is the local fallback.
func (c *WarehouseConfig) LoadSnowflakeConfig() (*SnowflakeConfig, error) {
	var raw []byte
	switch {
	case c.CredentialsJSON != "":
		raw = []byte(c.CredentialsJSON)
	case c.KeyFile != "":
		data, err := os.ReadFile(c.KeyFile)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: no warehouse credentials in WAREHOUSE_CREDENTIALS_JSON and key file %s does not exist",
					model.ErrConfiguration, c.KeyFile)
			}
			return nil, fmt.Errorf("failed to read warehouse key file: %w", err)
		}
		raw = data
	default:
		return nil, fmt.Errorf("%w: no warehouse credentials configured", model.ErrConfiguration)
	}

	var creds warehouseCredentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("%w: warehouse credentials are not valid JSON: %v", model.ErrConfiguration, err)
	}

	if creds.Account == "" {
		return nil, fmt.Errorf("%w: warehouse credentials have no account", model.ErrConfiguration)
	}
	if creds.User == "" {
		return nil, fmt.Errorf("%w: warehouse credentials have no user", model.ErrConfiguration)
	}

	return &SnowflakeConfig{
		User:          creds.User,
		Password:      creds.Password,
		Account:       creds.Account,
		Warehouse:     creds.Warehouse,
		Database:      creds.Database,
		Schema:        creds.Schema,
		Role:          creds.Role,
		Authenticator: parseAuthenticator(creds.Authenticator),

		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: 10 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    c.QueryTimeout,
	}, nil
}

// Convert authenticator string to proper type
func parseAuthenticator(s string) gosnowflake.AuthType {
	switch strings.ToLower(s) {
	case "oauth":
		return gosnowflake.AuthTypeOAuth
	case "externalbrowser":
		return gosnowflake.AuthTypeExternalBrowser
	case "username_password_mfa":
		return gosnowflake.AuthTypeUsernamePasswordMFA
	case "jwt":
		return gosnowflake.AuthTypeJwt
	case "token":
		return gosnowflake.AuthTypeTokenAccessor
	case "okta":
		return gosnowflake.AuthTypeOkta
	default:
		return gosnowflake.AuthTypeSnowflake
	}
}

// Helper function to parse string slice from environment
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result []string
	for _, v := range strings.Split(value, ",") {
		v = strings.Trim(strings.TrimSpace(v), `"`)
		if v != "" {
			result = append(result, v)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func orDefaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}
