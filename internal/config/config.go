// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends for the raw submission archive.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	App        AppConfig        `mapstructure:"app"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Recaptcha  RecaptchaConfig  `mapstructure:"recaptcha"`
	Phone      PhoneConfig      `mapstructure:"phone"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	CRM        CRMConfig        `mapstructure:"crm"`
	Sheets     SheetsConfig     `mapstructure:"sheets"`
	Conversion ConversionConfig `mapstructure:"conversion"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	AMQP       AMQPConfig       `mapstructure:"amqp"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	CORS       CORSConfig       `mapstructure:"cors"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int   `mapstructure:"port"`
	RequestTimeoutSeconds int   `mapstructure:"request_timeout_seconds"`
	MaxBodyBytes          int64 `mapstructure:"max_body_bytes"`
	ShutdownSeconds       int   `mapstructure:"shutdown_seconds"`
}

// AppConfig describes the deployment.
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ThrottleConfig sets the per-address submission quota.
type ThrottleConfig struct {
	Requests      int `mapstructure:"requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxClients    int `mapstructure:"max_clients"`
}

// RecaptchaConfig configures bot-check token verification.
type RecaptchaConfig struct {
	SecretKey      string  `mapstructure:"secret_key"`
	VerifyURL      string  `mapstructure:"verify_url"`
	MinScore       float64 `mapstructure:"min_score"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// PhoneConfig configures the phone validation service and its cache.
type PhoneConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	DefaultCountry string `mapstructure:"default_country"`
	CacheTTLHours  int    `mapstructure:"cache_ttl_hours"`
	CacheSize      int    `mapstructure:"cache_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DispatchConfig configures lead delivery.
type DispatchConfig struct {
	SinkTimeoutSeconds int           `mapstructure:"sink_timeout_seconds"`
	Primary            PrimaryConfig `mapstructure:"primary"`
	Legacy             WebhookConfig `mapstructure:"legacy"`
}

// PrimaryConfig gates the primary business webhook.
type PrimaryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// WebhookConfig points at a JSON webhook. An empty URL disables it.
type WebhookConfig struct {
	URL string `mapstructure:"url"`
}

// CRMConfig holds CRM API credentials and pipeline placement.
type CRMConfig struct {
	APIKey     string `mapstructure:"api_key"`
	LocationID string `mapstructure:"location_id"`
	PipelineID string `mapstructure:"pipeline_id"`
	StageID    string `mapstructure:"stage_id"`
	BaseURL    string `mapstructure:"base_url"`
}

// SheetsConfig locates the lead spreadsheets.
type SheetsConfig struct {
	CredentialsJSON       string `mapstructure:"credentials_json"`
	CredentialsFile       string `mapstructure:"credentials_file"`
	PropertySpreadsheetID string `mapstructure:"property_spreadsheet_id"`
	BusinessSpreadsheetID string `mapstructure:"business_spreadsheet_id"`
	SheetName             string `mapstructure:"sheet_name"`
}

// ConversionConfig configures offline conversion uploads.
type ConversionConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIURL         string `mapstructure:"api_url"`
	CustomerID     string `mapstructure:"customer_id"`
	APIKey         string `mapstructure:"api_key"`
	DeveloperToken string `mapstructure:"developer_token"`
	PropertyLabel  string `mapstructure:"property_label"`
	BusinessLabel  string `mapstructure:"business_label"`
	Currency       string `mapstructure:"currency"`
}

// StorageConfig selects the archive backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls access to the ledger database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for lead event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AMQPConfig points lead events at a RabbitMQ topic exchange.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// LedgerConfig selects the SQLite ledger or sizes the in-memory one. Both
// apply only when db.dsn is empty.
type LedgerConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
	Size       int    `mapstructure:"size"`
	TTLHours   int    `mapstructure:"ttl_hours"`
}

// CORSConfig lists allowed browser origins.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoadEnvFile exports the variables in a dotenv file that are not already
// set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Hosting platforms inject PORT.
	if err := v.BindEnv("server.port", "INTAKE_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.max_body_bytes", 64<<10)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("app.environment", "production")
	v.SetDefault("logging.development", false)
	v.SetDefault("throttle.requests", 5)
	v.SetDefault("throttle.window_seconds", 60)
	v.SetDefault("throttle.max_clients", 10000)
	v.SetDefault("recaptcha.verify_url", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("recaptcha.min_score", 0.5)
	v.SetDefault("recaptcha.timeout_seconds", 5)
	v.SetDefault("phone.base_url", "http://apilayer.net/api/validate")
	v.SetDefault("phone.default_country", "US")
	v.SetDefault("phone.cache_ttl_hours", 24)
	v.SetDefault("phone.cache_size", 10000)
	v.SetDefault("phone.timeout_seconds", 5)
	v.SetDefault("dispatch.sink_timeout_seconds", 10)
	v.SetDefault("dispatch.primary.enabled", false)
	v.SetDefault("sheets.sheet_name", "Sheet1")
	v.SetDefault("conversion.enabled", false)
	v.SetDefault("conversion.api_url", "https://googleads.googleapis.com/v15")
	v.SetDefault("conversion.currency", "USD")
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.prefix", "submissions")
	v.SetDefault("storage.local_dir", "./data")
	v.SetDefault("db.table", "lead_submissions")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("amqp.exchange", "leads")
	v.SetDefault("ledger.size", 100000)
	v.SetDefault("ledger.ttl_hours", 24)

	// Unmarshal only sees keys Viper knows about, so secrets and URLs that
	// usually arrive through the environment get empty defaults.
	for _, key := range []string{
		"recaptcha.secret_key",
		"phone.api_key",
		"dispatch.primary.url",
		"dispatch.legacy.url",
		"crm.api_key", "crm.location_id", "crm.pipeline_id", "crm.stage_id", "crm.base_url",
		"sheets.credentials_json", "sheets.credentials_file",
		"sheets.property_spreadsheet_id", "sheets.business_spreadsheet_id",
		"conversion.customer_id", "conversion.api_key", "conversion.developer_token",
		"conversion.property_label", "conversion.business_label",
		"storage.gcs_bucket",
		"db.dsn",
		"pubsub.project_id", "pubsub.topic_name",
		"amqp.url",
		"ledger.sqlite_path",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("cors.allowed_origins", []string{})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Throttle.Requests <= 0 {
		return fmt.Errorf("throttle.requests must be > 0")
	}
	if c.Throttle.WindowSeconds <= 0 {
		return fmt.Errorf("throttle.window_seconds must be > 0")
	}
	if c.Throttle.MaxClients <= 0 {
		return fmt.Errorf("throttle.max_clients must be > 0")
	}
	if c.Recaptcha.MinScore < 0 || c.Recaptcha.MinScore > 1 {
		return fmt.Errorf("recaptcha.min_score must be within [0, 1]")
	}
	if c.Dispatch.SinkTimeoutSeconds <= 0 {
		return fmt.Errorf("dispatch.sink_timeout_seconds must be > 0")
	}
	if c.Dispatch.Primary.Enabled && c.Dispatch.Primary.URL == "" {
		return fmt.Errorf("dispatch.primary.url must be set when the primary webhook is enabled")
	}
	if (c.CRM.APIKey == "") != (c.CRM.LocationID == "") {
		return fmt.Errorf("crm.api_key and crm.location_id must be set together")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.PubSub.ProjectID != "" && c.AMQP.URL != "" {
		return fmt.Errorf("configure either pubsub or amqp.url for lead events, not both")
	}
	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		return fmt.Errorf("amqp.exchange must be set with amqp.url")
	}
	if c.Conversion.Enabled {
		if c.Conversion.CustomerID == "" || c.Conversion.APIKey == "" || c.Conversion.DeveloperToken == "" {
			return fmt.Errorf("conversion.customer_id, api_key and developer_token are required when conversion is enabled")
		}
	}
	if c.DB.DSN != "" && c.Ledger.SQLitePath != "" {
		return fmt.Errorf("configure either db.dsn or ledger.sqlite_path, not both")
	}
	if c.DB.DSN == "" && c.Ledger.SQLitePath == "" && c.Ledger.Size <= 0 {
		return fmt.Errorf("ledger.size must be > 0 without a db.dsn")
	}
	return nil
}

// Development reports whether error details may be exposed to clients.
func (c Config) Development() bool {
	return strings.EqualFold(c.App.Environment, "development")
}

// SheetsEnabled reports whether spreadsheet credentials are configured.
func (c Config) SheetsEnabled() bool {
	return c.Sheets.CredentialsJSON != "" || c.Sheets.CredentialsFile != ""
}

// RequestTimeout bounds one HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ThrottleWindow is the quota window.
func (c Config) ThrottleWindow() time.Duration {
	return time.Duration(c.Throttle.WindowSeconds) * time.Second
}

// SinkTimeout bounds one sink delivery.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Dispatch.SinkTimeoutSeconds) * time.Second
}

// PhoneCacheTTL is how long phone lookups are reused.
func (c Config) PhoneCacheTTL() time.Duration {
	return time.Duration(c.Phone.CacheTTLHours) * time.Hour
}

// LedgerTTL is how long the in-memory ledger remembers a lead id.
func (c Config) LedgerTTL() time.Duration {
	return time.Duration(c.Ledger.TTLHours) * time.Hour
}
