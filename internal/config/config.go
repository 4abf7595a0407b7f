package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"certichain/certificate-portal/certificate-portal-backend/pkg/ledger"
	"certichain/certificate-portal/certificate-portal-backend/pkg/pdf"
	"certichain/certificate-portal/certificate-portal-backend/pkg/storage"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server"`
	Database     DatabaseConfig     `json:"database" yaml:"database"`
	Ledger       LedgerConfig       `json:"ledger" yaml:"ledger"`
	Render       pdf.Options        `json:"render" yaml:"render"`
	Storage      StorageConfig      `json:"storage" yaml:"storage"`
	Verification VerificationConfig `json:"verification" yaml:"verification"`
	Events       EventsConfig       `json:"events" yaml:"events"`
	Security     SecurityConfig     `json:"security" yaml:"security"`
	Workers      WorkersConfig      `json:"workers" yaml:"workers"`
	Logging      LoggingConfig      `json:"logging" yaml:"logging"`
}

// Duration is a time.Duration written as "30s" or "5m" in config files.
// Bare JSON numbers are seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("invalid duration %s", b)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string   `json:"host" yaml:"host"`
	Port            int      `json:"port" yaml:"port"`
	Mode            string   `json:"mode" yaml:"mode"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MaxUploadBytes bounds multipart bodies for bulk issuance.
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver         string   `json:"driver" yaml:"driver"` // "postgres" or "sqlite"
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port" yaml:"port"`
	User           string   `json:"user" yaml:"user"`
	Password       string   `json:"password" yaml:"password"`
	DBName         string   `json:"db_name" yaml:"db_name"`
	SSLMode        string   `json:"ssl_mode" yaml:"ssl_mode"`
	Path           string   `json:"path" yaml:"path"` // sqlite file
	MaxConnections int      `json:"max_connections" yaml:"max_connections"`
	MaxIdleConns   int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	MaxLifetime    Duration `json:"max_lifetime" yaml:"max_lifetime"`
}

// LedgerConfig selects and configures the ledger client.
type LedgerConfig struct {
	Driver              string   `json:"driver" yaml:"driver"` // "stellar" or "memory"
	Network             string   `json:"network" yaml:"network"`
	HorizonURL          string   `json:"horizon_url" yaml:"horizon_url"`
	IssuerSecret        string   `json:"issuer_secret" yaml:"issuer_secret"`
	ConfirmationTimeout Duration `json:"confirmation_timeout" yaml:"confirmation_timeout"`
	RevokeOnLedger      bool     `json:"revoke_on_ledger" yaml:"revoke_on_ledger"`
}

// Stellar returns the client configuration for the stellar driver.
func (c *LedgerConfig) Stellar() ledger.StellarConfig {
	return ledger.StellarConfig{
		HorizonURL:      c.HorizonURL,
		IssuerSecretKey: c.IssuerSecret,
		Network:         c.Network,
	}
}

// StorageConfig selects where rendered documents are kept.
type StorageConfig struct {
	Driver  string           `json:"driver" yaml:"driver"` // "local" or "s3"
	BaseDir string           `json:"base_dir" yaml:"base_dir"`
	S3      storage.S3Config `json:"s3" yaml:"s3"`
}

type VerificationConfig struct {
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`
	QRSize        int    `json:"qr_size" yaml:"qr_size"`
}

// EventsConfig configures lifecycle event publishing.
type EventsConfig struct {
	Driver   string `json:"driver" yaml:"driver"` // "sns" or "log"
	TopicARN string `json:"topic_arn" yaml:"topic_arn"`
	Region   string `json:"region" yaml:"region"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `json:"issuer" yaml:"issuer"`
}

// WorkersConfig drives the background re-render worker.
type WorkersConfig struct {
	RerenderCron string   `json:"rerender_cron" yaml:"rerender_cron"`
	GracePeriod  Duration `json:"grace_period" yaml:"grace_period"`
	BatchSize    int      `json:"batch_size" yaml:"batch_size"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`
	Environment string `json:"environment" yaml:"environment"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Mode:            "release",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(2 * time.Minute),
			ShutdownTimeout: Duration(10 * time.Second),
			MaxUploadBytes:  10 << 20,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "certificate_portal",
			SSLMode:        "disable",
			Path:           "certificates.db",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    Duration(30 * time.Minute),
		},
		Ledger: LedgerConfig{
			Driver:  "stellar",
			Network: "testnet",
		},
		Render: pdf.DefaultOptions(),
		Storage: StorageConfig{
			Driver:  "local",
			BaseDir: "data/artifacts",
		},
		Verification: VerificationConfig{
			PublicBaseURL: "http://localhost:3000",
			QRSize:        256,
		},
		Events: EventsConfig{Driver: "log"},
		Security: SecurityConfig{
			Issuer: "certificate-portal",
		},
		Workers: WorkersConfig{
			RerenderCron: "0 */5 * * * *",
			GracePeriod:  Duration(5 * time.Minute),
			BatchSize:    50,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "production",
		},
	}
}

// LoadConfig loads configuration from file and environment variables. A
// .env file in the working directory is read first if present. The config
// file is optional; its format follows the extension (.json, .yaml, .yml).
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := decode(configPath, data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func decode(path string, data []byte, config *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	default:
		return json.Unmarshal(data, config)
	}
}

func overrideWithEnv(config *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if err := dst.parse(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("SERVER_HOST", &config.Server.Host)
	num("SERVER_PORT", &config.Server.Port)
	str("GIN_MODE", &config.Server.Mode)

	str("DATABASE_DRIVER", &config.Database.Driver)
	str("DATABASE_HOST", &config.Database.Host)
	num("DATABASE_PORT", &config.Database.Port)
	str("DATABASE_USER", &config.Database.User)
	str("DATABASE_PASSWORD", &config.Database.Password)
	str("DATABASE_DBNAME", &config.Database.DBName)
	str("DATABASE_SSLMODE", &config.Database.SSLMode)
	str("DATABASE_PATH", &config.Database.Path)

	str("LEDGER_DRIVER", &config.Ledger.Driver)
	str("STELLAR_NETWORK", &config.Ledger.Network)
	str("STELLAR_HORIZON_URL", &config.Ledger.HorizonURL)
	str("STELLAR_ISSUER_SECRET", &config.Ledger.IssuerSecret)
	dur("LEDGER_CONFIRMATION_TIMEOUT", &config.Ledger.ConfirmationTimeout)
	flag("LEDGER_REVOKE_ON_LEDGER", &config.Ledger.RevokeOnLedger)

	str("STORAGE_DRIVER", &config.Storage.Driver)
	str("STORAGE_BASE_DIR", &config.Storage.BaseDir)
	str("S3_BUCKET", &config.Storage.S3.Bucket)
	str("S3_REGION", &config.Storage.S3.Region)
	str("S3_ENDPOINT", &config.Storage.S3.Endpoint)
	str("S3_ACCESS_KEY_ID", &config.Storage.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &config.Storage.S3.SecretAccessKey)

	str("RENDER_FONT_DIR", &config.Render.FontDir)
	str("RENDER_FONT_FAMILY", &config.Render.FontFamily)

	str("PUBLIC_BASE_URL", &config.Verification.PublicBaseURL)
	num("QR_SIZE", &config.Verification.QRSize)

	str("EVENTS_DRIVER", &config.Events.Driver)
	str("EVENTS_TOPIC_ARN", &config.Events.TopicARN)
	str("EVENTS_REGION", &config.Events.Region)

	str("JWT_SECRET", &config.Security.JWTSecret)
	str("JWT_ISSUER", &config.Security.Issuer)

	str("RERENDER_CRON", &config.Workers.RerenderCron)
	dur("RERENDER_GRACE_PERIOD", &config.Workers.GracePeriod)
	num("RERENDER_BATCH_SIZE", &config.Workers.BatchSize)

	str("LOG_LEVEL", &config.Logging.Level)
	str("APP_ENV", &config.Logging.Environment)

	return errors.Join(errs...)
}

// Validate checks driver selections and the settings each driver requires.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	switch c.Ledger.Driver {
	case "stellar":
		if c.Ledger.IssuerSecret == "" {
			errs = append(errs, errors.New("ledger.issuer_secret is required for the stellar driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("ledger.driver must be stellar or memory, got %q", c.Ledger.Driver))
	}
	if c.Ledger.ConfirmationTimeout < 0 {
		errs = append(errs, errors.New("ledger.confirmation_timeout must not be negative"))
	}
	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be local or s3, got %q", c.Storage.Driver))
	}
	switch c.Events.Driver {
	case "log":
	case "sns":
		if c.Events.TopicARN == "" {
			errs = append(errs, errors.New("events.topic_arn is required for the sns driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.driver must be sns or log, got %q", c.Events.Driver))
	}
	if c.Verification.PublicBaseURL == "" {
		errs = append(errs, errors.New("verification.public_base_url is required"))
	}
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("security.jwt_secret is required"))
	}
	return errors.Join(errs...)
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
