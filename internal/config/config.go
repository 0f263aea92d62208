package config

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Change log and blob store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFS       = "fs"
	DriverS3       = "s3"
	DriverNone     = "none"
)

type Config struct {
	Env             string `mapstructure:"ENV"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	OutputDir       string `mapstructure:"OUTPUT_DIR"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32  `mapstructure:"DB_MIN_CONNS"`
	ChangelogDriver string `mapstructure:"CHANGELOG_DRIVER"`
	ChangelogPath   string `mapstructure:"CHANGELOG_PATH"`
	BlobDriver      string `mapstructure:"BLOB_DRIVER"`
	BlobFSRoot      string `mapstructure:"BLOB_FS_ROOT"`
	BlobS3Bucket    string `mapstructure:"BLOB_S3_BUCKET"`
	BlobS3Region    string `mapstructure:"BLOB_S3_REGION"`
	BlobS3Endpoint  string `mapstructure:"BLOB_S3_ENDPOINT"`
	BlobS3PathStyle bool   `mapstructure:"BLOB_S3_PATH_STYLE"`
	Port            string `mapstructure:"PORT"`
	AuthSigningKey  string `mapstructure:"AUTH_SIGNING_KEY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OUTPUT_DIR", "output")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 0)
	v.SetDefault("CHANGELOG_DRIVER", DriverSQLite)
	v.SetDefault("BLOB_DRIVER", DriverNone)
	v.SetDefault("BLOB_S3_REGION", "us-east-1")
	v.SetDefault("PORT", "8000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"ENV", "LOG_LEVEL", "OUTPUT_DIR",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CHANGELOG_DRIVER", "CHANGELOG_PATH",
		"BLOB_DRIVER", "BLOB_FS_ROOT", "BLOB_S3_BUCKET", "BLOB_S3_REGION", "BLOB_S3_ENDPOINT", "BLOB_S3_PATH_STYLE",
		"PORT", "AUTH_SIGNING_KEY",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Level returns the configured log level.
func (c *Config) Level() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(c.LogLevel)
}

// Validate checks the driver combinations before any study is processed.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	if c.DBMaxConns < 0 || c.DBMinConns < 0 {
		return fmt.Errorf("DB_MAX_CONNS and DB_MIN_CONNS must not be negative")
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	switch c.ChangelogDriver {
	case DriverSQLite, DriverNone:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CHANGELOG_DRIVER is %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("CHANGELOG_DRIVER must be \"sqlite\", \"postgres\", or \"none\", got %q", c.ChangelogDriver)
	}

	switch c.BlobDriver {
	case DriverNone:
	case DriverFS:
		if c.BlobFSRoot == "" {
			return fmt.Errorf("BLOB_FS_ROOT is required when BLOB_DRIVER is %q", DriverFS)
		}
	case DriverS3:
		if c.BlobS3Bucket == "" {
			return fmt.Errorf("BLOB_S3_BUCKET is required when BLOB_DRIVER is %q", DriverS3)
		}
		if c.BlobS3Region == "" {
			return fmt.Errorf("BLOB_S3_REGION is required when BLOB_DRIVER is %q", DriverS3)
		}
	default:
		return fmt.Errorf("BLOB_DRIVER must be \"fs\", \"s3\", or \"none\", got %q", c.BlobDriver)
	}
	return nil
}
