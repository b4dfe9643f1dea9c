// Package config provides configuration loading and management for the
// listing service. It handles environment variable parsing and provides
// default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// In development, it loads .env and .env.local files if they exist.
// In production, it relies solely on system environment variables.
// godotenv.Load() does not override already-set environment variables,
// preserving OS env > .env precedence.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// .env.local holds local overrides and is gitignored
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the listing service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // Database connection string (PostgreSQL)
	NATSURL     string // NATS server URL for listing events

	// Marketplace API credentials. These are carried verbatim; the token
	// manager decides whether they are usable.
	ClientID     string // OAuth client id
	ClientSecret string // OAuth client secret
	RefreshToken string // Long-lived refresh token

	// Marketplace API endpoints and identity
	AuthEndpoint    string // OAuth token endpoint
	APIEndpoint     string // Selling-partner API base URL
	MarketplaceID   string // Target marketplace identifier
	MarketplaceName string // Human-readable marketplace name for form fields
	Locale          string // Locale for schema resolution

	// Cache tuning
	RequirementsTTL time.Duration // KV-cache TTL for normalized requirements
	SearchTTL       time.Duration // KV-cache TTL for product-type search results
	SchemaCacheDir  string        // Directory for the disk blob cache

	// Optional S3-compatible blob cache (takes precedence over the disk tier)
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// Inbound API authentication
	JWTIssuer   string // Expected issuer for JWT validation
	JWTAudience string // Expected audience for JWT validation
}

// Default configuration values used when environment variables are not set
const (
	defaultPort            = "8080"
	defaultEnv             = "dev"
	defaultAuthEndpoint    = "https://api.amazon.com/auth/o2/token"
	defaultAPIEndpoint     = "https://sellingpartnerapi-na.amazon.com"
	defaultMarketplaceID   = "ATVPDKIKX0DER"
	defaultMarketplaceName = "amazon"
	defaultLocale          = "en_US"
	defaultS3Region        = "us-east-1"
	defaultSchemaCacheDir  = "/tmp/sellerbridge-schema-cache"
	defaultRequirementsTTL = time.Hour
	defaultSearchTTL       = 30 * time.Minute
)

// Load reads environment variables and produces a Config suitable for
// wiring the service. It handles both required and optional parameters,
// providing defaults where appropriate.
func Load() (Config, error) {
	cfg := Config{}

	cfg.Env = getEnv("SLE_ENV", defaultEnv)
	cfg.Port = getEnv("SLE_PORT", defaultPort)
	cfg.DatabaseDSN = os.Getenv("SLE_DB_DSN")
	cfg.NATSURL = os.Getenv("SLE_NATS_URL")

	// Credentials are read raw. A value of "0" counts as unset downstream;
	// that rule belongs to the token manager, not to loading.
	cfg.ClientID = os.Getenv("SLE_LWA_CLIENT_ID")
	cfg.ClientSecret = os.Getenv("SLE_LWA_CLIENT_SECRET")
	cfg.RefreshToken = os.Getenv("SLE_LWA_REFRESH_TOKEN")

	cfg.AuthEndpoint = getEnv("SLE_AUTH_ENDPOINT", defaultAuthEndpoint)
	cfg.APIEndpoint = getEnv("SLE_API_ENDPOINT", defaultAPIEndpoint)
	cfg.MarketplaceID = getEnv("SLE_MARKETPLACE_ID", defaultMarketplaceID)
	cfg.MarketplaceName = getEnv("SLE_MARKETPLACE_NAME", defaultMarketplaceName)
	cfg.Locale = getEnv("SLE_LOCALE", defaultLocale)

	cfg.RequirementsTTL = getDuration("SLE_REQUIREMENTS_TTL_SECONDS", defaultRequirementsTTL)
	cfg.SearchTTL = getDuration("SLE_SEARCH_TTL_SECONDS", defaultSearchTTL)
	cfg.SchemaCacheDir = getEnv("SLE_SCHEMA_CACHE_DIR", defaultSchemaCacheDir)

	cfg.S3Endpoint = os.Getenv("SLE_S3_ENDPOINT")
	cfg.S3Region = getEnv("SLE_S3_REGION", defaultS3Region)
	cfg.S3Bucket = os.Getenv("SLE_S3_BUCKET")
	cfg.S3AccessKey = os.Getenv("SLE_S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("SLE_S3_SECRET_KEY")

	cfg.JWTIssuer = os.Getenv("SLE_JWT_ISSUER")
	cfg.JWTAudience = os.Getenv("SLE_JWT_AUDIENCE")

	// Validate required parameters
	if cfg.JWTIssuer == "" {
		return cfg, fmt.Errorf("SLE_JWT_ISSUER is required")
	}
	if cfg.JWTAudience == "" {
		return cfg, fmt.Errorf("SLE_JWT_AUDIENCE is required")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if
// not set or empty.
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// getDuration reads a whole-seconds environment variable, returning a
// fallback if not set or unparseable.
func getDuration(key string, fallback time.Duration) time.Duration {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
