// Package config loads the engine's environment-variable-driven
// configuration, grounded on internal/platform/db/config.go's
// getEnv/LoadConfig/development-defaults pattern.
package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingRootKey is returned outside development mode when
// AEGIS_ROOT_PUBLIC_KEY or AEGIS_ROOT_PRIVATE_KEY is unset and no
// AEGIS_ROOT_KEYRING_PATH is given.
var ErrMissingRootKey = errors.New("config: AEGIS_ROOT_PUBLIC_KEY/AEGIS_ROOT_PRIVATE_KEY environment variables not set")

// Config is the structured configuration object named by spec.md §6:
// filter_lag_L, state_dim_n, hex_resolution, altitude_bucket_m,
// gate_radius_m, mahalanobis_threshold, retirement_threshold_s,
// max_admissible_latency_s, clock_skew_tolerance_s, root_public_key, plus
// the ambient NATS/Postgres/WebAuthn surface the core's collaborators use.
type Config struct {
	FilterLagL      int
	StateDimN       int
	HexResolution   int
	AltitudeBucketM float64

	GateRadiusM            float64
	MahalanobisThreshold   float64
	RetirementThresholdS   time.Duration
	MaxAdmissibleLatencyS  time.Duration
	ClockSkewToleranceS    time.Duration

	RootPublicKey  []byte
	RootPrivateKey []byte

	NATSHost string
	NATSPort string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	WebAuthnRPID      string
	WebAuthnRPOrigin  string
	WebAuthnRPName    string

	HTTPAddr string

	RootKeyringPath   string
	RootPassphrase    string
	MongoURI          string
	MongoDatabase     string
	MongoKeyCollection string
}

// isDevelopmentMode returns true if AEGIS_ENV is set to "development".
func isDevelopmentMode() bool {
	return os.Getenv("AEGIS_ENV") == "development"
}

// Load reads configuration from the process environment (and a .env file
// in the working directory, if present). In production mode, the root
// keypair (AEGIS_ROOT_PUBLIC_KEY and AEGIS_ROOT_PRIVATE_KEY, or a sealed
// keyring at AEGIS_ROOT_KEYRING_PATH that the caller unseals) and the
// Postgres password must be set explicitly;
// in development mode a freshly generated keypair stands in and a warning
// is printed, mirroring internal/platform/db/config.go's password-handling
// split.
func Load() (*Config, error) {
	_ = godotenv.Load()
	isDev := isDevelopmentMode()

	rootKeyB64 := os.Getenv("AEGIS_ROOT_PUBLIC_KEY")
	rootPrivB64 := os.Getenv("AEGIS_ROOT_PRIVATE_KEY")
	var rootKey, rootPriv []byte
	switch {
	case rootKeyB64 != "" && rootPrivB64 != "":
		decoded, err := base64.StdEncoding.DecodeString(rootKeyB64)
		if err != nil {
			return nil, fmt.Errorf("config: decode AEGIS_ROOT_PUBLIC_KEY: %w", err)
		}
		decodedPriv, err := base64.StdEncoding.DecodeString(rootPrivB64)
		if err != nil {
			return nil, fmt.Errorf("config: decode AEGIS_ROOT_PRIVATE_KEY: %w", err)
		}
		rootKey, rootPriv = decoded, decodedPriv
	case !isDev && os.Getenv("AEGIS_ROOT_KEYRING_PATH") != "":
		// The root keypair is unsealed from the keyring by the caller.
	case !isDev:
		return nil, ErrMissingRootKey
	default:
		fmt.Println("[CONFIG] WARNING: AEGIS_ROOT_PUBLIC_KEY/AEGIS_ROOT_PRIVATE_KEY unset; generating an ephemeral root keypair for development")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("config: generate development root key: %w", err)
		}
		rootKey, rootPriv = pub, priv
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		if !isDev {
			return nil, errors.New("config: POSTGRES_PASSWORD environment variable not set (set AEGIS_ENV=development to use a default)")
		}
		postgresPassword = "dev_postgres_password"
		fmt.Println("[CONFIG] WARNING: Using default POSTGRES_PASSWORD for development")
	}

	cfg := &Config{
		FilterLagL:      getEnvInt("AEGIS_FILTER_LAG_L", 10),
		StateDimN:       getEnvInt("AEGIS_STATE_DIM_N", 6),
		HexResolution:   getEnvInt("AEGIS_HEX_RESOLUTION", 9),
		AltitudeBucketM: getEnvFloat("AEGIS_ALTITUDE_BUCKET_M", 25.0),

		GateRadiusM:           getEnvFloat("AEGIS_GATE_RADIUS_M", 500.0),
		MahalanobisThreshold:  getEnvFloat("AEGIS_MAHALANOBIS_THRESHOLD", 7.815),
		RetirementThresholdS:  getEnvDuration("AEGIS_RETIREMENT_THRESHOLD_S", 30*time.Second),
		MaxAdmissibleLatencyS: getEnvDuration("AEGIS_MAX_ADMISSIBLE_LATENCY_S", 5*time.Second),
		ClockSkewToleranceS:   getEnvDuration("AEGIS_CLOCK_SKEW_TOLERANCE_S", 2*time.Second),

		RootPublicKey:  rootKey,
		RootPrivateKey: rootPriv,

		NATSHost: getEnv("NATS_HOST", "localhost"),
		NATSPort: getEnv("NATS_PORT", "4222"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "aegis"),
		PostgresPassword: postgresPassword,
		PostgresDB:       getEnv("POSTGRES_DB", "aegis"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		WebAuthnRPID:     getEnv("AEGIS_WEBAUTHN_RPID", ""),
		WebAuthnRPOrigin: getEnv("AEGIS_WEBAUTHN_RPORIGIN", ""),
		WebAuthnRPName:   getEnv("AEGIS_WEBAUTHN_RPNAME", "Aegis Fusion Core"),

		HTTPAddr: getEnv("AEGIS_HTTP_ADDR", ":8080"),

		RootKeyringPath:    getEnv("AEGIS_ROOT_KEYRING_PATH", ""),
		RootPassphrase:     getEnv("AEGIS_ROOT_PASSPHRASE", ""),
		MongoURI:           getEnv("MONGO_URI", ""),
		MongoDatabase:      getEnv("MONGO_DATABASE", "aegis"),
		MongoKeyCollection: getEnv("MONGO_PEER_KEY_COLLECTION", "peer_keys"),
	}

	if cfg.StateDimN <= 0 {
		return nil, fmt.Errorf("config: AEGIS_STATE_DIM_N must be > 0, got %d", cfg.StateDimN)
	}
	if cfg.FilterLagL < 0 {
		return nil, fmt.Errorf("config: AEGIS_FILTER_LAG_L must be >= 0, got %d", cfg.FilterLagL)
	}
	if cfg.AltitudeBucketM <= 0 {
		return nil, fmt.Errorf("config: AEGIS_ALTITUDE_BUCKET_M must be > 0, got %v", cfg.AltitudeBucketM)
	}

	return cfg, nil
}

// PostgresDSN builds a libpq connection string from the loaded config.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

// NATSURI builds the NATS server URL.
func (c *Config) NATSURI() string {
	return fmt.Sprintf("nats://%s:%s", c.NATSHost, c.NATSPort)
}

// WebAuthnConfigured reports whether enough fields are set to construct a
// *webauthn.Config for internal/trust/highauth.Gate.
func (c *Config) WebAuthnConfigured() bool {
	return c.WebAuthnRPID != "" && c.WebAuthnRPOrigin != ""
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return time.Duration(secs * float64(time.Second))
}
