// Package config provides a minimal environment-backed configuration loader
// used by the yuanjing-core bootstrap (cmd/yuanjing-core/main.go).
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the small set of runtime config values used by main.go.
// Keep this intentionally minimal — we can expand later.
type Config struct {
	ListenAddr string // LISTEN_ADDR (default :8080)

	KeyPath        string // IDENTITY_KEY_PATH (default ./data/identity.key)
	KVPath         string // KV_PATH (default ./data/yuanjing.db)
	FingerprintDir string // FINGERPRINT_SPOOL_DIR, unused unless uploads are spooled to disk

	RequireKMS  bool   // REQUIRE_KMS
	KMSEndpoint string // KMS_ENDPOINT
	SignerID    string // LOCAL_SIGNER_ID (fallback signer id)

	AuthHS256Secret string // AUTH_HS256_SECRET (optional bearer-token guard)

	DatabaseURL string // DATABASE_URL (optional whitelist mirror)

	KafkaBrokers []string // KAFKA_BROKERS (comma separated)
	KafkaTopic   string   // KAFKA_TOPIC
	S3Bucket     string   // S3_BUCKET
	S3Prefix     string   // S3_PREFIX

	FingerprintPoolSize int // FINGERPRINT_POOL_SIZE (default 4)

	TLSCertPath     string // TLS_CERT_PATH
	TLSKeyPath      string // TLS_KEY_PATH
	TLSClientCAPath string // TLS_CLIENT_CA_PATH
	RequireMTLS     bool   // REQUIRE_MTLS
}

// LoadFromEnv reads config values from environment variables and returns a Config pointer.
func LoadFromEnv() *Config {
	cfg := &Config{
		ListenAddr: os.Getenv("LISTEN_ADDR"),

		KeyPath:        os.Getenv("IDENTITY_KEY_PATH"),
		KVPath:         os.Getenv("KV_PATH"),
		FingerprintDir: os.Getenv("FINGERPRINT_SPOOL_DIR"),

		KMSEndpoint: os.Getenv("KMS_ENDPOINT"),
		SignerID:    os.Getenv("LOCAL_SIGNER_ID"),

		AuthHS256Secret: os.Getenv("AUTH_HS256_SECRET"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		KafkaTopic: os.Getenv("KAFKA_TOPIC"),
		S3Bucket:   os.Getenv("S3_BUCKET"),
		S3Prefix:   os.Getenv("S3_PREFIX"),

		TLSCertPath:     os.Getenv("TLS_CERT_PATH"),
		TLSKeyPath:      os.Getenv("TLS_KEY_PATH"),
		TLSClientCAPath: os.Getenv("TLS_CLIENT_CA_PATH"),
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.KeyPath == "" {
		cfg.KeyPath = "./data/identity.key"
	}
	if cfg.KVPath == "" {
		cfg.KVPath = "./data/yuanjing.db"
	}
	if cfg.SignerID == "" {
		cfg.SignerID = "yuanjing-core-1"
	}

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			b = strings.TrimSpace(b)
			if b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	cfg.FingerprintPoolSize = 4
	if v := os.Getenv("FINGERPRINT_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FingerprintPoolSize = n
		}
	}

	if v := os.Getenv("REQUIRE_KMS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireKMS = b
		}
	}
	if v := os.Getenv("REQUIRE_MTLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RequireMTLS = b
		}
	}

	return cfg
}

// ExportEnabled reports whether enough configuration is present to start the
// Kafka/S3 evidence export streamer (see internal/export).
func (c *Config) ExportEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != "" && c.S3Bucket != ""
}
