package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration, read from the environment
// with optional .env overrides.
type Config struct {
	Port     string
	DBPath   string
	LogLevel string

	TokenSecret string
	SessionTTL  time.Duration

	Push   PushConfig
	Backup BackupConfig
}

// PushConfig holds VAPID keys for web push. Empty keys disable reminders.
type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	ExpiryLead      time.Duration
}

// BackupConfig holds S3-compatible backup settings. An empty bucket disables
// backups.
type BackupConfig struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	Passphrase string
	Interval   time.Duration
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be fully set already.
	godotenv.Load()

	cfg := &Config{
		Port:        getEnv("LARDER_PORT", "8080"),
		DBPath:      getEnv("LARDER_DB_PATH", "larder.db"),
		LogLevel:    getEnv("LARDER_LOG_LEVEL", "info"),
		TokenSecret: os.Getenv("LARDER_TOKEN_SECRET"),
		SessionTTL:  getEnvDuration("LARDER_SESSION_TTL", 30*24*time.Hour),
		Push: PushConfig{
			VAPIDPublicKey:  os.Getenv("LARDER_VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("LARDER_VAPID_PRIVATE_KEY"),
			Subscriber:      getEnv("LARDER_VAPID_SUBSCRIBER", "mailto:noreply@larder.local"),
			ExpiryLead:      getEnvDuration("LARDER_EXPIRY_LEAD", 48*time.Hour),
		},
		Backup: BackupConfig{
			Endpoint:   os.Getenv("LARDER_S3_ENDPOINT"),
			Bucket:     os.Getenv("LARDER_S3_BUCKET"),
			Region:     getEnv("LARDER_S3_REGION", "us-east-1"),
			AccessKey:  os.Getenv("LARDER_S3_ACCESS_KEY"),
			SecretKey:  os.Getenv("LARDER_S3_SECRET_KEY"),
			Passphrase: os.Getenv("LARDER_BACKUP_PASSPHRASE"),
			Interval:   getEnvDuration("LARDER_BACKUP_INTERVAL", 24*time.Hour),
		},
	}

	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("LARDER_TOKEN_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
