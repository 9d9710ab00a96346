package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	DataDir       string
	JWTSigningKey string
	OwnerID       string
	QueueSize     int
	SweepInterval time.Duration

	Chat  ChatConfig
	Redis RedisConfig
	Audit AuditConfig
}

// ChatConfig points at the chat platform's REST gateway.
type ChatConfig struct {
	BaseURL string
	Token   string
}

// RedisConfig configures the optional ban lookup cache.
type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuditConfig selects the audit store and optional broker fan-out.
type AuditConfig struct {
	PostgresDSN  string
	KafkaBrokers []string
	KafkaTopic   string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("WARDEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	dataDir := os.Getenv("WARDEN_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	jwtSigningKey := os.Getenv("WARDEN_JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("WARDEN_KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	return Server{
		Addr:          addr,
		DataDir:       dataDir,
		JWTSigningKey: jwtSigningKey,
		OwnerID:       os.Getenv("WARDEN_OWNER_ID"),
		QueueSize:     256,
		SweepInterval: 24 * time.Hour,
		Chat: ChatConfig{
			BaseURL: os.Getenv("WARDEN_CHAT_BASE_URL"),
			Token:   os.Getenv("WARDEN_CHAT_TOKEN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("WARDEN_REDIS_URL"),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			PostgresDSN:  os.Getenv("WARDEN_AUDIT_DSN"),
			KafkaBrokers: brokers,
			KafkaTopic:   os.Getenv("WARDEN_KAFKA_TOPIC"),
		},
	}
}
