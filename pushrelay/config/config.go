// --- File: pushrelay/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	BackendPostgrest = "postgrest"
	BackendFirestore = "firestore"
)

// Defaults applied during validation.
const (
	DefaultServiceName     = "push-relay"
	DefaultListenAddr      = ":8080"
	DefaultMetricsPath     = "/relay/metrics"
	DefaultCredentialsFile = "serviceAccountKey.json"
	DefaultTimeout         = 10 * time.Second
	DefaultCacheTTL        = 5 * time.Minute
	DefaultMaxConcurrency  = 8
)

// Default schema of the group data store.
var (
	DefaultMembersRelation = RelationConfig{Name: "vacanza_partecipanti", FilterField: "vacanza_id", SelectField: "user_id"}
	DefaultTokensRelation  = RelationConfig{Name: "user_tokens", FilterField: "user_id", SelectField: "token"}
)

// RelationConfig names one relation and the fields used to filter and select it.
type RelationConfig struct {
	Name        string
	FilterField string
	SelectField string
}

type StoreConfig struct {
	Backend    string
	URL        string
	ServiceKey string
	Timeout    time.Duration
	Members    RelationConfig
	Tokens     RelationConfig
}

type FirebaseConfig struct {
	// CredentialsJSON is the service account blob; it wins over CredentialsFile.
	CredentialsJSON string
	CredentialsFile string
	SendTimeout     time.Duration
}

type ResolverConfig struct {
	MaxConcurrency int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ServiceName string
	ProjectID   string
	ListenAddr  string
	MetricsPath string

	CorsConfig middleware.CorsConfig
	Store      StoreConfig
	Firebase   FirebaseConfig
	Resolver   ResolverConfig
	Redis      RedisConfig

	// Pub/Sub ingress; disabled while SubscriptionID is empty.
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// PubsubEnabled reports whether the Pub/Sub ingress is configured.
func (c *Config) PubsubEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	overrideString(logger, "SERVICE_NAME", &cfg.ServiceName)
	overrideString(logger, "PROJECT_ID", &cfg.ProjectID)
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	overrideString(logger, "METRICS_PATH", &cfg.MetricsPath)

	// Data store
	overrideString(logger, "STORE_BACKEND", &cfg.Store.Backend)
	overrideString(logger, "SUPABASE_URL", &cfg.Store.URL)
	overrideString(logger, "SUPABASE_SERVICE_KEY", &cfg.Store.ServiceKey)
	overrideDuration(logger, "STORE_TIMEOUT", &cfg.Store.Timeout)

	// Push provider
	overrideString(logger, "FIREBASE_KEY", &cfg.Firebase.CredentialsJSON)
	overrideString(logger, "FIREBASE_CREDENTIALS_FILE", &cfg.Firebase.CredentialsFile)
	overrideDuration(logger, "FCM_SEND_TIMEOUT", &cfg.Firebase.SendTimeout)

	if val := os.Getenv("RESOLVER_MAX_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			logger.Debug("Overriding config value", "key", "RESOLVER_MAX_CONCURRENCY", "source", "env")
			cfg.Resolver.MaxConcurrency = n
		}
	}

	// Pub/Sub ingress
	overrideString(logger, "TOPIC_ID", &cfg.TopicID)
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	overrideString(logger, "SUBSCRIPTION_DLQ_TOPIC_ID", &cfg.SubscriptionDLQTopicID)
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}
	overrideDuration(logger, "REDIS_TTL", &cfg.Redis.TTL)

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	applyDefaults(cfg)

	switch cfg.Store.Backend {
	case BackendPostgrest:
		if cfg.Store.URL == "" {
			return nil, fmt.Errorf("store url is required for the postgrest backend (set via YAML or SUPABASE_URL env var)")
		}
		if cfg.Store.ServiceKey == "" {
			return nil, fmt.Errorf("store service key is required for the postgrest backend (set SUPABASE_SERVICE_KEY env var)")
		}
	case BackendFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for the firestore backend (set via YAML or PROJECT_ID env var)")
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if cfg.PubsubEnabled() {
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required when subscription_id is set")
		}
		if cfg.PubsubConsumerConfig == nil {
			cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
		}
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required when redis is enabled (set REDIS_ADDR env var)")
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = DefaultMetricsPath
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendPostgrest
	}
	defaultRelation(&cfg.Store.Members, DefaultMembersRelation)
	defaultRelation(&cfg.Store.Tokens, DefaultTokensRelation)
	if cfg.Store.Timeout <= 0 {
		cfg.Store.Timeout = DefaultTimeout
	}
	if cfg.Firebase.CredentialsFile == "" {
		cfg.Firebase.CredentialsFile = DefaultCredentialsFile
	}
	if cfg.Firebase.SendTimeout <= 0 {
		cfg.Firebase.SendTimeout = DefaultTimeout
	}
	if cfg.Resolver.MaxConcurrency <= 0 {
		cfg.Resolver.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = DefaultCacheTTL
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
}

func defaultRelation(rel *RelationConfig, def RelationConfig) {
	if rel.Name == "" {
		rel.Name = def.Name
	}
	if rel.FilterField == "" {
		rel.FilterField = def.FilterField
	}
	if rel.SelectField == "" {
		rel.SelectField = def.SelectField
	}
}

func overrideString(logger *slog.Logger, key string, dest *string) {
	if val := os.Getenv(key); val != "" {
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dest = val
	}
}

func overrideDuration(logger *slog.Logger, key string, dest *time.Duration) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		logger.Warn("Ignoring invalid duration override", "key", key, "value", val)
		return
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dest = d
}
