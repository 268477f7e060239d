// --- File: pushrelay/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRelationConfig struct {
	Name        string `yaml:"name"`
	FilterField string `yaml:"filter_field"`
	SelectField string `yaml:"select_field"`
}

type YamlStoreConfig struct {
	Backend string             `yaml:"backend"`
	URL     string             `yaml:"url"`
	Timeout string             `yaml:"timeout"`
	Members YamlRelationConfig `yaml:"members"`
	Tokens  YamlRelationConfig `yaml:"tokens"`
}

type YamlFirebaseConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SendTimeout     string `yaml:"send_timeout"`
}

type YamlResolverConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// Secrets (store key, firebase blob) are only read from the environment.
type YamlConfig struct {
	ServiceName            string             `yaml:"service_name"`
	ProjectID              string             `yaml:"project_id"`
	ListenAddr             string             `yaml:"listen_addr"`
	MetricsPath            string             `yaml:"metrics_path"`
	TopicID                string             `yaml:"topic_id"`
	SubscriptionID         string             `yaml:"subscription_id"`
	SubscriptionDLQTopicID string             `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig     `yaml:"cors"`
	StoreConfig            YamlStoreConfig    `yaml:"store"`
	FirebaseConfig         YamlFirebaseConfig `yaml:"firebase"`
	ResolverConfig         YamlResolverConfig `yaml:"resolver"`
	RedisConfig            YamlRedisConfig    `yaml:"redis"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	storeTimeout, err := parseOptionalDuration("store.timeout", baseCfg.StoreConfig.Timeout)
	if err != nil {
		return nil, err
	}
	sendTimeout, err := parseOptionalDuration("firebase.send_timeout", baseCfg.FirebaseConfig.SendTimeout)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseOptionalDuration("redis.ttl", baseCfg.RedisConfig.TTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServiceName: baseCfg.ServiceName,
		ProjectID:   baseCfg.ProjectID,
		ListenAddr:  baseCfg.ListenAddr,
		MetricsPath: baseCfg.MetricsPath,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Store: StoreConfig{
			Backend: baseCfg.StoreConfig.Backend,
			URL:     baseCfg.StoreConfig.URL,
			Timeout: storeTimeout,
			Members: RelationConfig(baseCfg.StoreConfig.Members),
			Tokens:  RelationConfig(baseCfg.StoreConfig.Tokens),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: baseCfg.FirebaseConfig.CredentialsFile,
			SendTimeout:     sendTimeout,
		},
		Resolver: ResolverConfig{
			MaxConcurrency: baseCfg.ResolverConfig.MaxConcurrency,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      cacheTTL,
		},
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"service_name", cfg.ServiceName,
		"listen_addr", cfg.ListenAddr,
		"store_backend", cfg.Store.Backend,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}

func parseOptionalDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
