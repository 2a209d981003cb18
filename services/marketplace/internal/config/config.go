package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/libs/config"
	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type AlgorandConfig struct {
	AlgodAddr    string
	AlgodToken   string
	IndexerAddr  string
	IndexerToken string
	ExplorerURL  string
	RetryWait    time.Duration
}

type KafkaTopics struct {
	Settlements string
	Listings    string
}

type KafkaConfig struct {
	Brokers []string
	Topics  KafkaTopics
}

type RateLimitRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type RateLimitConfig struct {
	BuyLimit int
	Window   time.Duration
	Redis    RateLimitRedisConfig
}

type Config struct {
	App       base.AppConfig
	DB        DBConfig
	Algorand  AlgorandConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("CMKT_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("CMKT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("CMKT_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.settlements", "marketplace.settlements")
	v.SetDefault("kafka.topics.listings", "marketplace.listings")
	v.SetDefault("algorand.algod_addr", "https://testnet-api.algonode.cloud")
	v.SetDefault("algorand.indexer_addr", "https://testnet-idx.algonode.cloud")
	v.SetDefault("algorand.explorer_url", "https://testnet.explorer.perawallet.app")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "carbonmkt"),
			User:     envString("POSTGRES_USER", "carbonmkt"),
			Password: envString("POSTGRES_PASSWORD", "carbonmkt"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Algorand: AlgorandConfig{
			AlgodAddr:    envString("ALGOD_ADDR", v.GetString("algorand.algod_addr")),
			AlgodToken:   envString("ALGOD_TOKEN", v.GetString("algorand.algod_token")),
			IndexerAddr:  envString("INDEXER_ADDR", v.GetString("algorand.indexer_addr")),
			IndexerToken: envString("INDEXER_TOKEN", v.GetString("algorand.indexer_token")),
			ExplorerURL:  envString("EXPLORER_URL", v.GetString("algorand.explorer_url")),
			RetryWait:    envDuration("VERIFY_RETRY_WAIT", 2*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			Topics: KafkaTopics{
				Settlements: envString("KAFKA_SETTLEMENTS_TOPIC", v.GetString("kafka.topics.settlements")),
				Listings:    envString("KAFKA_LISTINGS_TOPIC", v.GetString("kafka.topics.listings")),
			},
		},
		RateLimit: RateLimitConfig{
			BuyLimit: envInt("RATE_LIMIT_BUY_LIMIT", 30),
			Window:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
			Redis: RateLimitRedisConfig{
				Addr:     envString("RATE_LIMIT_REDIS_ADDR", ""),
				Password: envString("RATE_LIMIT_REDIS_PASSWORD", ""),
				DB:       envInt("RATE_LIMIT_REDIS_DB", 0),
				Prefix:   envString("RATE_LIMIT_REDIS_PREFIX", "cmkt:marketplace:rl:"),
			},
		},
	}

	if cfg.Algorand.AlgodAddr == "" {
		return nil, fmt.Errorf("algod address required")
	}
	if cfg.Algorand.IndexerAddr == "" {
		return nil, fmt.Errorf("indexer address required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.Topics.Settlements == "" {
		return nil, fmt.Errorf("kafka settlements topic required")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
