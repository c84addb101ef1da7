// Package config loads process configuration from environment variables
// (via a .env file) and an optional structured YAML overlay, the same
// layering the teacher's cmd/*/main.go entrypoints use.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the process's configuration inputs, among them bus capacity,
// override suspension duration, LLM endpoint/model, WebSocket bind address,
// log level and log file path. There is no log format setting.
type Config struct {
	BusCapacity           int           `yaml:"bus_capacity"`
	OverrideSuspension    time.Duration `yaml:"-"`
	OverrideSuspensionSec int           `yaml:"override_suspension_seconds"`

	LLMEndpoint string `yaml:"llm_endpoint"`
	LLMAPIKey   string `yaml:"-"`
	LLMModel    string `yaml:"llm_model"`

	WebSocketBindAddr string `yaml:"websocket_bind_addr"`
	RedisAddr         string `yaml:"redis_addr"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	KafkaGroupID string   `yaml:"kafka_group_id"`

	EpisodicDBPath string `yaml:"episodic_db_path"`

	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`

	MaxLinearSpeed  float64 `yaml:"max_linear_speed"`
	MaxAngularSpeed float64 `yaml:"max_angular_speed"`

	AgentID string `yaml:"agent_id"`
}

func defaults() Config {
	return Config{
		BusCapacity:           256,
		OverrideSuspensionSec: 10,
		LLMModel:              "gpt-4o-mini",
		WebSocketBindAddr:     ":9090",
		EpisodicDBPath:        "mechos_episodic.db",
		KafkaTopic:            "mechos.fleet",
		KafkaGroupID:          "mechos-fleet",
		LogLevel:              "info",
		MaxLinearSpeed:        1.0,
		MaxAngularSpeed:       1.0,
		AgentID:               "agent",
	}
}

// Load builds a Config from, in increasing precedence: built-in defaults,
// an optional YAML file at yamlPath (if non-empty and present), then
// .env/environment variables.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if yamlPath != "" {
		if raw, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return nil, err
			}
		}
	}

	cfg.BusCapacity = intFromEnv("MECHOS_BUS_CAPACITY", cfg.BusCapacity)
	cfg.OverrideSuspensionSec = intFromEnv("MECHOS_OVERRIDE_SUSPENSION_SECONDS", cfg.OverrideSuspensionSec)
	cfg.LLMEndpoint = firstNonEmpty(strings.TrimSpace(os.Getenv("MECHOS_LLM_ENDPOINT")), cfg.LLMEndpoint)
	cfg.LLMAPIKey = firstNonEmpty(strings.TrimSpace(os.Getenv("MECHOS_LLM_API_KEY")), cfg.LLMAPIKey)
	cfg.LLMModel = firstNonEmpty(strings.TrimSpace(os.Getenv("MECHOS_LLM_MODEL")), cfg.LLMModel)
	cfg.WebSocketBindAddr = firstNonEmpty(strings.TrimSpace(os.Getenv("MECHOS_WS_BIND_ADDR")), cfg.WebSocketBindAddr)
	cfg.EpisodicDBPath = firstNonEmpty(strings.TrimSpace(os.Getenv("MECHOS_EPISODIC_DB_PATH")), cfg.EpisodicDBPath)
	cfg.RedisAddr = firstNonEmpty(strings.TrimSpace(os.Getenv("MECHOS_REDIS_ADDR")), cfg.RedisAddr)
	if raw := strings.TrimSpace(os.Getenv("MECHOS_KAFKA_BROKERS")); raw != "" {
		cfg.KafkaBrokers = strings.Split(raw, ",")
	}
	cfg.KafkaTopic = firstNonEmpty(strings.TrimSpace(os.Getenv("MECHOS_KAFKA_TOPIC")), cfg.KafkaTopic)
	cfg.KafkaGroupID = firstNonEmpty(strings.TrimSpace(os.Getenv("MECHOS_KAFKA_GROUP_ID")), cfg.KafkaGroupID)
	cfg.LogLevel = firstNonEmpty(strings.TrimSpace(os.Getenv("MECHOS_LOG_LEVEL")), cfg.LogLevel)
	cfg.LogPath = firstNonEmpty(strings.TrimSpace(os.Getenv("MECHOS_LOG_PATH")), cfg.LogPath)
	cfg.AgentID = firstNonEmpty(strings.TrimSpace(os.Getenv("MECHOS_AGENT_ID")), cfg.AgentID)

	cfg.OverrideSuspension = time.Duration(cfg.OverrideSuspensionSec) * time.Second

	return &cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
