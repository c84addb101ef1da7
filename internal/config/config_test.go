package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithoutEnvOrFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.BusCapacity)
	assert.Equal(t, "gpt-4o-mini", cfg.LLMModel)
	assert.Equal(t, 10, cfg.OverrideSuspensionSec)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("MECHOS_BUS_CAPACITY", "512")
	t.Setenv("MECHOS_LLM_MODEL", "llama3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.BusCapacity)
	assert.Equal(t, "llama3", cfg.LLMModel)
}

func TestIntFromEnvFallsBackOnBadValue(t *testing.T) {
	t.Setenv("MECHOS_BUS_CAPACITY", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.BusCapacity)
}

func TestLoadSplitsKafkaBrokersFromEnv(t *testing.T) {
	t.Setenv("MECHOS_KAFKA_BROKERS", "broker-a:9092,broker-b:9092")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.KafkaBrokers)
}
