package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "drugs", cfg.DrugPath)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.EngineTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 4, cfg.Workers)
	assert.False(t, cfg.UsesEngine())
	assert.False(t, cfg.UsesDatabase())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("TDM_DRUG_PATH", "/srv/drugs")
	t.Setenv("TDM_ENGINE_URL", "http://engine:9000")
	t.Setenv("TDM_ENGINE_TIMEOUT", "5s")
	t.Setenv("TDM_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TDM_WORKERS", "8")
	t.Setenv("DRUG_PATH", "ignored")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/drugs", cfg.DrugPath)
	assert.True(t, cfg.UsesEngine())
	assert.Equal(t, 5*time.Second, cfg.EngineTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 8, cfg.Workers)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("TDM_WORKERS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKERS")
}

func TestBindFlags(t *testing.T) {
	t.Setenv("TDM_OUTPUT_PATH", "/from/env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("output", "", "")
	require.NoError(t, fs.Parse([]string{"--output", "/from/flag"}))

	v := New()
	require.NoError(t, BindFlags(v, fs, map[string]string{"output": "OUTPUT_PATH"}))
	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.OutputPath)

	assert.Error(t, BindFlags(v, fs, map[string]string{"missing": "PORT"}))
}

func TestAPIClients(t *testing.T) {
	t.Setenv("TDM_API_KEYS", "k1,,k3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "client-1", "k3": "client-3"}, cfg.APIClients())

	assert.Empty(t, (&Config{}).APIClients())
}
