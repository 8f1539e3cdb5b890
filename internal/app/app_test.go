package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drfirst/go-tdm/internal/computing"
	"github.com/drfirst/go-tdm/internal/config"
	"github.com/drfirst/go-tdm/internal/observability/metrics"
)

func TestNewEngine_DryRun(t *testing.T) {
	e, err := NewEngine(&config.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, computing.DryRunEngine{}, e.Engine)
	assert.Nil(t, e.Breaker)
	assert.True(t, e.Health().Healthy)
	assert.NoError(t, e.Check(context.Background()))
}

func TestNewEngine_HTTP(t *testing.T) {
	cfg := &config.Config{EngineURL: "http://engine:9000", EngineTimeout: time.Second}
	e, err := NewEngine(cfg, metrics.New(nil), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &computing.HTTPEngine{}, e.Engine)
	require.NotNil(t, e.Breaker)
	assert.Equal(t, EngineBreaker, e.Health().Name)
	assert.True(t, e.Health().Healthy)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = NewLogger(false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}
