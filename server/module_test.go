package server

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"miku/config"
)

func TestModuleGraphValidates(t *testing.T) {
	cfg := &config.Config{}
	cfg.Provider.Type = "ollama"
	require.NoError(t, fx.ValidateApp(Module(cfg, zap.NewNop())))
}

func TestProvideSearcherDisabledWithoutKey(t *testing.T) {
	s, err := provideSearcher(&config.Config{}, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, s)
}
