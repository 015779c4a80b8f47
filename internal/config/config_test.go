package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadServer_Defaults(t *testing.T) {
	req := require.New(t)
	cfg, err := LoadServer()
	req.NoError(err)

	req.Equal("127.0.0.1:65432", cfg.Addr())
	req.True(cfg.MetricsEnabled())
	req.Equal(4096, cfg.MaxMessageSize)
	req.Equal(10*time.Second, cfg.WriteTimeout)
	req.Equal(5*time.Second, cfg.ShutdownTimeout)
	req.Empty(cfg.Words())

	r, err := cfg.CensorRune()
	req.NoError(err)
	req.Equal('*', r)
}

func TestLoadServer_FromEnvironment(t *testing.T) {
	req := require.New(t)
	t.Setenv("CHAT_HOST", "0.0.0.0")
	t.Setenv("CHAT_PORT", "7000")
	t.Setenv("METRICS_ADDR", MetricsOff)
	t.Setenv("WRITE_TIMEOUT", "250ms")
	t.Setenv("CENSORED_WORDS", "badger; snake ;;")
	t.Setenv("CENSOR_CHARACTER", "#")

	cfg, err := LoadServer()
	req.NoError(err)
	req.Equal("0.0.0.0:7000", cfg.Addr())
	req.False(cfg.MetricsEnabled())
	req.Equal(250*time.Millisecond, cfg.WriteTimeout)
	req.Equal([]string{"badger", "snake"}, cfg.Words())

	r, err := cfg.CensorRune()
	req.NoError(err)
	req.Equal('#', r)
}

func TestLoadServer_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port out of range", "CHAT_PORT", "70000"},
		{"unknown log level", "LOG_LEVEL", "verbose"},
		{"metrics address without port", "METRICS_ADDR", "localhost"},
		{"multi-rune mask", "CENSOR_CHARACTER", "**"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadServer()
			require.Error(t, err)
		})
	}
}

func TestLoadClient(t *testing.T) {
	req := require.New(t)
	cfg, err := LoadClient()
	req.NoError(err)
	req.Equal("127.0.0.1:65432", cfg.ServerAddress)
	req.True(cfg.Colours)

	t.Setenv("CHAT_SERVER_ADDR", "not-an-address")
	_, err = LoadClient()
	req.Error(err)
}
