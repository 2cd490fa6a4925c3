package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rickgao/tickhub/internal/auth"
	"github.com/rickgao/tickhub/internal/config"
)

func TestNewDialer(t *testing.T) {
	base := config.FeedConfig{
		URL:         "wss://feed.example.com",
		ClientID:    "42",
		AccessToken: "tok",
	}

	t.Run("disabled feed has no dialer", func(t *testing.T) {
		d, err := newDialer(base, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("enabled with credentials", func(t *testing.T) {
		cfg := base
		cfg.Enabled = true
		d, err := newDialer(cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.NotNil(t, d)
	})

	t.Run("enabled without credentials fails", func(t *testing.T) {
		cfg := base
		cfg.Enabled = true
		cfg.AccessToken = ""
		d, err := newDialer(cfg, zaptest.NewLogger(t))
		assert.ErrorIs(t, err, auth.ErrMissingCredentials)
		assert.Nil(t, d)
	})

	t.Run("insecure skips credentials", func(t *testing.T) {
		cfg := base
		cfg.Enabled = true
		cfg.Insecure = true
		cfg.ClientID, cfg.AccessToken = "", ""
		d, err := newDialer(cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.NotNil(t, d)
	})
}
