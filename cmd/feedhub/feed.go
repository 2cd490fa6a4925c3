package main

import (
	"go.uber.org/zap"

	"github.com/rickgao/tickhub/internal/auth"
	"github.com/rickgao/tickhub/internal/config"
	"github.com/rickgao/tickhub/internal/connection"
)

// newDialer builds the upstream dialer. It returns nil when the feed is
// disabled.
func newDialer(cfg config.FeedConfig, logger *zap.Logger) (connection.Dialer, error) {
	if !cfg.Enabled {
		logger.Warn("feed disabled, nothing will be dialed")
		return nil, nil
	}

	clientCfg := connection.ClientConfig{
		URL:              cfg.URL,
		HandshakeTimeout: cfg.DialTimeout,
		WriteTimeout:     cfg.SubscribeTimeout,
		PingInterval:     cfg.PingInterval,
		BufferSize:       cfg.BufferSize,
	}

	if cfg.Insecure {
		logger.Warn("feed authentication disabled", zap.String("url", cfg.URL))
	} else {
		creds, err := auth.LoadCredentials(cfg.ClientID, cfg.AccessToken, cfg.AccessTokenFile)
		if err != nil {
			return nil, err
		}
		clientCfg.Credentials = creds
		logger.Info("using feed credentials", zap.String("credentials", creds.Redacted()))
	}

	return connection.NewDialer(clientCfg, logger), nil
}
