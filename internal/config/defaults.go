package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultFeedURL            = "wss://api-feed.dhan.co"
	DefaultFeedMode           = "quote"
	DefaultLivenessWindow     = 30 * time.Second
	DefaultCheckInterval      = 1 * time.Second
	DefaultDialTimeout        = 10 * time.Second
	DefaultSubscribeTimeout   = 10 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultPingInterval       = 10 * time.Second
	DefaultFeedBufferSize     = 10000
	DefaultPushAddr           = ":8081"
	DefaultPushPath           = "/ws"
	DefaultSessionBuffer      = 1024
	DefaultPushWriteTimeout   = 5 * time.Second
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 1000
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultRedisAddr          = "localhost:6379"
	DefaultRedisKeyPrefix     = "tickhub:ltp:"
	DefaultRedisFlush         = 500 * time.Millisecond
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
)

func (c *Config) applyDefaults() {
	// Feed defaults
	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if c.Feed.Mode == "" {
		c.Feed.Mode = DefaultFeedMode
	}
	if c.Feed.LivenessWindow == 0 {
		c.Feed.LivenessWindow = DefaultLivenessWindow
	}
	if c.Feed.CheckInterval == 0 {
		c.Feed.CheckInterval = DefaultCheckInterval
	}
	if c.Feed.DialTimeout == 0 {
		c.Feed.DialTimeout = DefaultDialTimeout
	}
	if c.Feed.SubscribeTimeout == 0 {
		c.Feed.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}

	// Push defaults
	if c.Push.Addr == "" {
		c.Push.Addr = DefaultPushAddr
	}
	if c.Push.Path == "" {
		c.Push.Path = DefaultPushPath
	}
	if c.Push.SessionBuffer == 0 {
		c.Push.SessionBuffer = DefaultSessionBuffer
	}
	if c.Push.WriteTimeout == 0 {
		c.Push.WriteTimeout = DefaultPushWriteTimeout
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Redis.FlushInterval == 0 {
		c.Redis.FlushInterval = DefaultRedisFlush
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
