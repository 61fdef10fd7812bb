package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg, _, err := load(configPath)
	return cfg, err
}

// LoadAndWatch loads configuration and calls onChange with every valid
// revision of the file. Invalid revisions are passed to onError and ignored.
func LoadAndWatch(configPath string, onChange func(*Config), onError func(error)) (*Config, error) {
	cfg, v, err := load(configPath)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		next := GetDefaults()
		if err := v.Unmarshal(next); err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to unmarshal %s: %w", e.Name, err))
			}
			return
		}
		if err := validateConfig(next); err != nil {
			if onError != nil {
				onError(fmt.Errorf("invalid configuration in %s: %w", e.Name, err))
			}
			return
		}
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

func load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v, GetDefaults())

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/case-sentinel/")
	v.AddConfigPath("$HOME/.case-sentinel/")

	// Environment variable overrides, e.g. SENTINEL_SESSION_BACKEND=redis
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := GetDefaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, v, nil
}

// setDefaults registers every key so env overrides apply even when the key
// is absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)

	v.SetDefault("privacy.enabled", d.Privacy.Enabled)
	v.SetDefault("privacy.detectors", d.Privacy.Detectors)
	v.SetDefault("privacy.pattern_file", d.Privacy.PatternFile)
	v.SetDefault("privacy.direct_identifiers", d.Privacy.DirectIdentifiers)

	v.SetDefault("validation.max_length", d.Validation.MaxLength)
	v.SetDefault("validation.max_name_length", d.Validation.MaxNameLength)
	v.SetDefault("validation.block_injection", d.Validation.BlockInjection)

	v.SetDefault("session.backend", d.Session.Backend)
	v.SetDefault("session.redis_url", d.Session.RedisURL)
	v.SetDefault("session.pool_size", d.Session.PoolSize)
	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("session.key_prefix", d.Session.KeyPrefix)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.database_url", d.Audit.DatabaseURL)
	v.SetDefault("audit.max_open_conns", d.Audit.MaxOpenConns)
	v.SetDefault("audit.max_idle_conns", d.Audit.MaxIdleConns)
	v.SetDefault("audit.conn_max_lifetime", d.Audit.ConnMaxLifetime)

	v.SetDefault("security.rate_limit.enabled", d.Security.RateLimit.Enabled)
	v.SetDefault("security.rate_limit.requests_per_second", d.Security.RateLimit.RequestsPerSecond)
	v.SetDefault("security.rate_limit.burst", d.Security.RateLimit.Burst)
	v.SetDefault("security.rate_limit.cleanup_interval", d.Security.RateLimit.CleanupInterval)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file.enabled", d.Logging.File.Enabled)
	v.SetDefault("logging.file.path", d.Logging.File.Path)

	v.SetDefault("upstream.openai", d.Upstream.OpenAI)
	v.SetDefault("upstream.anthropic", d.Upstream.Anthropic)
	v.SetDefault("upstream.ollama", d.Upstream.Ollama)
	v.SetDefault("upstream.timeout", d.Upstream.Timeout)

	v.SetDefault("websocket.enabled", d.WebSocket.Enabled)
	v.SetDefault("websocket.path", d.WebSocket.Path)
	v.SetDefault("websocket.username", d.WebSocket.Username)
	v.SetDefault("websocket.password", d.WebSocket.Password)
	v.SetDefault("websocket.max_connections", d.WebSocket.MaxConnections)
	v.SetDefault("websocket.read_buffer_size", d.WebSocket.ReadBufferSize)
	v.SetDefault("websocket.write_buffer_size", d.WebSocket.WriteBufferSize)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.pong_timeout", d.WebSocket.PongTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)
	v.SetDefault("websocket.events.broadcast_anonymizations", d.WebSocket.Events.BroadcastAnonymizations)
	v.SetDefault("websocket.events.broadcast_restorations", d.WebSocket.Events.BroadcastRestorations)
	v.SetDefault("websocket.events.broadcast_verifications", d.WebSocket.Events.BroadcastVerifications)
	v.SetDefault("websocket.events.broadcast_requests", d.WebSocket.Events.BroadcastRequests)
	v.SetDefault("websocket.events.broadcast_system", d.WebSocket.Events.BroadcastSystem)
	v.SetDefault("websocket.events.broadcast_connections", d.WebSocket.Events.BroadcastConnections)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Validation.MaxLength <= 0 {
		return fmt.Errorf("invalid validation.max_length: %d (must be positive)", config.Validation.MaxLength)
	}

	if config.Validation.MaxNameLength <= 0 {
		return fmt.Errorf("invalid validation.max_name_length: %d (must be positive)", config.Validation.MaxNameLength)
	}

	if config.Session.Backend != "memory" && config.Session.Backend != "redis" {
		return fmt.Errorf("invalid session backend: %s (must be memory or redis)", config.Session.Backend)
	}

	if config.Session.TTL <= 0 {
		return fmt.Errorf("invalid session ttl: %s", config.Session.TTL)
	}

	if config.Audit.Enabled && config.Audit.DatabaseURL == "" {
		return fmt.Errorf("audit.database_url is required when audit is enabled")
	}

	if config.Security.RateLimit.Enabled && (config.Security.RateLimit.RequestsPerSecond <= 0 || config.Security.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: %v rps, burst %d", config.Security.RateLimit.RequestsPerSecond, config.Security.RateLimit.Burst)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}
