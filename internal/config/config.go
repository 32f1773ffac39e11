// Package config provides configuration types for rpcgate.
package config

// Config is the top-level configuration for rpcgate.
type Config struct {
	// Server configures the RPC listeners.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Limits configures resource ceilings for the RPC server.
	Limits LimitsConfig `yaml:"limits" mapstructure:"limits"`

	// CORS configures cross-origin access for browser clients.
	CORS CORSConfig `yaml:"cors" mapstructure:"cors"`

	// Auth configures optional bearer-token authentication.
	// When empty, no authentication is enforced.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Policies defines call-policy rules, evaluated in order.
	// Optional: when empty, every call is allowed.
	Policies []RuleConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// Metrics configures the Prometheus metrics endpoint.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`

	// DevMode enables development features (verbose logging).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the RPC listeners.
// TLS is out of scope; terminate it in a reverse proxy.
type ServerConfig struct {
	// ListenAddrs are the addresses to bind (e.g., "127.0.0.1:9944").
	// Defaults to ["127.0.0.1:9944"] if empty.
	ListenAddrs []string `yaml:"listen_addrs" mapstructure:"listen_addrs" validate:"omitempty,dive,hostname_port"`

	// Name is the server name reported by system_name.
	// Defaults to "rpcgate" if empty.
	Name string `yaml:"name" mapstructure:"name"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ShutdownTimeout bounds graceful connection draining on stop (e.g., "5s").
	// Defaults to "5s" if empty.
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty"`
}

// LimitsConfig configures resource ceilings. Zero means "use the built-in
// default"; the server resolves zeros when it starts.
type LimitsConfig struct {
	// MaxConnections is the maximum number of concurrent WebSocket connections.
	// Defaults to 100.
	MaxConnections uint64 `yaml:"max_connections" mapstructure:"max_connections"`

	// MaxSubscriptionsPerConn is the per-connection subscription ceiling.
	// Defaults to 1024.
	MaxSubscriptionsPerConn uint64 `yaml:"max_subscriptions_per_conn" mapstructure:"max_subscriptions_per_conn"`

	// MaxRequestMB is the maximum inbound payload size in megabytes.
	// Defaults to 15.
	MaxRequestMB uint64 `yaml:"max_request_mb" mapstructure:"max_request_mb"`

	// MaxResponseMB is the maximum outbound payload size in megabytes.
	// Defaults to 15.
	MaxResponseMB uint64 `yaml:"max_response_mb" mapstructure:"max_response_mb"`
}

// CORSConfig configures browser cross-origin access.
type CORSConfig struct {
	// AllowedOrigins lists origins permitted to call the server, matched
	// exactly. Empty (or "*") allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,cors_origin"`
}

// AuthConfig configures bearer-token authentication.
type AuthConfig struct {
	// TokenHash is the stored hash of the accepted bearer token, either
	// Argon2id PHC format ($argon2id$...) or "sha256:<hex>".
	// Generate with: rpcgate hash-token
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash" validate:"omitempty,token_hash"`
}

// RuleConfig defines a single call-policy rule.
type RuleConfig struct {
	// Name is a human-readable identifier for this rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Condition is a CEL expression over method, transport and origin.
	Condition string `yaml:"condition" mapstructure:"condition" validate:"required"`

	// Action is what to do when the condition matches: "allow" or "deny".
	Action string `yaml:"action" mapstructure:"action" validate:"required,oneof=allow deny"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns the /metrics endpoint on or off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Addr is the dedicated listen address for /metrics.
	// Defaults to "127.0.0.1:9615".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless the user asks for more.
	if len(c.Server.ListenAddrs) == 0 {
		c.Server.ListenAddrs = []string{"127.0.0.1:9944"}
	}
	if c.Server.Name == "" {
		c.Server.Name = "rpcgate"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "5s"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9615"
	}
}

// SetDevDefaults applies permissive defaults for development mode.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"

	// Allow any browser origin in dev.
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
}
