package config

import "time"

// OIDCConfig holds settings for signing in through an external OpenID Connect provider.
// OIDC sign-in is disabled when Issuer is empty.
type OIDCConfig struct {
	Issuer       string `mapstructure:"issuer" yaml:"issuer"`
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url" yaml:"redirect_url"`
}

// Enabled reports whether OIDC sign-in is configured.
func (o OIDCConfig) Enabled() bool {
	return o.Issuer != "" && o.ClientID != ""
}

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	MaxMessageBytes    int64    `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	AllowedOrigins     []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// SSEKeepAlive is the interval between ping events on idle SSE streams.
	SSEKeepAlive time.Duration `mapstructure:"sse_keepalive" yaml:"sse_keepalive"`

	// RedisURL enables cross-instance fan-out of live events when set.
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`

	ProfileCacheSize    int64 `mapstructure:"profile_cache_size" yaml:"profile_cache_size"`
	PhotoMaxDimension   int   `mapstructure:"photo_max_dimension" yaml:"photo_max_dimension"`
	PhotoJPEGQuality    int   `mapstructure:"photo_jpeg_quality" yaml:"photo_jpeg_quality"`
	PhotoMaxUploadBytes int64 `mapstructure:"photo_max_upload_bytes" yaml:"photo_max_upload_bytes"`
	PhotoMaxPixels      int   `mapstructure:"photo_max_pixels" yaml:"photo_max_pixels"`

	OIDC OIDCConfig `mapstructure:"oidc" yaml:"oidc"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                ":8080",
		ReadHeaderTimeout:   5 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		LogLevel:            "info",
		DatabasePath:        "pairchat.db",
		JWTSecret:           "change-me",
		JWTIssuer:           "pairchat",
		JWTAudience:         "pairchat-web",
		JWTTTL:              24 * time.Hour,
		MaxMessageBytes:     64 << 10,
		RateLimitPerMinute:  120,
		AllowedOrigins:      []string{"http://localhost:3000"},
		SSEKeepAlive:        25 * time.Second,
		ProfileCacheSize:    10000,
		PhotoMaxDimension:   300,
		PhotoJPEGQuality:    70,
		PhotoMaxUploadBytes: 5 << 20,
		PhotoMaxPixels:      40_000_000,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
}
