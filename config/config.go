package config

import (
	"log"

	"github.com/spf13/viper"
)

type WebServerConfig struct {
	Port            string `mapstructure:"port"`
	IP              string `mapstructure:"ip"`
	Scheme          string `mapstructure:"scheme"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Address          string `mapstructure:"address"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	PoolSize         int    `mapstructure:"pool_size"`
	MinIdleConns     int    `mapstructure:"min_idle_conns"`
	OperationTimeout int    `mapstructure:"operation_timeout"`
}

type CacheConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxSizeMB   int  `mapstructure:"max_size_mb"`
	TTLSeconds  int  `mapstructure:"ttl_seconds"`
	CounterSize int  `mapstructure:"counter_size"`
}

// RateLimitBucket holds the limit and window for one fixed-window counter.
type RateLimitBucket struct {
	Limit         int `mapstructure:"limit"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type RateLimitConfig struct {
	// Coarse token-bucket flood gate applied to every request before the
	// per-identity fixed-window checks.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`

	RequestIP    RateLimitBucket `mapstructure:"request_ip"`
	RequestEmail RateLimitBucket `mapstructure:"request_email"`
	VerifyIP     RateLimitBucket `mapstructure:"verify_ip"`
	ConsumeIP    RateLimitBucket `mapstructure:"consume_ip"`
	ConsumeToken RateLimitBucket `mapstructure:"consume_token"`
}

type ResetConfig struct {
	TokenTTLSeconds int `mapstructure:"token_ttl_seconds"`
	MaxAttempts     int `mapstructure:"max_attempts"`
}

type PasswordRulesConfig struct {
	MinLength     int  `mapstructure:"min_length"`
	MaxLength     int  `mapstructure:"max_length"`
	RequireLetter bool `mapstructure:"require_letter"`
	RequireDigit  bool `mapstructure:"require_digit"`
}

type EmailConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     string `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	FromEmail    string `mapstructure:"from_email"`
	FromName     string `mapstructure:"from_name"`
}

type Config struct {
	WebServer WebServerConfig     `mapstructure:"webserver"`
	Redis     RedisConfig         `mapstructure:"redis"`
	Cache     CacheConfig         `mapstructure:"cache"`
	RateLimit RateLimitConfig     `mapstructure:"ratelimit"`
	Reset     ResetConfig         `mapstructure:"reset"`
	Password  PasswordRulesConfig `mapstructure:"password"`
	Email     EmailConfig         `mapstructure:"email"`
}

func LoadConfig() (Config, error) {
	var config Config

	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Enable environment variable overrides
	viper.SetEnvPrefix("NEXUSTRADE")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults plus env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("Error reading config file: %v", err)
			return config, err
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		log.Printf("Unable to decode into struct: %v", err)
		return config, err
	}

	return config, nil
}

func MustLoadConfig() Config {
	config, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return config
}

func setDefaults() {
	// WebServer defaults
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.ip", "127.0.0.1")
	viper.SetDefault("webserver.scheme", "http")
	viper.SetDefault("webserver.public_base_url", "http://localhost:3000")
	viper.SetDefault("webserver.read_timeout", 15)
	viper.SetDefault("webserver.write_timeout", 15)
	viper.SetDefault("webserver.shutdown_timeout", 10)

	// Redis defaults
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)
	viper.SetDefault("redis.operation_timeout", 5)

	// Cache defaults
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.max_size_mb", 64)
	viper.SetDefault("cache.ttl_seconds", 60)
	viper.SetDefault("cache.counter_size", 100000)

	// Rate limit defaults
	viper.SetDefault("ratelimit.requests_per_second", 50.0)
	viper.SetDefault("ratelimit.burst", 100)
	viper.SetDefault("ratelimit.request_ip.limit", 10)
	viper.SetDefault("ratelimit.request_ip.window_seconds", 60)
	viper.SetDefault("ratelimit.request_email.limit", 5)
	viper.SetDefault("ratelimit.request_email.window_seconds", 3600)
	viper.SetDefault("ratelimit.verify_ip.limit", 30)
	viper.SetDefault("ratelimit.verify_ip.window_seconds", 60)
	viper.SetDefault("ratelimit.consume_ip.limit", 10)
	viper.SetDefault("ratelimit.consume_ip.window_seconds", 60)
	viper.SetDefault("ratelimit.consume_token.limit", 10)
	viper.SetDefault("ratelimit.consume_token.window_seconds", 900)

	// Reset token defaults
	viper.SetDefault("reset.token_ttl_seconds", 3600)
	viper.SetDefault("reset.max_attempts", 5)

	// Password policy defaults
	viper.SetDefault("password.min_length", 8)
	viper.SetDefault("password.max_length", 128)
	viper.SetDefault("password.require_letter", true)
	viper.SetDefault("password.require_digit", true)

	// Email defaults (disabled by default for development)
	viper.SetDefault("email.enabled", false)
	viper.SetDefault("email.smtp_host", "smtp.gmail.com")
	viper.SetDefault("email.smtp_port", "587")
	viper.SetDefault("email.smtp_username", "")
	viper.SetDefault("email.smtp_password", "")
	viper.SetDefault("email.from_email", "noreply@nexustrade.app")
	viper.SetDefault("email.from_name", "NexusTrade")
}
