package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Audio    AudioConfig    `mapstructure:"audio"`
	Machines MachinesConfig `mapstructure:"machines"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BridgeConfig holds the persisted bridge tunables.
type BridgeConfig struct {
	Machine         string        `mapstructure:"machine"`
	Autostart       bool          `mapstructure:"autostart"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	SolenoidDelayMs int           `mapstructure:"solenoid_delay_ms"`
	MechsEnabled    bool          `mapstructure:"mechs_enabled"`
	BuiltinMechs    bool          `mapstructure:"builtin_mechs"`
	AudioEnabled    bool          `mapstructure:"audio_enabled"`
	QuiesceTimeout  time.Duration `mapstructure:"quiesce_timeout"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
	StopMode        string        `mapstructure:"stop_mode"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

func (b BridgeConfig) SolenoidDelay() time.Duration {
	return time.Duration(b.SolenoidDelayMs) * time.Millisecond
}

type AudioConfig struct {
	QueueFrames int    `mapstructure:"queue_frames"`
	Output      string `mapstructure:"output"`
	SampleRate  int    `mapstructure:"sample_rate"`
	Channels    int    `mapstructure:"channels"`
	CapturePath string `mapstructure:"capture_path"`
}

type MachinesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

type RuntimeConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// Auth Configuration
type AuthConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	JWTSecretEnv    string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	Users           []UserConfig  `mapstructure:"users"`
	Tokens          []TokenConfig `mapstructure:"tokens"`
}

// UserConfig is an operator account. PasswordHash is an argon2id hash as
// printed by `pinbridge -hash-password`.
type UserConfig struct {
	Username     string `mapstructure:"username"`
	Role         string `mapstructure:"role"`
	PasswordHash string `mapstructure:"password_hash"`
}

// TokenConfig is a long-lived machine token for cabinet frontends.
type TokenConfig struct {
	Name        string   `mapstructure:"name"`
	TokenHash   string   `mapstructure:"token_hash"`
	Permissions []string `mapstructure:"permissions"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("bridge.autostart", false)
	v.SetDefault("bridge.tick_interval", "16ms")
	v.SetDefault("bridge.solenoid_delay_ms", 0)
	v.SetDefault("bridge.mechs_enabled", true)
	v.SetDefault("bridge.builtin_mechs", false)
	v.SetDefault("bridge.audio_enabled", true)
	v.SetDefault("bridge.quiesce_timeout", "10s")
	v.SetDefault("bridge.stop_timeout", "5s")
	v.SetDefault("bridge.stop_mode", "async")
	v.SetDefault("bridge.retry_delay", "100ms")

	v.SetDefault("audio.queue_frames", 10)
	v.SetDefault("audio.output", "none")
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.channels", 2)

	v.SetDefault("machines.search_paths", []string{"./configs/machines"})
	v.SetDefault("runtime.driver", "loopback")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 4)

	// Auth Defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.refresh_token_ttl", "168h")

	v.SetDefault("logging.level", "info")
}

// Load reads path and applies PINBRIDGE_ environment overrides, e.g.
// PINBRIDGE_BRIDGE_MACHINE=afm.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("PINBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch c.Bridge.StopMode {
	case "async", "sync":
	default:
		return fmt.Errorf("bridge.stop_mode must be async or sync, got %q", c.Bridge.StopMode)
	}
	switch c.Audio.Output {
	case "none", "oto":
	default:
		return fmt.Errorf("audio.output must be none or oto, got %q", c.Audio.Output)
	}
	if c.Runtime.Driver != "loopback" {
		return fmt.Errorf("unknown runtime driver %q", c.Runtime.Driver)
	}
	if c.Bridge.SolenoidDelayMs < 0 {
		return fmt.Errorf("bridge.solenoid_delay_ms must not be negative")
	}
	if c.Bridge.TickInterval <= 0 {
		return fmt.Errorf("bridge.tick_interval must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
