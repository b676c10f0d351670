package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	Sandbox   SandboxConfig            `mapstructure:"sandbox"`
	Pool      PoolConfig               `mapstructure:"pool"`
	Execution ExecutionConfig          `mapstructure:"execution"`
	Runtimes  map[string]RuntimeConfig `mapstructure:"runtimes"`
	Logging   LoggingConfig            `mapstructure:"logging"`
	Metrics   MetricsConfig            `mapstructure:"metrics"`
	NATS      NATSConfig               `mapstructure:"nats"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// SandboxConfig holds the container engine configuration
type SandboxConfig struct {
	Backend            string  `mapstructure:"backend"`
	EnableLocalBackend bool    `mapstructure:"enable_local_backend"`
	DockerHost         string  `mapstructure:"docker_host"`
	PodmanSocket       string  `mapstructure:"podman_socket"`
	MemoryMB           int     `mapstructure:"memory_mb"`
	CPUs               float64 `mapstructure:"cpus"`
	NetworkEnabled     bool    `mapstructure:"network_enabled"`
	ImagePrefix        string  `mapstructure:"image_prefix"`
}

// PoolConfig holds warm pool configuration
type PoolConfig struct {
	Size              int           `mapstructure:"size"`
	AcquireWait       time.Duration `mapstructure:"acquire_wait"`
	CreateConcurrency int           `mapstructure:"create_concurrency"`
	ResetTimeout      time.Duration `mapstructure:"reset_timeout"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout"`
}

// ExecutionConfig holds per-invocation limits
type ExecutionConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxTimeout     time.Duration `mapstructure:"max_timeout"`
	KillGrace      time.Duration `mapstructure:"kill_grace"`
}

// RuntimeConfig describes how a language runtime is pooled and invoked
type RuntimeConfig struct {
	Image     string   `mapstructure:"image"`
	EntryFile string   `mapstructure:"entry_file"`
	Command   []string `mapstructure:"command"`
	Workdir   string   `mapstructure:"workdir"`
	PoolSize  int      `mapstructure:"pool_size"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// MetricsConfig holds Prometheus exporter configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// NATSConfig holds the NATS request/reply transport configuration
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Queue   string `mapstructure:"queue"`
}

// DefaultRuntimes holds the entry convention of every supported runtime.
// Configured runtimes start from these values; the set of keys is fixed.
var DefaultRuntimes = map[string]RuntimeConfig{
	"python": {
		EntryFile: "function.py",
		Command:   []string{"python", "function.py"},
		Workdir:   "/app",
	},
	"javascript": {
		EntryFile: "function.js",
		Command:   []string{"node", "function.js"},
		Workdir:   "/app",
	},
}

// New loads and validates the application configuration
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return load(v)
}

// Load reads the configuration from an explicit file path
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("warmbox")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.applyRuntimeDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.enable_local_backend", false)
	v.SetDefault("sandbox.docker_host", "")
	v.SetDefault("sandbox.podman_socket", "unix:///run/podman/podman.sock")
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.cpus", 1.0)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.image_prefix", "serverless")

	v.SetDefault("pool.size", 3)
	v.SetDefault("pool.acquire_wait", time.Duration(0))
	v.SetDefault("pool.create_concurrency", 3)
	v.SetDefault("pool.reset_timeout", 10*time.Second)
	v.SetDefault("pool.drain_timeout", 30*time.Second)

	v.SetDefault("execution.default_timeout", 10*time.Second)
	v.SetDefault("execution.max_timeout", 60*time.Second)
	v.SetDefault("execution.kill_grace", 2*time.Second)

	for name, rt := range DefaultRuntimes {
		v.SetDefault("runtimes."+name+".entry_file", rt.EntryFile)
		v.SetDefault("runtimes."+name+".command", slices.Clone(rt.Command))
		v.SetDefault("runtimes."+name+".workdir", rt.Workdir)
	}

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "functions.execute")
	v.SetDefault("nats.queue", "warmbox")
}

// applyRuntimeDefaults fills in the image name by convention and the pool size
// from the global pool settings.
func (c *Config) applyRuntimeDefaults() {
	for name, rt := range c.Runtimes {
		if rt.Image == "" {
			rt.Image = c.ImageFor(name)
		}
		if rt.PoolSize == 0 {
			rt.PoolSize = c.Pool.Size
		}
		c.Runtimes[name] = rt
	}
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // Flat list of independent checks
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" && c.Server.Transport != "none" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio', 'http' or 'none'", c.Server.Transport)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be positive, got: %d", c.Pool.Size)
	}

	if c.Pool.AcquireWait < 0 {
		return fmt.Errorf("pool.acquire_wait must not be negative, got: %s", c.Pool.AcquireWait)
	}

	if c.Pool.ResetTimeout <= 0 {
		return fmt.Errorf("pool.reset_timeout must be positive, got: %s", c.Pool.ResetTimeout)
	}

	if c.Pool.DrainTimeout <= 0 {
		return fmt.Errorf("pool.drain_timeout must be positive, got: %s", c.Pool.DrainTimeout)
	}

	if c.Execution.KillGrace <= 0 {
		return fmt.Errorf("execution.kill_grace must be positive, got: %s", c.Execution.KillGrace)
	}

	if c.Execution.DefaultTimeout <= 0 {
		return fmt.Errorf("execution.default_timeout must be positive, got: %s", c.Execution.DefaultTimeout)
	}

	if c.Execution.MaxTimeout < c.Execution.DefaultTimeout {
		return fmt.Errorf("execution.max_timeout (%s) must not be below execution.default_timeout (%s)",
			c.Execution.MaxTimeout, c.Execution.DefaultTimeout)
	}

	if len(c.Runtimes) == 0 {
		return fmt.Errorf("at least one runtime must be configured")
	}

	for name, rt := range c.Runtimes {
		if _, ok := DefaultRuntimes[name]; !ok {
			return fmt.Errorf("unsupported runtime: %s", name)
		}
		if rt.EntryFile == "" {
			return fmt.Errorf("runtimes.%s.entry_file must be set", name)
		}
		if len(rt.Command) == 0 {
			return fmt.Errorf("runtimes.%s.command must be set", name)
		}
		if !strings.HasPrefix(rt.Workdir, "/") {
			return fmt.Errorf("runtimes.%s.workdir must be an absolute path, got: %q", name, rt.Workdir)
		}
		if rt.PoolSize < 0 {
			return fmt.Errorf("runtimes.%s.pool_size must not be negative, got: %d", name, rt.PoolSize)
		}
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.Subject == "") {
		return fmt.Errorf("nats.url and nats.subject must be set when nats is enabled")
	}

	return nil
}

// ImageFor returns the conventional image name for a runtime
func (c *Config) ImageFor(runtime string) string {
	return fmt.Sprintf("%s-%s:latest", c.Sandbox.ImagePrefix, runtime)
}
