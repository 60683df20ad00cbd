package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Secrets are overlaid from the environment after the file is read.
type envOverlay struct {
	JWTSecret     string `env:"AFKCRAFT_JWT_SECRET"`
	EncryptionKey string `env:"AFKCRAFT_ENCRYPTION_KEY"`
	DatabaseDSN   string `env:"AFKCRAFT_DATABASE_DSN"`
	RuntimeDriver string `env:"AFKCRAFT_RUNTIME_DRIVER"`
}

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("runtime.driver", cfg.Runtime.Driver)
	v.SetDefault("runtime.podman.address", cfg.Runtime.Podman.Address)
	v.SetDefault("runtime.podman.userns_mode", cfg.Runtime.Podman.UserNSMode)
	v.SetDefault("runtime.docker.host", cfg.Runtime.Docker.Host)
	v.SetDefault("runtime.docker.api_version", cfg.Runtime.Docker.APIVersion)
	v.SetDefault("runtime.control_timeout_seconds", cfg.Runtime.ControlTimeoutSeconds)
	v.SetDefault("runtime.stats_timeout_seconds", cfg.Runtime.StatsTimeoutSeconds)
	v.SetDefault("runtime.stop_timeout_seconds", cfg.Runtime.StopTimeoutSeconds)
	v.SetDefault("runtime.pull_timeout_minutes", cfg.Runtime.PullTimeoutMinutes)
	v.SetDefault("client.image", cfg.Client.Image)
	v.SetDefault("client.network", cfg.Client.Network)
	v.SetDefault("client.server_host", cfg.Client.ServerHost)
	v.SetDefault("client.server_port", cfg.Client.ServerPort)
	v.SetDefault("client.log_tail", cfg.Client.LogTail)
	v.SetDefault("client.credential_env", cfg.Client.CredentialEnv)
	v.SetDefault("client.cpu_percent", cfg.Client.CPUPercent)
	v.SetDefault("client.memory_percent", cfg.Client.MemoryPercent)
	v.SetDefault("server.name", cfg.Server.Name)
	v.SetDefault("server.image", cfg.Server.Image)
	v.SetDefault("server.memory", cfg.Server.Memory)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.volume", cfg.Server.Volume)
	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("vault.driver", cfg.Vault.Driver)
	v.SetDefault("vault.key_store_path", cfg.Vault.KeyStorePath)
	v.SetDefault("vault.key", cfg.Vault.Key)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.jwt_secret", cfg.HTTP.JWTSecret)
	v.SetDefault("http.token_ttl_minutes", cfg.HTTP.TokenTTLMinutes)
	v.SetDefault("http.session_rate_per_minute", cfg.HTTP.SessionRateLimit)
	v.SetDefault("http.session_rate_burst", cfg.HTTP.SessionRateBurst)
	v.SetDefault("auth.seed_users", cfg.Auth.SeedUsers)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if !v.IsSet("client.image") {
			return Config{}, fmt.Errorf("client.image is required for config_version %d", CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var overlay envOverlay
	if err := env.Parse(&overlay); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if overlay.JWTSecret != "" {
		cfg.HTTP.JWTSecret = overlay.JWTSecret
	}
	if overlay.EncryptionKey != "" {
		cfg.Vault.Key = overlay.EncryptionKey
	}
	if overlay.DatabaseDSN != "" {
		cfg.Database.DSN = overlay.DatabaseDSN
	}
	if overlay.RuntimeDriver != "" {
		cfg.Runtime.Driver = overlay.RuntimeDriver
	}
	return nil
}

// Validate checks the driver selections and numeric ranges.
func Validate(cfg Config) error {
	switch strings.ToLower(cfg.Runtime.Driver) {
	case RuntimePodman:
		if strings.TrimSpace(cfg.Runtime.Podman.Address) == "" {
			return fmt.Errorf("runtime.podman.address is required for the podman driver")
		}
	case RuntimeDocker:
	default:
		return fmt.Errorf("unsupported runtime.driver %q", cfg.Runtime.Driver)
	}
	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", cfg.Database.Driver)
	}
	switch strings.ToLower(cfg.Vault.Driver) {
	case "keystore":
		if strings.TrimSpace(cfg.Vault.KeyStorePath) == "" {
			return fmt.Errorf("vault.key_store_path is required for the keystore driver")
		}
	case "passphrase":
	default:
		return fmt.Errorf("unsupported vault.driver %q", cfg.Vault.Driver)
	}
	if strings.TrimSpace(cfg.Client.Image) == "" {
		return fmt.Errorf("client.image must not be empty")
	}
	if cfg.Client.ServerPort <= 0 || cfg.Client.ServerPort > 65535 {
		return fmt.Errorf("client.server_port %d is out of range", cfg.Client.ServerPort)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", cfg.Server.Port)
	}
	if cfg.Client.CPUPercent < 0 || cfg.Client.CPUPercent > 100 {
		return fmt.Errorf("client.cpu_percent must be between 0 and 100")
	}
	if cfg.Client.MemoryPercent < 0 || cfg.Client.MemoryPercent > 100 {
		return fmt.Errorf("client.memory_percent must be between 0 and 100")
	}
	if strings.Contains(cfg.HTTP.BasePath, "://") || strings.ContainsAny(cfg.HTTP.BasePath, "?#") {
		return fmt.Errorf("http.base_path must be a plain path prefix")
	}
	if cfg.Runtime.ControlTimeoutSeconds < 0 || cfg.Runtime.StatsTimeoutSeconds < 0 || cfg.Runtime.StopTimeoutSeconds < 0 {
		return fmt.Errorf("runtime timeouts must not be negative")
	}
	if cfg.HTTP.SessionRateLimit < 0 || cfg.HTTP.SessionRateBurst < 0 {
		return fmt.Errorf("http session rate settings must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Runtime.Podman.Address = expandEnv(cfg.Runtime.Podman.Address)
	cfg.Runtime.Docker.Host = expandEnv(cfg.Runtime.Docker.Host)
	cfg.Vault.KeyStorePath = expandEnv(cfg.Vault.KeyStorePath)
	if strings.ToLower(cfg.Database.Driver) == "sqlite" {
		cfg.Database.DSN = expandEnv(cfg.Database.DSN)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path. Secrets are
// left out; they come from the environment.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
