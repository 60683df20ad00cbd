package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string         `mapstructure:"state_dir" yaml:"state_dir"`
	Runtime       RuntimeConfig  `mapstructure:"runtime" yaml:"runtime"`
	Client        ClientConfig   `mapstructure:"client" yaml:"client"`
	Server        ServerConfig   `mapstructure:"server" yaml:"server"`
	Database      DatabaseConfig `mapstructure:"database" yaml:"database"`
	Vault         VaultConfig    `mapstructure:"vault" yaml:"vault"`
	HTTP          HTTPConfig     `mapstructure:"http" yaml:"http"`
	Auth          AuthConfig     `mapstructure:"auth" yaml:"auth"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Runtime drivers.
const (
	RuntimePodman = "podman"
	RuntimeDocker = "docker"
)

// RuntimeConfig selects the container engine and its call budgets.
type RuntimeConfig struct {
	Driver                string       `mapstructure:"driver" yaml:"driver"`
	Podman                PodmanConfig `mapstructure:"podman" yaml:"podman"`
	Docker                DockerConfig `mapstructure:"docker" yaml:"docker"`
	ControlTimeoutSeconds int          `mapstructure:"control_timeout_seconds" yaml:"control_timeout_seconds"`
	StatsTimeoutSeconds   int          `mapstructure:"stats_timeout_seconds" yaml:"stats_timeout_seconds"`
	StopTimeoutSeconds    int          `mapstructure:"stop_timeout_seconds" yaml:"stop_timeout_seconds"`
	PullTimeoutMinutes    int          `mapstructure:"pull_timeout_minutes" yaml:"pull_timeout_minutes"`
}

// PodmanConfig configures the podman runtime endpoint.
type PodmanConfig struct {
	Address    string `mapstructure:"address" yaml:"address"`
	UserNSMode string `mapstructure:"userns_mode" yaml:"userns_mode"`
}

// DockerConfig configures the docker engine endpoint. An empty host uses DOCKER_HOST.
type DockerConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	APIVersion string `mapstructure:"api_version" yaml:"api_version"`
}

// ClientConfig describes the per-user AFK client containers.
type ClientConfig struct {
	Image         string `mapstructure:"image" yaml:"image"`
	Network       string `mapstructure:"network" yaml:"network"`
	ServerHost    string `mapstructure:"server_host" yaml:"server_host"`
	ServerPort    int    `mapstructure:"server_port" yaml:"server_port"`
	LogTail       int    `mapstructure:"log_tail" yaml:"log_tail"`
	CredentialEnv string `mapstructure:"credential_env" yaml:"credential_env"`
	CPUPercent    int    `mapstructure:"cpu_percent" yaml:"cpu_percent"`
	MemoryPercent int    `mapstructure:"memory_percent" yaml:"memory_percent"`
}

// ServerConfig describes the shared game server container.
type ServerConfig struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Image  string `mapstructure:"image" yaml:"image"`
	Memory string `mapstructure:"memory" yaml:"memory"`
	Port   int    `mapstructure:"port" yaml:"port"`
	Volume string `mapstructure:"volume" yaml:"volume"`
}

// DatabaseConfig selects the persistence driver.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// VaultConfig selects how stored credentials are sealed. Key is normally
// supplied through AFKCRAFT_ENCRYPTION_KEY.
type VaultConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`
	KeyStorePath string `mapstructure:"key_store_path" yaml:"key_store_path"`
	Key          string `mapstructure:"key" yaml:"key,omitempty"`
}

// HTTPConfig configures the HTTP API. JWTSecret is normally supplied
// through AFKCRAFT_JWT_SECRET.
type HTTPConfig struct {
	Addr             string  `mapstructure:"addr" yaml:"addr"`
	BasePath         string  `mapstructure:"base_path" yaml:"base_path"`
	JWTSecret        string  `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`
	TokenTTLMinutes  int     `mapstructure:"token_ttl_minutes" yaml:"token_ttl_minutes"`
	SessionRateLimit float64 `mapstructure:"session_rate_per_minute" yaml:"session_rate_per_minute"`
	SessionRateBurst int     `mapstructure:"session_rate_burst" yaml:"session_rate_burst"`
}

// AuthConfig configures seed accounts.
type AuthConfig struct {
	SeedUsers []SeedUser `mapstructure:"seed_users" yaml:"seed_users"`
}

// SeedUser seeds an account in the store on startup.
type SeedUser struct {
	Email        string `mapstructure:"email" yaml:"email"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
	IGN          string `mapstructure:"ign" yaml:"ign"`
	Admin        bool   `mapstructure:"admin" yaml:"admin"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = filepath.Join("/run", "user", fmt.Sprintf("%d", os.Getuid()))
	}
	stateDir := filepath.Join(home, ".afkcraft", "state")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      stateDir,
		Runtime: RuntimeConfig{
			Driver: RuntimePodman,
			Podman: PodmanConfig{
				Address:    fmt.Sprintf("unix://%s", filepath.Join(runtimeDir, "podman", "podman.sock")),
				UserNSMode: "",
			},
			Docker:                DockerConfig{},
			ControlTimeoutSeconds: 5,
			StatsTimeoutSeconds:   10,
			StopTimeoutSeconds:    10,
			PullTimeoutMinutes:    5,
		},
		Client: ClientConfig{
			Image:         "afk-minecraft",
			Network:       "afk_network",
			ServerHost:    "mc-server",
			ServerPort:    25565,
			LogTail:       10,
			CredentialEnv: "MC_PASSWORD",
		},
		Server: ServerConfig{
			Name:   "mc-server",
			Image:  "docker.io/itzg/minecraft-server:latest",
			Memory: "1024M",
			Port:   25565,
			Volume: "mc-server-data",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(stateDir, "afkcraft.db"),
		},
		Vault: VaultConfig{
			Driver:       "keystore",
			KeyStorePath: filepath.Join(stateDir, "vault", "keys.bundle"),
		},
		HTTP: HTTPConfig{
			Addr:             ":8000",
			TokenTTLMinutes:  30,
			SessionRateLimit: 6,
			SessionRateBurst: 3,
		},
		Auth: AuthConfig{
			SeedUsers: []SeedUser{},
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".afkcraft", "config.yaml"), nil
}
