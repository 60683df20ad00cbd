// Package bootstrap writes a starter deployment: config, secrets and a
// compose file for running the API next to the container engine.
package bootstrap

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/vault"
	"pkt.systems/pslog"
)

const (
	configName      = "config.yaml"
	containerConfig = "config-for-container.yaml"
	composeName     = "docker-compose.yaml"
	composeEnvName  = ".env"
	defaultImage    = "docker.io/pktsystems/afkcraft:latest"
	secretBytes     = 32
)

// Options tunes the generated bundle.
type Options struct {
	// Image is the afkcraft image used by the compose file.
	Image string
	// Logger receives progress messages. Nil is silent.
	Logger pslog.Logger
}

// Paths lists the files written by Write.
type Paths struct {
	ConfigPath          string
	ContainerConfigPath string
	ComposePath         string
	EnvPath             string
	KeyStorePath        string
}

type templateData struct {
	Image          string
	EnvFile        string
	HTTPPort       string
	HostConfigPath string
	HostStateDir   string
	HostSocket     string
	Network        string
}

// Write creates the bundle below outputDir. Existing files are kept unless
// overwrite is set.
func Write(outputDir string, overwrite bool, opts Options) (Paths, error) {
	root, err := filepath.Abs(outputDir)
	if err != nil {
		return Paths{}, err
	}
	paths := Paths{
		ConfigPath:          filepath.Join(root, configName),
		ContainerConfigPath: filepath.Join(root, containerConfig),
		ComposePath:         filepath.Join(root, composeName),
		EnvPath:             filepath.Join(root, composeEnvName),
	}
	if !overwrite {
		for _, p := range []string{paths.ConfigPath, paths.ContainerConfigPath, paths.ComposePath, paths.EnvPath} {
			if _, err := os.Stat(p); err == nil {
				return Paths{}, fmt.Errorf("file already exists: %s", p)
			}
		}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Paths{}, err
	}

	hostCfg, err := appconfig.DefaultConfig()
	if err != nil {
		return Paths{}, err
	}
	stateDir := filepath.Join(root, "state")
	hostCfg.StateDir = stateDir
	hostCfg.Database.DSN = filepath.Join(stateDir, "afkcraft.db")
	hostCfg.Vault.KeyStorePath = filepath.Join(stateDir, "vault", "keys.bundle")
	paths.KeyStorePath = hostCfg.Vault.KeyStorePath
	if err := writeYAML(paths.ConfigPath, hostCfg); err != nil {
		return Paths{}, err
	}

	containerCfg := hostCfg
	containerCfg.StateDir = "/state"
	containerCfg.Database.DSN = "/state/afkcraft.db"
	containerCfg.Vault.KeyStorePath = "/state/vault/keys.bundle"
	containerCfg.Runtime.Driver = appconfig.RuntimeDocker
	containerCfg.Runtime.Docker.Host = "unix:///var/run/docker.sock"
	if err := writeYAML(paths.ContainerConfigPath, containerCfg); err != nil {
		return Paths{}, err
	}

	image := strings.TrimSpace(opts.Image)
	if image == "" {
		image = defaultImage
	}
	compose, err := renderCompose(templateData{
		Image:          image,
		EnvFile:        composeEnvName,
		HTTPPort:       httpPort(hostCfg.HTTP.Addr),
		HostConfigPath: paths.ContainerConfigPath,
		HostStateDir:   stateDir,
		HostSocket:     defaultEngineSocket(),
		Network:        hostCfg.Client.Network,
	})
	if err != nil {
		return Paths{}, err
	}
	if err := os.WriteFile(paths.ComposePath, compose, 0o644); err != nil {
		return Paths{}, err
	}
	if err := writeComposeEnv(paths.EnvPath); err != nil {
		return Paths{}, err
	}
	if err := vault.EnsureKeyStore(paths.KeyStorePath, opts.Logger); err != nil {
		return Paths{}, err
	}
	if opts.Logger != nil {
		opts.Logger.Info("bootstrap write ok", "dir", root)
	}
	return paths, nil
}

func writeYAML(path string, cfg appconfig.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func renderCompose(data templateData) ([]byte, error) {
	raw, err := readEmbeddedFile("templates/docker-compose.yaml.tmpl")
	if err != nil {
		return nil, err
	}
	tpl, err := template.New("compose").Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render compose: %w", err)
	}
	return buf.Bytes(), nil
}

// writeComposeEnv writes fresh secrets for the API container.
func writeComposeEnv(path string) error {
	jwtSecret, err := randomSecret()
	if err != nil {
		return err
	}
	encKey, err := randomSecret()
	if err != nil {
		return err
	}
	content := fmt.Sprintf("UID=%d\nGID=%d\nAFKCRAFT_JWT_SECRET=%s\nAFKCRAFT_ENCRYPTION_KEY=%s\n",
		os.Getuid(), os.Getgid(), jwtSecret, encKey)
	return os.WriteFile(path, []byte(content), 0o600)
}

func randomSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func httpPort(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return "8000"
	}
	return port
}

func defaultEngineSocket() string {
	if host := strings.TrimSpace(os.Getenv("DOCKER_HOST")); strings.HasPrefix(host, "unix://") {
		return strings.TrimPrefix(host, "unix://")
	}
	return "/var/run/docker.sock"
}
