package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"pkt.systems/afkcraft/internal/appconfig"
	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/internal/shipohoy/shipohoytest"
)

func TestRootHasCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{
		"serve": false, "init": false, "doctor": false, "version": false, "users": false,
		"whitelist": false, "session": false, "server": false, "vault": false, "items": false,
	}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected root command to include %s", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "afkcraft") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("AFKCRAFT_RUNTIME_DRIVER", "")
	t.Setenv("AFKCRAFT_DATABASE_DSN", "")
	t.Setenv("AFKCRAFT_JWT_SECRET", "")
	t.Setenv("AFKCRAFT_ENCRYPTION_KEY", "")
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	root := t.TempDir()
	cfg.StateDir = filepath.Join(root, "state")
	cfg.Database.DSN = filepath.Join(cfg.StateDir, "afkcraft.db")
	cfg.Vault.KeyStorePath = filepath.Join(cfg.StateDir, "vault", "keys.bundle")
	cfg.HTTP.JWTSecret = "cli-test-secret"
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(root, "config.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func loadConfigFromPath(t *testing.T, path string) appconfig.Config {
	t.Helper()
	cfg, err := appconfig.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

// useFakeRuntime routes runtimeFactory to an in-memory runtime for the test.
func useFakeRuntime(t *testing.T) *shipohoytest.Runtime {
	t.Helper()
	rt := shipohoytest.New()
	prev := runtimeFactory
	runtimeFactory = func(context.Context, appconfig.Config) (shipohoy.Runtime, func() error, error) {
		return rt, nil, nil
	}
	t.Cleanup(func() { runtimeFactory = prev })
	return rt
}

// run executes a root subcommand and returns its stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, stdin, args...)
	if err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return out
}
