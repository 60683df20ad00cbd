package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func TestOverrideWins(t *testing.T) {
	info := fromBuildInfo(&debug.BuildInfo{Main: debug.Module{Path: "example.com/x", Version: "v9.9.9"}}, "v1.2.3")
	if info.Version != "v1.2.3" || info.Module != "example.com/x" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestPseudoVersionFromVCS(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	info := fromBuildInfo(&debug.BuildInfo{
		GoVersion: "go1.25.2",
		Main:      debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "1234567890abcdef"},
			{Key: "vcs.time", Value: ts.Format(time.RFC3339)},
			{Key: "vcs.modified", Value: "true"},
		},
	}, "")
	if info.Version != "v0.0.0-20250102030405-1234567890ab" {
		t.Fatalf("unexpected version %q", info.Version)
	}
	if !info.Dirty || !strings.HasSuffix(info.String(), "+dirty (go1.25.2)") {
		t.Fatalf("unexpected rendering %q", info.String())
	}
	if info.Module != defaultModule {
		t.Fatalf("expected default module, got %q", info.Module)
	}
}

func TestUnknownWithoutBuildInfo(t *testing.T) {
	if got := fromBuildInfo(nil, "").Version; got != "v0.0.0-unknown" {
		t.Fatalf("expected unknown version, got %q", got)
	}
}
