// Package status turns raw runtime records into the stable status contract
// returned to callers.
package status

import (
	"sort"
	"strings"

	"pkt.systems/afkcraft/internal/shipohoy"
	"pkt.systems/afkcraft/schema"
)

const (
	// DefaultLogTail is the number of log lines kept in a snapshot.
	DefaultLogTail = 10
	// Redacted replaces credential values.
	Redacted = "[redacted]"
)

// DefaultCredentialEnv lists env vars whose values are never exposed.
var DefaultCredentialEnv = []string{"MC_PASSWORD"}

// Input is one raw observation of a session container. A nil Container
// means the runtime has no container for the user.
type Input struct {
	Container *shipohoy.Container
	Stats     *shipohoy.Stats
	Logs      []string
}

// Translator holds the translation settings.
type Translator struct {
	LogTail       int
	CredentialEnv []string
}

// Translate uses the default settings.
func Translate(in Input) schema.StatusSnapshot {
	return Translator{}.Translate(in)
}

// Translate maps in to a snapshot. It has no side effects.
func (t Translator) Translate(in Input) schema.StatusSnapshot {
	if in.Container == nil {
		return schema.AbsentSnapshot()
	}
	c := in.Container
	credentialEnv := t.CredentialEnv
	if len(credentialEnv) == 0 {
		credentialEnv = DefaultCredentialEnv
	}
	env, secrets := redactEnv(c.Env, credentialEnv)
	snap := schema.StatusSnapshot{
		Existence:  schema.ExistencePresent,
		RunState:   MapState(c.State.Status),
		RecentLogs: Tail(ScrubLines(in.Logs, secrets), t.tail()),
		Container: &schema.ContainerInfo{
			ID:        c.ID(),
			Name:      c.Name(),
			Image:     c.Image,
			Status:    c.State.Status,
			StartedAt: c.State.StartedAt,
			Env:       env,
		},
	}
	if in.Stats != nil {
		snap.Stats = &schema.Stats{
			CPUUsageNanos:    in.Stats.CPUTotalNanos,
			MemoryUsageBytes: in.Stats.MemoryUsageBytes,
			MemoryLimitBytes: in.Stats.MemoryLimitBytes,
			UptimeSeconds:    Uptime(c.State, *in.Stats),
		}
	}
	return snap
}

func (t Translator) tail() int {
	if t.LogTail > 0 {
		return t.LogTail
	}
	return DefaultLogTail
}

// MapState folds engine states into the three-value run state.
func MapState(status string) schema.RunState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "running", "restarting", "paused":
		return schema.RunStateRunning
	case "created", "exited", "dead", "stopped":
		return schema.RunStateExited
	default:
		return schema.RunStateUnknown
	}
}

// Uptime is the sample timestamp minus the container start time, both taken
// from the daemon. It is 0 when either is missing or the sample predates the start.
func Uptime(state shipohoy.ContainerState, sample shipohoy.Stats) float64 {
	if state.StartedAt.IsZero() || sample.Read.IsZero() {
		return 0
	}
	d := sample.Read.Sub(state.StartedAt)
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}

// Tail returns at most n trailing non-empty lines.
func Tail(lines []string, n int) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Scrub replaces every occurrence of the secrets in text.
func Scrub(text string, secrets []string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		text = strings.ReplaceAll(text, s, Redacted)
	}
	return text
}

// ScrubLines applies Scrub to each line.
func ScrubLines(lines []string, secrets []string) []string {
	if len(secrets) == 0 {
		return lines
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = Scrub(line, secrets)
	}
	return out
}

func redactEnv(env map[string]string, keys []string) (map[string]string, []string) {
	if len(env) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(env))
	var secrets []string
	for k, v := range env {
		if isCredentialKey(k, keys) {
			if v != "" {
				secrets = append(secrets, v)
				out[k] = Redacted
			} else {
				out[k] = ""
			}
			continue
		}
		out[k] = v
	}
	// Longest first.
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })
	return out, secrets
}

func isCredentialKey(key string, keys []string) bool {
	for _, k := range keys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
