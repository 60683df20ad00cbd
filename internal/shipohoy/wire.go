package shipohoy

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// statsPayload is the Docker-compatible one-shot stats document.
type statsPayload struct {
	Read     string `json:"read"`
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs     uint32 `json:"online_cpus"`
	} `json:"cpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
}

// DecodeStats reads one Docker-compatible stats document.
func DecodeStats(r io.Reader) (Stats, error) {
	var payload statsPayload
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	return Stats{
		Read:             ParseTimestamp(payload.Read),
		CPUTotalNanos:    payload.CPUStats.CPUUsage.TotalUsage,
		SystemCPUNanos:   payload.CPUStats.SystemCPUUsage,
		OnlineCPUs:       payload.CPUStats.OnlineCPUs,
		MemoryUsageBytes: payload.MemoryStats.Usage,
		MemoryLimitBytes: payload.MemoryStats.Limit,
	}, nil
}

// ParseTimestamp parses an engine timestamp. The engine's zero time and
// unparseable values become the zero time.Time.
func ParseTimestamp(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil || ts.Year() <= 1 {
		return time.Time{}
	}
	return ts
}

// ParseEnv converts KEY=VALUE entries into a map.
func ParseEnv(entries []string) map[string]string {
	if len(entries) == 0 {
		return nil
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, _ := strings.Cut(entry, "=")
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// EnvSlice converts an env map into sorted KEY=VALUE entries.
func EnvSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// VolumeBinds renders named volume mounts in bind syntax.
func VolumeBinds(volumes []VolumeMount) []string {
	if len(volumes) == 0 {
		return nil
	}
	out := make([]string, 0, len(volumes))
	for _, v := range volumes {
		if strings.TrimSpace(v.Volume) == "" || strings.TrimSpace(v.Target) == "" {
			continue
		}
		mode := "rw"
		if v.ReadOnly {
			mode = "ro"
		}
		out = append(out, fmt.Sprintf("%s:%s:%s", v.Volume, v.Target, mode))
	}
	return out
}

// PortKey returns the engine key for a container port, e.g. "25565/tcp".
func PortKey(p PortBinding) string {
	proto := strings.ToLower(strings.TrimSpace(p.Protocol))
	if proto == "" {
		proto = "tcp"
	}
	return fmt.Sprintf("%d/%s", p.ContainerPort, proto)
}

// TailLines splits text into lines and keeps the last limit lines.
func TailLines(text string, limit int) []string {
	trimmed := strings.TrimRight(text, "\n")
	if trimmed == "" {
		return nil
	}
	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}

// ContainerName strips the leading slash engines prefix to names.
func ContainerName(name string) string {
	return strings.TrimPrefix(name, "/")
}
