package schema

import "time"

// UserKey identifies a user's session by in-game name.
type UserKey string

// Existence reports whether a session container is known to the runtime.
type Existence string

const (
	// ExistencePresent means the runtime reports a container for the user.
	ExistencePresent Existence = "present"
	// ExistenceAbsent means no container exists for the user.
	ExistenceAbsent Existence = "absent"
)

// RunState is the normalized run state of a session container.
type RunState string

const (
	// RunStateRunning covers running, restarting and paused containers.
	RunStateRunning RunState = "running"
	// RunStateExited covers containers with no live process.
	RunStateExited RunState = "exited"
	// RunStateUnknown is used for absent containers and unmapped states.
	RunStateUnknown RunState = "unknown"
)

// SessionRef is the opaque reference returned by a successful start.
type SessionRef struct {
	ID   string `json:"container_id"`
	Name string `json:"container_name"`
}

// Stats are resource figures derived from one runtime stats sample.
type Stats struct {
	CPUUsageNanos    uint64  `json:"cpu_usage_nanos"`
	MemoryUsageBytes uint64  `json:"memory_usage_bytes"`
	MemoryLimitBytes uint64  `json:"memory_limit_bytes,omitempty"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// ContainerInfo is the redacted container detail carried by a snapshot.
type ContainerInfo struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Image     string            `json:"image,omitempty"`
	Status    string            `json:"status,omitempty"`
	StartedAt time.Time         `json:"started_at,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// StatusSnapshot is derived fresh from the runtime on every query.
type StatusSnapshot struct {
	Existence  Existence      `json:"existence"`
	RunState   RunState       `json:"run_state"`
	Stats      *Stats         `json:"stats"`
	RecentLogs []string       `json:"recent_logs"`
	Container  *ContainerInfo `json:"container,omitempty"`
}

// AbsentSnapshot is the status of a user with no container.
func AbsentSnapshot() StatusSnapshot {
	return StatusSnapshot{
		Existence:  ExistenceAbsent,
		RunState:   RunStateUnknown,
		RecentLogs: []string{},
	}
}

// StoredCredential is the persisted, encrypted third-party credential of a user.
type StoredCredential struct {
	Store      bool
	Ciphertext string
}

// ServerStatus describes the shared game server container.
type ServerStatus struct {
	Existence     Existence `json:"existence"`
	RunState      RunState  `json:"run_state"`
	ContainerID   string    `json:"container_id,omitempty"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}
