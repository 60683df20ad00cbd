package shipohoy

import (
	"time"
)

const (
	// LabelManaged marks containers created through shipohoy.
	LabelManaged = "shipohoy.managed"

	// RestartUnlessStopped restarts a container until it is explicitly stopped.
	RestartUnlessStopped = "unless-stopped"
)

// Plan configures defaults shared by a family of containers.
type Plan struct {
	Network       string
	RestartPolicy string
	Env           map[string]string
	Labels        map[string]string
	ResourceCaps  ResourceCaps
}

// ResourceCaps sets optional resource limits (0 means default).
type ResourceCaps struct {
	MemoryBytes int64
	NanoCPUs    int64
}

// VolumeMount attaches a named volume to a container path.
type VolumeMount struct {
	Volume   string
	Target   string
	ReadOnly bool
}

// PortBinding publishes a container port on the host.
type PortBinding struct {
	ContainerPort int
	HostPort      int
	Protocol      string
}

// ContainerSpec describes a container.
type ContainerSpec struct {
	Name          string
	Image         string
	Env           map[string]string
	Labels        map[string]string
	Command       []string
	Network       string
	Volumes       []VolumeMount
	Ports         []PortBinding
	RestartPolicy string
	ResourceCaps  *ResourceCaps
}

// NetworkSpec describes a user-defined network.
type NetworkSpec struct {
	Name   string
	Driver string
	Labels map[string]string
}

// ContainerState is the engine's own view of a container's process.
type ContainerState struct {
	Status     string
	Running    bool
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Container is an inspected container record.
type Container struct {
	ContainerID   string
	ContainerName string
	Image         string
	Env           map[string]string
	Labels        map[string]string
	State         ContainerState
}

// Name returns the container name.
func (c Container) Name() string { return c.ContainerName }

// ID returns the runtime-assigned container id.
func (c Container) ID() string { return c.ContainerID }

// Stats is one raw stats sample as reported by the engine.
type Stats struct {
	Read             time.Time
	CPUTotalNanos    uint64
	SystemCPUNanos   uint64
	OnlineCPUs       uint32
	MemoryUsageBytes uint64
	MemoryLimitBytes uint64
}

// JanitorSpec prunes managed containers that are no longer running.
type JanitorSpec struct {
	LabelSelector map[string]string
	MinAge        time.Duration
}

// ApplyPlan overlays plan defaults onto spec without overriding explicit values.
func ApplyPlan(spec ContainerSpec, plan Plan) ContainerSpec {
	out := spec
	out.Env = mergeMaps(spec.Env, plan.Env)
	out.Labels = mergeMaps(spec.Labels, plan.Labels)
	if out.Labels == nil {
		out.Labels = map[string]string{}
	}
	out.Labels[LabelManaged] = "true"
	if out.Network == "" {
		out.Network = plan.Network
	}
	if out.RestartPolicy == "" {
		out.RestartPolicy = plan.RestartPolicy
	}
	if out.ResourceCaps == nil {
		if plan.ResourceCaps.MemoryBytes > 0 || plan.ResourceCaps.NanoCPUs > 0 {
			caps := plan.ResourceCaps
			out.ResourceCaps = &caps
		}
	} else {
		caps := *out.ResourceCaps
		if caps.MemoryBytes == 0 {
			caps.MemoryBytes = plan.ResourceCaps.MemoryBytes
		}
		if caps.NanoCPUs == 0 {
			caps.NanoCPUs = plan.ResourceCaps.NanoCPUs
		}
		out.ResourceCaps = &caps
	}
	return out
}

func mergeMaps(explicit, defaults map[string]string) map[string]string {
	if len(explicit) == 0 && len(defaults) == 0 {
		return nil
	}
	out := make(map[string]string, len(explicit)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range explicit {
		out[k] = v
	}
	return out
}
