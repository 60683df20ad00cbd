package shipohoy

import "context"

// Runtime manages container lifecycles on a remote engine. Every method is a
// round trip to the daemon and may fail independently of the others.
type Runtime interface {
	Ping(ctx context.Context) error
	EnsureImage(ctx context.Context, image string) error
	EnsureNetwork(ctx context.Context, spec NetworkSpec) error
	Run(ctx context.Context, spec ContainerSpec) (Handle, error)
	Get(ctx context.Context, name string) (Container, error)
	Stop(ctx context.Context, handle Handle) error
	Remove(ctx context.Context, handle Handle) error
	Stats(ctx context.Context, handle Handle) (Stats, error)
	Logs(ctx context.Context, handle Handle, tail int) ([]string, error)
	Janitor(ctx context.Context, spec JanitorSpec) (int, error)
}

// Handle represents a container known to the runtime.
type Handle interface {
	Name() string
	ID() string
}

// NewHandle returns a Handle for a known container name and id.
func NewHandle(name, id string) Handle {
	return &handle{name: name, id: id}
}

type handle struct {
	name string
	id   string
}

func (h *handle) Name() string { return h.name }
func (h *handle) ID() string   { return h.id }
