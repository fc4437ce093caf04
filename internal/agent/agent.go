// Package agent provides build-agent acquisition and the execution scope used
// to propagate the active agent to process runners. A handle is a scoped
// resource: acquired per run, released deterministically when the run ends.
package agent

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// Handle represents the execution environment for one packaging run,
// either the local machine or a brokered remote host.
type Handle interface {
	// Name returns the agent's display name
	Name() string

	// Capabilities returns the agent's capability map (e.g. mac.remote.sshHost)
	Capabilities() map[string]string

	// Release frees the agent. Must be called exactly once per acquisition.
	Release() error
}

// Broker hands out agent handles per target platform
type Broker interface {
	// Acquire returns a scoped handle for the given platform
	Acquire(ctx context.Context, platform string) (Handle, error)
}

// Capability performs a case-insensitive lookup in a handle's capability map
func Capability(h Handle, key string) (string, bool) {
	if h == nil {
		return "", false
	}
	for k, v := range h.Capabilities() {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

type localHandle struct {
	name         string
	capabilities map[string]string
}

func (h *localHandle) Name() string                    { return h.name }
func (h *localHandle) Capabilities() map[string]string { return h.capabilities }
func (h *localHandle) Release() error                  { return nil }

// LocalBroker always returns a local handle with empty capabilities
type LocalBroker struct{}

// NewLocalBroker creates the default broker
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

// Acquire returns a local handle for any platform
func (b *LocalBroker) Acquire(ctx context.Context, platform string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logrus.Debugf("Acquired local build agent for platform %s", platform)
	return &localHandle{name: "local", capabilities: map[string]string{}}, nil
}

// StaticBroker returns handles that carry a fixed capability map, used for
// remote hosts configured ahead of time (e.g. a macOS signing box).
type StaticBroker struct {
	AgentName    string
	Capabilities map[string]string
}

// Acquire returns a handle carrying the broker's capability map
func (b *StaticBroker) Acquire(ctx context.Context, platform string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	capabilities := make(map[string]string, len(b.Capabilities))
	for k, v := range b.Capabilities {
		capabilities[k] = v
	}
	name := b.AgentName
	if name == "" {
		name = "static"
	}
	logrus.Debugf("Acquired %s build agent for platform %s", name, platform)
	return &localHandle{name: name, capabilities: capabilities}, nil
}
