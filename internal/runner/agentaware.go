package runner

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/wieslawsoltes/packagingtools/internal/agent"
)

// AgentAwareRunner consults the execution scope before every command: if a
// registered remote client claims the active handle's capabilities, the
// command is dispatched there; otherwise it falls back to the local runner.
type AgentAwareRunner struct {
	Scope   *agent.Scope
	Local   Runner
	Remotes []RemoteClient
}

// NewAgentAwareRunner creates a runner that dispatches through the scope
func NewAgentAwareRunner(scope *agent.Scope, local Runner, remotes ...RemoteClient) *AgentAwareRunner {
	return &AgentAwareRunner{Scope: scope, Local: local, Remotes: remotes}
}

// Execute dispatches the command to the active agent
func (r *AgentAwareRunner) Execute(ctx context.Context, spec Spec) (*Result, error) {
	if r.Scope != nil {
		if handle := r.Scope.Current(); handle != nil {
			for _, remote := range r.Remotes {
				if remote.CanHandle(handle.Capabilities()) {
					logrus.Debugf("Dispatching %s to agent %s", spec.FileName, handle.Name())
					return remote.Execute(ctx, handle, spec)
				}
			}
		}
	}
	return r.Local.Execute(ctx, spec)
}
