package runner

import (
	"context"
	"testing"

	"github.com/wieslawsoltes/packagingtools/internal/agent"
)

type captureRunner struct {
	calls []Spec
}

func (r *captureRunner) Execute(ctx context.Context, spec Spec) (*Result, error) {
	r.calls = append(r.calls, spec)
	return &Result{ExitCode: 0, Stdout: "local"}, nil
}

type captureRemote struct {
	accept bool
	calls  []Spec
	handle agent.Handle
}

func (r *captureRemote) CanHandle(capabilities map[string]string) bool {
	return r.accept
}

func (r *captureRemote) Execute(ctx context.Context, handle agent.Handle, spec Spec) (*Result, error) {
	r.calls = append(r.calls, spec)
	r.handle = handle
	return &Result{ExitCode: 0, Stdout: "remote"}, nil
}

func TestAgentAwareRunnerFallsBackToLocal(t *testing.T) {
	local := &captureRunner{}
	remote := &captureRemote{accept: false}
	scope := agent.NewScope()

	broker := &agent.StaticBroker{
		AgentName:    "builder",
		Capabilities: map[string]string{"linux.remote.sshHost": "builder.example.com"},
	}
	handle, err := broker.Acquire(context.Background(), "linux")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer handle.Release()
	pop := scope.Push(handle)
	defer pop()

	r := NewAgentAwareRunner(scope, local, remote)
	result, err := r.Execute(context.Background(), Spec{FileName: "dpkg-deb"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Stdout != "local" {
		t.Errorf("Expected local execution, got %q", result.Stdout)
	}
	if len(local.calls) != 1 || len(remote.calls) != 0 {
		t.Errorf("Expected 1 local call and 0 remote calls, got %d/%d", len(local.calls), len(remote.calls))
	}
}

func TestAgentAwareRunnerDispatchesToAcceptingRemote(t *testing.T) {
	local := &captureRunner{}
	remote := &captureRemote{accept: true}
	scope := agent.NewScope()

	broker := &agent.StaticBroker{
		AgentName:    "builder",
		Capabilities: map[string]string{"linux.remote.sshHost": "builder.example.com"},
	}
	handle, _ := broker.Acquire(context.Background(), "linux")
	defer handle.Release()
	pop := scope.Push(handle)
	defer pop()

	r := NewAgentAwareRunner(scope, local, remote)
	result, err := r.Execute(context.Background(), Spec{FileName: "dpkg-deb", Args: []string{"--build", "pkg"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Stdout != "remote" {
		t.Errorf("Expected remote execution, got %q", result.Stdout)
	}
	if len(remote.calls) != 1 {
		t.Fatalf("Expected 1 remote call, got %d", len(remote.calls))
	}
	if remote.handle.Name() != handle.Name() {
		t.Errorf("Remote saw handle %q, want %q", remote.handle.Name(), handle.Name())
	}
}

func TestAgentAwareRunnerWithEmptyScopeUsesLocal(t *testing.T) {
	local := &captureRunner{}
	remote := &captureRemote{accept: true}

	r := NewAgentAwareRunner(agent.NewScope(), local, remote)
	if _, err := r.Execute(context.Background(), Spec{FileName: "makepkg"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(local.calls) != 1 || len(remote.calls) != 0 {
		t.Errorf("Expected local execution with empty scope, got %d local / %d remote", len(local.calls), len(remote.calls))
	}
}

func TestLocalRunnerWritesDiagnosticsLog(t *testing.T) {
	r := NewLocalRunner(t.TempDir())
	result, err := r.Execute(context.Background(), Spec{FileName: "sh", Args: []string{"-c", "echo hello"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}
	if result.Stdout != "hello\n" {
		t.Errorf("Expected stdout %q, got %q", "hello\n", result.Stdout)
	}
	if result.LogPath == "" {
		t.Error("Expected a diagnostics log path")
	}
}

func TestLocalRunnerReportsNonZeroExitViaResult(t *testing.T) {
	r := NewLocalRunner("")
	result, err := r.Execute(context.Background(), Spec{FileName: "sh", Args: []string{"-c", "exit 3"}})
	if err != nil {
		t.Fatalf("Non-zero exit must not be an error, got %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", result.ExitCode)
	}
}
