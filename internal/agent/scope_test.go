package agent

import (
	"context"
	"testing"
)

func TestLocalBrokerReturnsEmptyCapabilities(t *testing.T) {
	broker := NewLocalBroker()
	handle, err := broker.Acquire(context.Background(), "linux")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer handle.Release()

	if handle.Name() != "local" {
		t.Errorf("expected local handle, got %s", handle.Name())
	}
	if len(handle.Capabilities()) != 0 {
		t.Errorf("expected empty capabilities, got %v", handle.Capabilities())
	}
}

func TestScopePushPop(t *testing.T) {
	scope := NewScope()
	if scope.Current() != nil {
		t.Fatal("empty scope should have no current handle")
	}

	broker := &StaticBroker{
		AgentName:    "mac-box",
		Capabilities: map[string]string{"mac.remote.sshHost": "10.0.0.5"},
	}
	handle, err := broker.Acquire(context.Background(), "mac")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	pop := scope.Push(handle)
	if scope.Current() != handle {
		t.Error("pushed handle should be current")
	}
	if scope.Depth() != 1 {
		t.Errorf("expected depth 1, got %d", scope.Depth())
	}

	pop()
	if scope.Current() != nil {
		t.Error("popped scope should be empty")
	}

	// Release token is idempotent
	pop()
	if scope.Depth() != 0 {
		t.Errorf("double pop corrupted the stack, depth=%d", scope.Depth())
	}
}

func TestScopeNesting(t *testing.T) {
	scope := NewScope()
	broker := NewLocalBroker()

	outer, _ := broker.Acquire(context.Background(), "linux")
	inner, _ := broker.Acquire(context.Background(), "linux")

	popOuter := scope.Push(outer)
	popInner := scope.Push(inner)

	if scope.Current() != inner {
		t.Error("inner handle should shadow outer")
	}
	popInner()
	if scope.Current() != outer {
		t.Error("outer handle should be current after inner pop")
	}
	popOuter()
}

func TestCapabilityLookupIsCaseInsensitive(t *testing.T) {
	broker := &StaticBroker{Capabilities: map[string]string{"Mac.Remote.SshHost": "buildhost"}}
	handle, _ := broker.Acquire(context.Background(), "mac")

	value, ok := Capability(handle, "mac.remote.sshhost")
	if !ok || value != "buildhost" {
		t.Errorf("case-insensitive capability lookup failed: %q %v", value, ok)
	}
}
