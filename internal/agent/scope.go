package agent

import "sync"

// Scope is a stack of active agent handles scoped to a single pipeline
// invocation. The pipeline pushes the acquired handle before any provider
// runs and pops it on exit; agent-aware runners consult the top of the stack.
// Each pipeline call owns its own Scope, so there is no cross-run leakage.
type Scope struct {
	mu    sync.Mutex
	stack []Handle
}

// NewScope creates an empty execution scope
func NewScope() *Scope {
	return &Scope{}
}

// ReleaseToken pops the handle that was pushed when the token was issued
type ReleaseToken func()

// Push makes the handle the active agent and returns a token that removes it.
// The token is idempotent.
func (s *Scope) Push(h Handle) ReleaseToken {
	s.mu.Lock()
	s.stack = append(s.stack, h)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i := len(s.stack) - 1; i >= 0; i-- {
				if s.stack[i] == h {
					s.stack = append(s.stack[:i], s.stack[i+1:]...)
					return
				}
			}
		})
	}
}

// Current returns the most recently pushed handle, or nil when the scope is empty
func (s *Scope) Current() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

// Depth returns the number of active handles
func (s *Scope) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}
