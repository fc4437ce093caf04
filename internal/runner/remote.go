package runner

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/wieslawsoltes/packagingtools/internal/agent"
)

// RemoteClient dispatches commands to a remote build host when the active
// agent handle advertises capabilities it understands.
type RemoteClient interface {
	// CanHandle reports whether this client can serve an agent with the
	// given capability map
	CanHandle(capabilities map[string]string) bool

	// Execute runs the command on the remote host
	Execute(ctx context.Context, h agent.Handle, spec Spec) (*Result, error)
}

// SSHClient runs commands over SSH on hosts advertised through a
// <platform>.remote.sshHost capability.
type SSHClient struct {
	// Dial is replaceable for tests; defaults to ssh.Dial
	Dial func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

	// Auth supplies the SSH auth methods for outbound connections
	Auth []ssh.AuthMethod

	// HostKeyCallback defaults to rejecting unknown hosts unless set
	HostKeyCallback ssh.HostKeyCallback
}

// NewSSHClient creates an SSH remote command client
func NewSSHClient(auth []ssh.AuthMethod, hostKeys ssh.HostKeyCallback) *SSHClient {
	return &SSHClient{Dial: ssh.Dial, Auth: auth, HostKeyCallback: hostKeys}
}

// CanHandle reports true when any *.remote.sshHost capability is present
func (c *SSHClient) CanHandle(capabilities map[string]string) bool {
	_, _, ok := sshTarget(capabilities)
	return ok
}

// Execute runs the command on the advertised SSH host
func (c *SSHClient) Execute(ctx context.Context, h agent.Handle, spec Spec) (*Result, error) {
	host, user, ok := sshTarget(h.Capabilities())
	if !ok {
		return nil, fmt.Errorf("agent %s advertises no ssh host", h.Name())
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            c.Auth,
		HostKeyCallback: c.HostKeyCallback,
	}
	if config.HostKeyCallback == nil {
		config.HostKeyCallback = ssh.FixedHostKey(nil)
	}

	dial := c.Dial
	if dial == nil {
		dial = ssh.Dial
	}
	client, err := dial("tcp", host, config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", host, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session on %s: %w", host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	command := buildRemoteCommand(spec)

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		exitErr, isExit := err.(*ssh.ExitError)
		if !isExit {
			return result, fmt.Errorf("remote execution on %s failed: %w", host, err)
		}
		result.ExitCode = exitErr.ExitStatus()
	}
	return result, nil
}

func sshTarget(capabilities map[string]string) (host, user string, ok bool) {
	for k, v := range capabilities {
		key := strings.ToLower(k)
		if strings.HasSuffix(key, ".remote.sshhost") && v != "" {
			host = v
			prefix := strings.TrimSuffix(key, "sshhost")
			for uk, uv := range capabilities {
				if strings.EqualFold(uk, prefix+"sshUser") {
					user = uv
				}
				if strings.EqualFold(uk, prefix+"sshPort") && !strings.Contains(host, ":") {
					host = host + ":" + uv
				}
			}
			if !strings.Contains(host, ":") {
				host = host + ":22"
			}
			return host, user, true
		}
	}
	return "", "", false
}

func buildRemoteCommand(spec Spec) string {
	parts := make([]string, 0, len(spec.Args)+2)
	if spec.WorkingDir != "" {
		parts = append(parts, "cd "+shellQuote(spec.WorkingDir), "&&")
	}
	command := shellQuote(spec.FileName)
	for k, v := range spec.Env {
		command = k + "=" + shellQuote(v) + " " + command
	}
	parts = append(parts, command)
	for _, arg := range spec.Args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$&|;<>()*?[]#~%") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
