// Package runner executes external packaging tools, locally or on a brokered
// remote host. Provider code always goes through the agent-aware runner, so
// the same provider works unmodified in both cases.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Spec describes one external command invocation
type Spec struct {
	FileName   string
	Args       []string
	WorkingDir string
	Env        map[string]string
}

// Result holds the output from a command execution
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	LogPath  string
}

// Runner executes external commands
type Runner interface {
	// Execute runs the command and returns its captured output. A non-zero
	// exit code is reported through Result, not through the error return.
	Execute(ctx context.Context, spec Spec) (*Result, error)
}

// LocalRunner runs commands on the local machine, writing a diagnostics log
// per invocation when LogDir is set.
type LocalRunner struct {
	LogDir string
	Now    func() time.Time
}

// NewLocalRunner creates a local process runner
func NewLocalRunner(logDir string) *LocalRunner {
	return &LocalRunner{LogDir: logDir}
}

// Execute runs the command locally
func (r *LocalRunner) Execute(ctx context.Context, spec Spec) (*Result, error) {
	cmd := exec.CommandContext(ctx, spec.FileName, spec.Args...)
	cmd.Dir = spec.WorkingDir
	if len(spec.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logrus.Debugf("Executing: %s %s", spec.FileName, strings.Join(spec.Args, " "))
	err := cmd.Run()

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if logPath, logErr := r.writeLog(spec, result); logErr == nil {
		result.LogPath = logPath
	}

	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if _, isExit := err.(*exec.ExitError); !isExit {
			return result, fmt.Errorf("failed to start %s: %w", spec.FileName, err)
		}
	}
	return result, nil
}

func (r *LocalRunner) writeLog(spec Spec, result *Result) (string, error) {
	if r.LogDir == "" {
		return "", fmt.Errorf("no log dir")
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if err := os.MkdirAll(r.LogDir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("cmd-%s-%s.log", filepath.Base(spec.FileName), now().UTC().Format("20060102-150405.000000000"))
	path := filepath.Join(r.LogDir, name)
	content := fmt.Sprintf("$ %s %s\nexit: %d\n\n--- stdout ---\n%s\n--- stderr ---\n%s\n",
		spec.FileName, strings.Join(spec.Args, " "), result.ExitCode, result.Stdout, result.Stderr)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}
