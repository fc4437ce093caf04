// Package notary drives the macOS notarization protocol: submit the artifact,
// poll the service until it reaches a terminal status, persist the service log
// and staple the ticket on acceptance. The submit/poll/staple loop is bounded
// and cancellable; a stuck service surfaces as a status_timeout error.
package notary

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/runner"
)

// Terminal and transient notarization statuses, post-normalization
const (
	StatusAccepted   = "accepted"
	StatusRejected   = "rejected"
	StatusInvalid    = "invalid"
	StatusInProgress = "inprogress"
)

// Config controls the poll loop and tool invocations
type Config struct {
	// Tool is the notarization binary, typically xcrun
	Tool string

	// ToolArgs prefix every invocation (e.g. ["notarytool"])
	ToolArgs []string

	// Profile is the keychain profile passed to the tool
	Profile string

	// PollInterval is the delay between status queries
	PollInterval time.Duration

	// MaxPollAttempts bounds the number of status queries after submission
	MaxPollAttempts int

	// DisableStapling skips the staple step after acceptance
	DisableStapling bool

	// LogDir receives submission diagnostics and the fetched service log
	LogDir string
}

// Outcome is the final state of one notarization run
type Outcome struct {
	RequestID string
	Status    string
	Stapled   bool
	LogPath   string
	Issues    []models.PackagingIssue
}

// Accepted reports whether the artifact was notarized and stapled as required
func (o *Outcome) Accepted() bool {
	return o.Status == StatusAccepted && !models.HasErrors(o.Issues)
}

// Client runs the notarization state machine through a process runner
type Client struct {
	cfg Config
	run runner.Runner
}

// NewClient creates a notarization client
func NewClient(cfg Config, run runner.Runner) *Client {
	if cfg.Tool == "" {
		cfg.Tool = "xcrun"
		cfg.ToolArgs = []string{"notarytool"}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 60
	}
	return &Client{cfg: cfg, run: run}
}

// Notarize submits the artifact and drives it to a terminal state
func (c *Client) Notarize(ctx context.Context, artifactPath string) *Outcome {
	outcome := &Outcome{}

	// Submit
	result, err := c.invoke(ctx, append([]string{"submit", artifactPath, "--output-format", "json"}, c.profileArgs()...))
	if err != nil {
		outcome.Issues = append(outcome.Issues, models.NewError(
			"mac.notarization.submit_failed", "Notarization submission failed: %v", err))
		return outcome
	}
	if result.ExitCode != 0 {
		logPath := c.persistLog("submit", []byte(result.Stdout+"\n"+result.Stderr))
		outcome.Issues = append(outcome.Issues, models.NewError(
			"mac.notarization.submit_failed",
			"Notarization submission exited with code %d; diagnostics at %s", result.ExitCode, logPath))
		return outcome
	}

	outcome.RequestID, outcome.Status = parseResponse(result.Stdout)
	if outcome.RequestID == "" {
		outcome.Issues = append(outcome.Issues, models.NewError(
			"mac.notarization.submit_failed",
			"Notarization submission returned no request id: %s", strings.TrimSpace(result.Stdout)))
		return outcome
	}
	logrus.Infof("Notarization request %s submitted (status %s)", outcome.RequestID, outcome.Status)

	// Poll until terminal
	if outcome.Status == StatusInProgress || outcome.Status == "" {
		if !c.poll(ctx, outcome) {
			return outcome
		}
	}

	// Fetch the service log regardless of acceptance
	outcome.LogPath = c.fetchLog(ctx, outcome.RequestID)

	if outcome.Status != StatusAccepted {
		outcome.Issues = append(outcome.Issues, models.NewError(
			"mac.notarization.rejected",
			"Notarization finished with status %q; see log at %s", outcome.Status, outcome.LogPath))
		return outcome
	}

	// Staple
	if c.cfg.DisableStapling {
		logrus.Debugf("Stapling disabled for %s", artifactPath)
		return outcome
	}
	c.staple(ctx, artifactPath, outcome)
	return outcome
}

// poll repeats status queries up to MaxPollAttempts, checking cancellation
// between the delay and each query. Returns false on a non-terminal exit.
func (c *Client) poll(ctx context.Context, outcome *Outcome) bool {
	for attempt := 1; attempt <= c.cfg.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			outcome.Issues = append(outcome.Issues, models.NewError(
				"mac.notarization.cancelled", "Notarization polling cancelled: %v", ctx.Err()))
			return false
		case <-time.After(c.cfg.PollInterval):
		}
		if ctx.Err() != nil {
			outcome.Issues = append(outcome.Issues, models.NewError(
				"mac.notarization.cancelled", "Notarization polling cancelled: %v", ctx.Err()))
			return false
		}

		result, err := c.invoke(ctx, append([]string{"info", outcome.RequestID, "--output-format", "json"}, c.profileArgs()...))
		if err != nil {
			outcome.Issues = append(outcome.Issues, models.NewError(
				"mac.notarization.status_failed", "Notarization status query failed: %v", err))
			return false
		}
		_, outcome.Status = parseResponse(result.Stdout)
		logrus.Debugf("Notarization %s poll %d/%d: %s", outcome.RequestID, attempt, c.cfg.MaxPollAttempts, outcome.Status)

		if outcome.Status != StatusInProgress && outcome.Status != "" {
			return true
		}
	}

	outcome.Issues = append(outcome.Issues, models.NewError(
		"mac.notarization.status_timeout",
		"Notarization %s still in progress after %d polls", outcome.RequestID, c.cfg.MaxPollAttempts))
	return false
}

func (c *Client) staple(ctx context.Context, artifactPath string, outcome *Outcome) {
	result, err := c.invokeRaw(ctx, []string{"stapler", "staple", artifactPath})
	if err != nil {
		outcome.Issues = append(outcome.Issues, models.NewError(
			"mac.notarization.staple_failed", "Stapling failed: %v", err))
		return
	}
	if result.ExitCode != 0 {
		outcome.Issues = append(outcome.Issues, models.NewError(
			"mac.notarization.staple_failed",
			"Stapling exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)))
		return
	}
	outcome.Stapled = true
}

// fetchLog retrieves and persists the notarization log for audit
func (c *Client) fetchLog(ctx context.Context, requestID string) string {
	result, err := c.invoke(ctx, append([]string{"log", requestID}, c.profileArgs()...))
	if err != nil || result.ExitCode != 0 {
		logrus.Warnf("Failed to fetch notarization log for %s", requestID)
		return ""
	}
	return c.persistLog("log-"+requestID, []byte(result.Stdout))
}

func (c *Client) persistLog(name string, content []byte) string {
	dir := c.cfg.LogDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("notarization-%s.log", name))
	if err := os.WriteFile(path, content, 0644); err != nil {
		return ""
	}
	return path
}

func (c *Client) invoke(ctx context.Context, args []string) (*runner.Result, error) {
	return c.run.Execute(ctx, runner.Spec{
		FileName: c.cfg.Tool,
		Args:     append(append([]string(nil), c.cfg.ToolArgs...), args...),
	})
}

// invokeRaw skips ToolArgs, for subcommands outside the notary tool
func (c *Client) invokeRaw(ctx context.Context, args []string) (*runner.Result, error) {
	return c.run.Execute(ctx, runner.Spec{FileName: c.cfg.Tool, Args: args})
}

func (c *Client) profileArgs() []string {
	if c.cfg.Profile == "" {
		return nil
	}
	return []string{"--keychain-profile", c.cfg.Profile}
}

// parseResponse extracts the request id and normalized status from tool
// output, accepting JSON ({"id": ..., "status": ...}) or key: value lines.
func parseResponse(output string) (id, status string) {
	var payload struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(output), &payload); err == nil {
		return payload.ID, NormalizeStatus(payload.Status)
	}

	for _, line := range strings.Split(output, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "id":
			if id == "" {
				id = strings.TrimSpace(value)
			}
		case "status":
			status = NormalizeStatus(value)
		}
	}
	return id, status
}

// NormalizeStatus collapses case, spacing and underscore variants, so
// "InProgress", "In Progress" and "In_Progress" all compare equal.
func NormalizeStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}
