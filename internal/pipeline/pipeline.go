// Package pipeline implements the per-platform packaging orchestration loop:
// load the project, evaluate policy, acquire a build agent, fan out to format
// providers and run the platform's secondary stages over the merged result.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wieslawsoltes/packagingtools/internal/agent"
	"github.com/wieslawsoltes/packagingtools/internal/identity"
	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/policy"
	"github.com/wieslawsoltes/packagingtools/internal/projectstore"
	"github.com/wieslawsoltes/packagingtools/internal/runner"
	"github.com/wieslawsoltes/packagingtools/internal/telemetry"
)

// Stage is a secondary pipeline step (sandbox capture, repository publish,
// security artifacts) run strictly after all format providers complete.
// Stages decide their own enablement from request properties and must return
// nil issues when disabled.
type Stage interface {
	// Name identifies the stage in logs and telemetry
	Name() string

	// Run inspects the current result and returns any issues to merge into it
	Run(ctx context.Context, fctx *FormatContext, current *models.PackagingResult) []models.PackagingIssue
}

// Pipeline orchestrates packaging runs for one platform
type Pipeline struct {
	Platform  string
	Projects  projectstore.Store
	Gate      *policy.Gate
	Broker    agent.Broker
	Identity  *identity.Service
	Providers *Registry
	Stages    []Stage
	Telemetry telemetry.Channel
	Remotes   []runner.RemoteClient
	LocalRun  runner.Runner
}

// New creates a pipeline with the default broker and telemetry sinks filled in
func New(platform string, projects projectstore.Store, providers *Registry, stages ...Stage) *Pipeline {
	return &Pipeline{
		Platform:  platform,
		Projects:  projects,
		Gate:      policy.NewGate(),
		Broker:    agent.NewLocalBroker(),
		Providers: providers,
		Stages:    stages,
		Telemetry: telemetry.LogChannel{},
	}
}

// Execute runs the full pipeline for one request. Every failure mode comes
// back as issues on the result; Execute never panics across its boundary.
func (p *Pipeline) Execute(ctx context.Context, request *models.PackagingRequest) *models.PackagingResult {
	jobID := uuid.NewString()
	started := time.Now()

	result := p.execute(ctx, jobID, request)

	p.Telemetry.TrackEvent("pipeline.completed", map[string]string{
		"jobId":          jobID,
		"platform":       p.Platform,
		"durationMs":     strconv.FormatInt(time.Since(started).Milliseconds(), 10),
		"blockingIssues": strconv.Itoa(result.BlockingIssueCount()),
		"success":        strconv.FormatBool(result.Success),
	})
	for _, artifact := range result.Artifacts {
		p.Telemetry.TrackEvent("pipeline.artifact", map[string]string{
			"jobId":  jobID,
			"format": artifact.Format,
			"path":   artifact.Path,
		})
	}
	return result
}

func (p *Pipeline) execute(ctx context.Context, jobID string, request *models.PackagingRequest) *models.PackagingResult {
	// Step 1: Platform check
	if !strings.EqualFold(request.Platform, p.Platform) {
		return models.FailedResult(models.NewError(
			"pipeline.platform_mismatch",
			"Request targets platform %q but this pipeline builds %q", request.Platform, p.Platform))
	}

	// Step 2: Load project
	project, err := p.Projects.TryLoad(request.ProjectID)
	if err != nil {
		return models.FailedResult(models.NewError(
			"project_load_failed", "Failed to load project %s: %v", request.ProjectID, err))
	}
	if project == nil {
		return models.FailedResult(models.NewError(
			"project_not_found", "Project %s was not found", request.ProjectID))
	}

	// Step 3: Policy gate
	caller := p.acquireIdentity(ctx, request)
	verdict := p.Gate.Evaluate(project, request, caller)
	if !verdict.IsAllowed {
		logrus.Warnf("Policy blocked packaging run for project %s", project.ID)
		return models.FailedResult(verdict.Issues...)
	}

	// Step 4: Build agent, scoped to this run
	handle, err := p.Broker.Acquire(ctx, p.Platform)
	if err != nil {
		return models.FailedResult(verdict.Issues...).WithIssues(models.NewError(
			"agent_acquisition_failed", "Failed to acquire a build agent: %v", err))
	}
	defer func() {
		if releaseErr := handle.Release(); releaseErr != nil {
			logrus.Warnf("Failed to release agent %s: %v", handle.Name(), releaseErr)
		}
	}()

	scope := agent.NewScope()
	pop := scope.Push(handle)
	defer pop()

	fctx := &FormatContext{
		Project: project,
		Request: request,
		JobID:   jobID,
		WorkDir: filepath.Join(request.OutputDir, "_diagnostics", jobID),
		Scope:   scope,
	}
	local := p.LocalRun
	if local == nil {
		local = runner.NewLocalRunner(fctx.WorkDir)
	}
	fctx.Runner = runner.NewAgentAwareRunner(scope, local, p.Remotes...)

	agg := &collector{}
	agg.addIssues(verdict.Issues)

	// Step 5: Resolve providers
	providers, unmatched := p.Providers.Resolve(request.Formats)
	for _, format := range unmatched {
		agg.addIssues([]models.PackagingIssue{models.NewWarning(
			"pipeline.unknown_format", "No provider is registered for format %q", format)})
	}
	if len(providers) == 0 {
		agg.addIssues([]models.PackagingIssue{models.NewError(
			"pipeline.no_matching_formats",
			"None of the requested formats (%s) has a registered provider", strings.Join(request.Formats, ", "))})
		return agg.result()
	}

	// Step 6: Fan out to providers. A failing provider is isolated: it
	// contributes an error issue, siblings keep running.
	var g errgroup.Group
	for _, provider := range providers {
		provider := provider
		g.Go(func() error {
			artifacts, issues := p.invokeProvider(ctx, provider, fctx)
			agg.addArtifacts(artifacts)
			agg.addIssues(issues)
			return nil
		})
	}
	g.Wait()

	// Steps 7-8: Secondary stages in pipeline order, Success re-derived
	// after each stage.
	current := agg.result()
	for _, stage := range p.Stages {
		if ctx.Err() != nil {
			current = current.WithIssues(models.NewError(
				"pipeline.cancelled", "Packaging run cancelled before stage %s: %v", stage.Name(), ctx.Err()))
			break
		}
		stageStart := time.Now()
		issues := stage.Run(ctx, fctx, current)
		p.Telemetry.TrackDependency("stage."+stage.Name(), time.Since(stageStart), !models.HasErrors(issues), map[string]string{
			"jobId": jobID,
		})
		current = current.WithIssues(issues...)
	}
	return current
}

// invokeProvider calls one provider, converting panics and errors into issues
func (p *Pipeline) invokeProvider(ctx context.Context, provider FormatProvider, fctx *FormatContext) (artifacts []models.PackagingArtifact, issues []models.PackagingIssue) {
	format := provider.Format()
	defer func() {
		if recovered := recover(); recovered != nil {
			issues = append(issues, models.NewError(
				providerFailureCode(format),
				"Provider %s panicked (%T): %v", format, recovered, recovered))
		}
	}()

	logrus.Infof("Running %s provider for project %s", format, fctx.Project.ID)
	started := time.Now()
	artifacts, issues, err := provider.Package(ctx, fctx)
	p.Telemetry.TrackDependency("provider."+strings.ToLower(format), time.Since(started), err == nil, map[string]string{
		"jobId": fctx.JobID,
	})
	if err != nil {
		issues = append(issues, models.NewError(
			providerFailureCode(format),
			"Provider %s failed (%T): %v", format, err, err))
	}
	return artifacts, issues
}

func providerFailureCode(format string) string {
	return fmt.Sprintf("pipeline.provider_failed.%s", strings.ToLower(format))
}

// acquireIdentity resolves the caller identity when the request names an
// identity provider. Failures surface later through the policy gate when an
// identity is actually required.
func (p *Pipeline) acquireIdentity(ctx context.Context, request *models.PackagingRequest) *identity.Result {
	if p.Identity == nil {
		return nil
	}
	providerKey, ok := request.Property("identity.provider")
	if !ok {
		return nil
	}
	username, _ := request.Property("identity.username")
	tenant, _ := request.Property("identity.tenant")
	mfaCode, hasMFA := request.Property("identity.mfaCode")

	req := identity.Request{
		ProviderKey: providerKey,
		Tenant:      tenant,
		Username:    username,
		RequireMFA:  request.BoolProperty("identity.requireMfa"),
		Parameters:  map[string]string{},
	}
	if scopes, ok := request.Property("identity.scopes"); ok {
		for _, scope := range strings.Split(scopes, ",") {
			if trimmed := strings.TrimSpace(scope); trimmed != "" {
				req.Scopes = append(req.Scopes, trimmed)
			}
		}
	}
	if hasMFA {
		req.Parameters["mfaCode"] = mfaCode
	}

	result, err := p.Identity.Acquire(ctx, req)
	if err != nil {
		logrus.Warnf("Identity acquisition via %s failed: %v", providerKey, err)
		return nil
	}
	return result
}
