// Package providers contains format provider implementations shipped with the
// tool. Real installer builders (WiX, pkgbuild, dpkg-deb wrappers) plug into
// the same registry; CommandProvider covers projects that drive an arbitrary
// packaging tool from project configuration.
package providers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/pipeline"
	"github.com/wieslawsoltes/packagingtools/internal/runner"
)

// CommandProvider packages one format by invoking the tool configured in the
// project's settings (<format>.tool and <format>.args). The command runs
// through the agent-aware runner, so it transparently executes on a brokered
// remote host when the active agent advertises one.
type CommandProvider struct {
	format string
}

// NewCommandProvider creates a provider for the given format tag
func NewCommandProvider(format string) *CommandProvider {
	return &CommandProvider{format: strings.ToLower(format)}
}

// Format returns the format tag
func (p *CommandProvider) Format() string { return p.format }

// Package runs the configured tool and reports the produced artifact
func (p *CommandProvider) Package(ctx context.Context, fctx *pipeline.FormatContext) ([]models.PackagingArtifact, []models.PackagingIssue, error) {
	tool, ok := fctx.Request.EffectiveProperty(fctx.Project, p.format+".tool")
	if !ok || strings.TrimSpace(tool) == "" {
		return nil, []models.PackagingIssue{models.NewError(
			p.format+".tool_not_configured",
			"No packaging tool is configured for format %s (set %s.tool)", p.format, p.format)}, nil
	}

	outPath := filepath.Join(fctx.Request.OutputDir,
		fmt.Sprintf("%s-%s.%s", fctx.Project.Name, fctx.Project.Version, p.format))

	spec := runner.Spec{
		FileName:   tool,
		WorkingDir: fctx.Request.OutputDir,
		Env: map[string]string{
			"PACKAGING_OUTPUT":  outPath,
			"PACKAGING_PROJECT": fctx.Project.ID,
			"PACKAGING_VERSION": fctx.Project.Version,
		},
	}
	if args, ok := fctx.Request.EffectiveProperty(fctx.Project, p.format+".args"); ok {
		spec.Args = strings.Fields(args)
	}
	spec.Args = append(spec.Args, outPath)

	result, err := fctx.Runner.Execute(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	if result.ExitCode != 0 {
		issue := models.NewError(
			p.format+".tool_failed",
			"Packaging tool %s exited with code %d; diagnostics at %s", tool, result.ExitCode, result.LogPath)
		return nil, []models.PackagingIssue{issue}, nil
	}

	artifact := models.PackagingArtifact{
		Format: p.format,
		Path:   outPath,
		Metadata: map[string]string{
			"packageName": fctx.Project.Name,
			"version":     fctx.Project.Version,
			"tool":        tool,
		},
	}
	return []models.PackagingArtifact{artifact}, nil, nil
}

var _ pipeline.FormatProvider = (*CommandProvider)(nil)
