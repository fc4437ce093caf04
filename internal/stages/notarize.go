package stages

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/notary"
	"github.com/wieslawsoltes/packagingtools/internal/pipeline"
)

// NotarizeStage submits macOS bundle artifacts for notarization and stamps
// the outcome into their metadata. Enabled by mac.notarize.enabled.
type NotarizeStage struct {
	// NewClient builds a notarization client per run so the poll settings
	// can come from request properties
	NewClient func(fctx *pipeline.FormatContext) *notary.Client
}

// Name identifies the stage
func (s *NotarizeStage) Name() string { return "notarize" }

// Run drives each eligible artifact through the notarization state machine
func (s *NotarizeStage) Run(ctx context.Context, fctx *pipeline.FormatContext, current *models.PackagingResult) []models.PackagingIssue {
	if !fctx.Request.BoolProperty("mac.notarize.enabled") {
		return nil
	}

	client := s.client(fctx)
	var issues []models.PackagingIssue

	for i := range current.Artifacts {
		artifact := &current.Artifacts[i]
		if !notarizable(artifact.Format) {
			continue
		}
		if ctx.Err() != nil {
			issues = append(issues, models.NewError(
				"mac.notarization.cancelled", "Notarization cancelled: %v", ctx.Err()))
			break
		}

		logrus.Infof("Notarizing %s artifact %s", artifact.Format, artifact.Path)
		outcome := client.Notarize(ctx, artifact.Path)
		issues = append(issues, outcome.Issues...)

		if artifact.Metadata == nil {
			artifact.Metadata = map[string]string{}
		}
		if outcome.RequestID != "" {
			artifact.Metadata["notarizationRequestId"] = outcome.RequestID
		}
		if outcome.Status != "" {
			artifact.Metadata["notarizationStatus"] = outcome.Status
		}
		artifact.Metadata["stapled"] = strconv.FormatBool(outcome.Stapled)
		if outcome.LogPath != "" {
			artifact.Metadata["notarizationLog"] = outcome.LogPath
		}
	}
	return issues
}

func (s *NotarizeStage) client(fctx *pipeline.FormatContext) *notary.Client {
	if s.NewClient != nil {
		return s.NewClient(fctx)
	}
	return notary.NewClient(notary.Config{LogDir: fctx.WorkDir}, fctx.Runner)
}

func notarizable(format string) bool {
	switch strings.ToLower(format) {
	case "dmg", "pkg", "app", "bundle":
		return true
	default:
		return false
	}
}

var _ pipeline.Stage = (*NotarizeStage)(nil)
