// Package policy evaluates organizational packaging policy before a run is
// allowed to execute. Rules are independent: every failing rule contributes
// its issues, so a blocked run reports all violations at once.
package policy

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/wieslawsoltes/packagingtools/internal/identity"
	"github.com/wieslawsoltes/packagingtools/internal/models"
)

// Policy metadata keys, read from project metadata per evaluation
const (
	KeySigningRequired   = "policy.signing.required"
	KeyTimestampRequired = "policy.signing.requireTimestamp"
	KeyApprovalRequired  = "policy.approval.required"
	KeyApprovalToken     = "approval.token"
	KeyRetentionMaxDays  = "policy.retention.maxDays"
	KeyRetentionDays     = "retention.days"
	KeyIdentityRequired  = "policy.identity.required"
	KeyRequiredRoles     = "policy.identity.roles"
)

// signingKeys lists the recognized signing-credential settings per platform
var signingKeys = map[string][]string{
	"windows": {"signing.certThumbprint", "signing.pfxPath", "signing.certificate.storeEntryId"},
	"mac":     {"signing.identity", "mac.signing.certificateId", "signing.certificate.storeEntryId"},
	"linux":   {"signing.gpgKeyId", "signing.gpgKeyPath", "linux.gpgKey.storeEntryId"},
}

// timestampKeys lists the recognized timestamp settings
var timestampKeys = []string{"signing.timestampUrl", "signing.timestampServer"}

// Gate evaluates packaging policy
type Gate struct{}

// NewGate creates a policy gate
func NewGate() *Gate {
	return &Gate{}
}

// Evaluate runs every rule against the project, request and identity.
// Configuration is derived from project metadata on each call; the gate
// itself holds no state, so repeated evaluation of the same inputs is
// deterministic.
func (g *Gate) Evaluate(project *models.PackagingProject, request *models.PackagingRequest, caller *identity.Result) models.PolicyEvaluationResult {
	var issues []models.PackagingIssue

	issues = append(issues, g.checkSigning(project, request)...)
	issues = append(issues, g.checkApproval(project, request)...)
	issues = append(issues, g.checkRetention(project, request)...)
	issues = append(issues, g.checkIdentity(project, caller)...)

	blocked := models.HasErrors(issues)
	if blocked {
		logrus.Debugf("Policy blocked request for project %s with %d violations", project.ID, len(issues))
	}
	return models.PolicyEvaluationResult{IsAllowed: !blocked, Issues: issues}
}

func (g *Gate) checkSigning(project *models.PackagingProject, request *models.PackagingRequest) []models.PackagingIssue {
	if !boolSetting(project, request, KeySigningRequired) {
		return nil
	}

	var issues []models.PackagingIssue
	keys := signingKeys[strings.ToLower(request.Platform)]
	if !anySettingPresent(project, request, keys) {
		issues = append(issues, models.NewError(
			"policy.signing.credentials_missing",
			"Policy requires signing but no signing credential is configured for platform %s", request.Platform))
	}

	if boolSetting(project, request, KeyTimestampRequired) && !anySettingPresent(project, request, timestampKeys) {
		issues = append(issues, models.NewError(
			"policy.signing.timestamp_missing",
			"Policy requires a signing timestamp but no timestamp setting is configured"))
	}
	return issues
}

func (g *Gate) checkApproval(project *models.PackagingProject, request *models.PackagingRequest) []models.PackagingIssue {
	if !boolSetting(project, request, KeyApprovalRequired) {
		return nil
	}
	token, _ := request.EffectiveProperty(project, KeyApprovalToken)
	if strings.TrimSpace(token) == "" {
		return []models.PackagingIssue{models.NewError(
			"policy.approval.token_missing",
			"Policy requires an approval token but none was supplied")}
	}
	return nil
}

func (g *Gate) checkRetention(project *models.PackagingProject, request *models.PackagingRequest) []models.PackagingIssue {
	maxRaw, ok := project.MetadataValue(KeyRetentionMaxDays)
	if !ok {
		return nil
	}
	maxDays, err := strconv.Atoi(strings.TrimSpace(maxRaw))
	if err != nil {
		return []models.PackagingIssue{models.NewError(
			"policy.retention.invalid",
			"Retention policy value %q is not a number", maxRaw)}
	}

	requestedRaw, ok := request.Property(KeyRetentionDays)
	if !ok {
		return nil
	}
	requested, err := strconv.Atoi(strings.TrimSpace(requestedRaw))
	if err != nil {
		return []models.PackagingIssue{models.NewError(
			"policy.retention.invalid",
			"Requested retention value %q is not a number", requestedRaw)}
	}
	if requested > maxDays {
		return []models.PackagingIssue{models.NewError(
			"policy.retention.exceeded",
			"Requested retention of %d days exceeds the policy maximum of %d days", requested, maxDays)}
	}
	return nil
}

func (g *Gate) checkIdentity(project *models.PackagingProject, caller *identity.Result) []models.PackagingIssue {
	required := metaBool(project, KeyIdentityRequired)
	rolesRaw, _ := project.MetadataValue(KeyRequiredRoles)
	roles := splitRoles(rolesRaw)

	if !required && len(roles) == 0 {
		return nil
	}
	if caller == nil {
		return []models.PackagingIssue{models.NewError(
			"policy.identity.required",
			"Policy requires an authenticated identity but none was supplied")}
	}

	var missing []string
	for _, role := range roles {
		if !caller.Principal.HasRole(role) {
			missing = append(missing, role)
		}
	}
	if len(missing) > 0 {
		return []models.PackagingIssue{models.NewError(
			"policy.identity.roles_missing",
			"Identity %s is missing required roles: %s", caller.Principal.ID, strings.Join(missing, ", "))}
	}
	return nil
}

func splitRoles(raw string) []string {
	var roles []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	return roles
}

func boolSetting(project *models.PackagingProject, request *models.PackagingRequest, key string) bool {
	value, ok := request.EffectiveProperty(project, key)
	return ok && isTrue(value)
}

func metaBool(project *models.PackagingProject, key string) bool {
	value, ok := project.MetadataValue(key)
	return ok && isTrue(value)
}

func isTrue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

func anySettingPresent(project *models.PackagingProject, request *models.PackagingRequest, keys []string) bool {
	for _, key := range keys {
		if value, ok := request.EffectiveProperty(project, key); ok && strings.TrimSpace(value) != "" {
			return true
		}
	}
	return false
}
