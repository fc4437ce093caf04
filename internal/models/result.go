package models

// PackagingArtifact is one produced installer file plus its metadata
// (signing identifiers, notarization request ids, checksums).
type PackagingArtifact struct {
	Format   string
	Path     string
	Metadata map[string]string
}

// PackagingResult is the immutable outcome of a pipeline run. Success is
// always derived from the issue list; merging issues produces a new result
// so the flag can never go stale.
type PackagingResult struct {
	Success   bool
	Artifacts []PackagingArtifact
	Issues    []PackagingIssue
}

// NewResult computes Success from the provided issues
func NewResult(artifacts []PackagingArtifact, issues []PackagingIssue) *PackagingResult {
	return &PackagingResult{
		Success:   !HasErrors(issues),
		Artifacts: artifacts,
		Issues:    issues,
	}
}

// FailedResult builds a result carrying a single error issue
func FailedResult(issues ...PackagingIssue) *PackagingResult {
	return NewResult(nil, issues)
}

// WithIssues returns a new result with extra issues appended and Success
// recomputed over the merged set
func (r *PackagingResult) WithIssues(issues ...PackagingIssue) *PackagingResult {
	if len(issues) == 0 {
		return r
	}
	merged := make([]PackagingIssue, 0, len(r.Issues)+len(issues))
	merged = append(merged, r.Issues...)
	merged = append(merged, issues...)
	return NewResult(r.Artifacts, merged)
}

// BlockingIssueCount returns the number of Error-severity issues
func (r *PackagingResult) BlockingIssueCount() int {
	count := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			count++
		}
	}
	return count
}

// PolicyEvaluationResult is the policy gate verdict. Blocked means the run
// stops before any format provider executes.
type PolicyEvaluationResult struct {
	IsAllowed bool
	Issues    []PackagingIssue
}
