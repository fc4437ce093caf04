package models

import "fmt"

// Severity classifies how serious a packaging issue is
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "Info"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	default:
		return "Unknown"
	}
}

// PackagingIssue is a single diagnostic produced by any pipeline stage.
// Issues are always returned as data, never raised as control flow.
type PackagingIssue struct {
	Code     string
	Message  string
	Severity Severity
}

// NewInfo creates an informational issue
func NewInfo(code, format string, args ...interface{}) PackagingIssue {
	return PackagingIssue{Code: code, Message: fmt.Sprintf(format, args...), Severity: SeverityInfo}
}

// NewWarning creates a warning issue
func NewWarning(code, format string, args ...interface{}) PackagingIssue {
	return PackagingIssue{Code: code, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning}
}

// NewError creates an error issue
func NewError(code, format string, args ...interface{}) PackagingIssue {
	return PackagingIssue{Code: code, Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

// HasErrors reports whether any issue in the list has Error severity
func HasErrors(issues []PackagingIssue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}
