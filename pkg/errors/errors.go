package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different types of errors that can occur
type ErrorType int

const (
	// Configuration errors
	ErrorTypeConfig ErrorType = iota
	// Repository access errors (root clone, local path)
	ErrorTypeRepository
	// Workflow discovery and parsing errors
	ErrorTypeWorkflow
	// Nothing to scan
	ErrorTypeNoRootFiles
	// Every branch of a root hit the depth bound
	ErrorTypeDepthExceeded
	// Scan was cancelled or timed out
	ErrorTypeCancelled
	// Policy evaluation errors
	ErrorTypePolicy
	// Report generation errors
	ErrorTypeReport
	// Validation errors
	ErrorTypeValidation
)

var typeNames = map[ErrorType]string{
	ErrorTypeConfig:        "config",
	ErrorTypeRepository:    "repository",
	ErrorTypeWorkflow:      "workflow",
	ErrorTypeNoRootFiles:   "no_root_files",
	ErrorTypeDepthExceeded: "depth_exceeded",
	ErrorTypeCancelled:     "cancelled",
	ErrorTypePolicy:        "policy",
	ErrorTypeReport:        "report",
	ErrorTypeValidation:    "validation",
}

// String returns the stable name of the error type
func (t ErrorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// PinwalkError represents a structured error with context
type PinwalkError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Details     map[string]interface{}
	Suggestions []string
}

// Error implements the error interface
func (e *PinwalkError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, e.Details[k]))
		}
		sb.WriteString(")")
	}

	return sb.String()
}

// Unwrap returns the underlying error
func (e *PinwalkError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *PinwalkError) Is(target error) bool {
	if t, ok := target.(*PinwalkError); ok {
		return e.Type == t.Type
	}
	return false
}

// UserFriendlyMessage returns a user-friendly error message with suggestions
func (e *PinwalkError) UserFriendlyMessage() string {
	var sb strings.Builder
	sb.WriteString("❌ ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	if len(e.Suggestions) > 0 {
		sb.WriteString("\n\n💡 Suggestions:")
		for _, suggestion := range e.Suggestions {
			sb.WriteString("\n   • ")
			sb.WriteString(suggestion)
		}
	}

	return sb.String()
}

// IsType reports whether err wraps a PinwalkError of the given type
func IsType(err error, t ErrorType) bool {
	var pe *PinwalkError
	if stderrors.As(err, &pe) {
		return pe.Type == t
	}
	return false
}

func newError(t ErrorType, message string, cause error, suggestions []string) *PinwalkError {
	return &PinwalkError{
		Type:        t,
		Message:     message,
		Cause:       cause,
		Details:     make(map[string]interface{}),
		Suggestions: suggestions,
	}
}

// Constructor functions for different error types

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error, suggestions ...string) *PinwalkError {
	return newError(ErrorTypeConfig, message, cause, suggestions)
}

// NewRepositoryError creates a repository error
func NewRepositoryError(message string, cause error, repo string, suggestions ...string) *PinwalkError {
	e := newError(ErrorTypeRepository, message, cause, suggestions)
	if repo != "" {
		e.Details["repository"] = repo
	}
	return e
}

// NewWorkflowError creates a workflow discovery error
func NewWorkflowError(message string, cause error, workflowPath string, suggestions ...string) *PinwalkError {
	e := newError(ErrorTypeWorkflow, message, cause, suggestions)
	if workflowPath != "" {
		e.Details["workflow"] = workflowPath
	}
	return e
}

// NewPolicyError creates a policy evaluation error
func NewPolicyError(message string, cause error, policyPath string, suggestions ...string) *PinwalkError {
	e := newError(ErrorTypePolicy, message, cause, suggestions)
	if policyPath != "" {
		e.Details["policy"] = policyPath
	}
	return e
}

// NewReportError creates a report generation error
func NewReportError(message string, cause error, outputPath string, suggestions ...string) *PinwalkError {
	e := newError(ErrorTypeReport, message, cause, suggestions)
	if outputPath != "" {
		e.Details["output"] = outputPath
	}
	return e
}

// NewValidationError creates a validation error
func NewValidationError(message string, field string, value interface{}, suggestions ...string) *PinwalkError {
	e := newError(ErrorTypeValidation, message, nil, suggestions)
	if field != "" {
		e.Details["field"] = field
	}
	if value != nil {
		e.Details["value"] = value
	}
	return e
}

// Predefined common errors

// ErrNoRootFiles is returned when a scan has no workflow files to start from
func ErrNoRootFiles(location string) *PinwalkError {
	e := newError(ErrorTypeNoRootFiles,
		"No workflow files found",
		nil,
		[]string{
			"Check that the repository contains .github/workflows/*.yml",
			"Point --workflow at a specific workflow file",
		})
	if location != "" {
		e.Details["location"] = location
	}
	return e
}

// ErrDepthExceeded is returned when every branch of a root workflow hit the depth bound
func ErrDepthExceeded(root string, maxDepth int) *PinwalkError {
	e := newError(ErrorTypeDepthExceeded,
		"Every dependency chain exceeded the maximum depth",
		nil,
		[]string{
			"Raise --max-depth if the chain is legitimate",
			"Inspect the composite actions referenced by this workflow for runaway chains",
		})
	e.Details["root"] = root
	e.Details["max_depth"] = maxDepth
	return e
}

// ErrCancelled wraps a context error for a scan that did not finish
func ErrCancelled(cause error) *PinwalkError {
	return newError(ErrorTypeCancelled,
		"Scan cancelled before the dependency graph was complete",
		cause,
		[]string{"Increase --timeout or lower the number of root workflows"})
}

// ErrNoInputSpecified creates a no input specified error
func ErrNoInputSpecified() *PinwalkError {
	return NewValidationError(
		"No input specified",
		"input",
		nil,
		"Specify --url for a GitHub repository, --repo for a local checkout, or --workflow for single files",
		"Use 'pinwalk --help' to see all available options",
	)
}

// ErrConfigNotFound creates a configuration not found error
func ErrConfigNotFound(configPath string) *PinwalkError {
	return NewConfigError(
		fmt.Sprintf("Configuration file not found: %s", configPath),
		nil,
		"Create a configuration file using 'pinwalk init-config'",
		"Use default configuration by omitting the --config flag",
	)
}

// ErrInvalidOutputFormat creates an invalid output format error
func ErrInvalidOutputFormat(format string, supportedFormats []string) *PinwalkError {
	return NewValidationError(
		fmt.Sprintf("Invalid output format: %s", format),
		"output",
		format,
		fmt.Sprintf("Use one of the supported formats: %s", strings.Join(supportedFormats, ", ")),
	)
}

// ErrInvalidFetcher creates an invalid fetch backend error
func ErrInvalidFetcher(fetcher string, supported []string) *PinwalkError {
	return NewValidationError(
		fmt.Sprintf("Invalid fetcher: %s", fetcher),
		"fetcher",
		fetcher,
		fmt.Sprintf("Use one of the supported fetchers: %s", strings.Join(supported, ", ")),
	)
}
