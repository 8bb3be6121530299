package constants

import (
	"os"
	"time"
)

// Application constants
const (
	// Version information
	AppName    = "pinwalk"
	AppVersion = "0.1.0"
	AppUsage   = "Transitive GitHub Actions pinning auditor"

	// Default configuration values
	DefaultOutputFormat  = "cli"
	DefaultFetcher       = "git"
	DefaultMaxDepth      = 50
	DefaultWorkers       = 8
	DefaultFetchTimeout  = 2 * time.Minute
	DefaultScanTimeout   = 30 * time.Minute
	DefaultConfigFile    = ".pinwalk.yml"
	DefaultWorkDirPrefix = "pinwalk-"

	// Supported fetch backends
	FetcherGit = "git"
	FetcherAPI = "api"

	// Supported output formats
	OutputFormatCLI   = "cli"
	OutputFormatJSON  = "json"
	OutputFormatHTML  = "html"
	OutputFormatSARIF = "sarif"

	// Configuration file names
	ConfigFilePinwalkYML  = ".pinwalk.yml"
	ConfigFilePinwalkYAML = ".pinwalk.yaml"
	ConfigFileBaseYML     = "pinwalk.yml"
	ConfigFileBaseYAML    = "pinwalk.yaml"

	// Common paths
	GitHubWorkflowsPath = ".github/workflows"
	GitHubHost          = "github.com"

	// Policy query root
	PolicyPackage = "pinwalk"
	PolicyQuery   = "data.pinwalk.deny[x]"

	// Environment variables
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"

	// Error messages
	ErrNoInputSpecified      = "either --url, --repo, or --workflow must be specified"
	ErrConfigLoadFailed      = "failed to load configuration"
	ErrRepositoryCloneFailed = "failed to clone repository"
)

// Action definition file names, in lookup order
var ActionFileNames = []string{
	"action.yml",
	"action.yaml",
}

// Supported output formats list
var SupportedOutputFormats = []string{
	OutputFormatCLI,
	OutputFormatJSON,
	OutputFormatHTML,
	OutputFormatSARIF,
}

// Supported fetch backends list
var SupportedFetchers = []string{
	FetcherGit,
	FetcherAPI,
}

// ciEnvironment lists variables set by common CI systems
var ciEnvironment = []string{
	EnvCI, EnvGitHubActions, "TRAVIS", "CIRCLECI", "JENKINS_URL",
	"GITLAB_CI", "BUILDKITE", "TF_BUILD",
}

// IsRunningInCI reports whether the process runs under a CI system
func IsRunningInCI() bool {
	for _, env := range ciEnvironment {
		if v := os.Getenv(env); v != "" && v != "false" {
			return true
		}
	}
	return false
}

// IsRunningInGitHubActions reports whether the process runs in a GitHub Actions job
func IsRunningInGitHubActions() bool {
	return os.Getenv(EnvGitHubActions) == "true"
}
