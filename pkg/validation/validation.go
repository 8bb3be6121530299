/*
Copyright 2025 Hare Krishna Rai

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


// Package validation checks command line inputs before a scan starts, so
// that mistakes surface as one actionable error instead of a failed fetch.
package validation

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/harekrishnarai/pinwalk/pkg/constants"
	"github.com/harekrishnarai/pinwalk/pkg/errors"
	"github.com/harekrishnarai/pinwalk/pkg/github"
	"github.com/harekrishnarai/pinwalk/pkg/parser"
)

// restrictedDirs are never written to
var restrictedDirs = []string{"/etc", "/sys", "/proc", "/dev", "/usr", "/bin", "/sbin", "/boot"}

// Validator handles input validation for the application
type Validator struct{}

// NewValidator creates a new input validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig checks an explicitly requested configuration file
func (v *Validator) ValidateConfig(configPath string) error {
	if configPath == "" {
		return nil
	}

	if err := v.validatePathCharacters(configPath); err != nil {
		return errors.NewConfigError("Invalid configuration path", err)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return errors.ErrConfigNotFound(configPath)
	}
	return nil
}

// ValidateRepository checks a local checkout passed with --repo
func (v *Validator) ValidateRepository(repoPath string) error {
	if repoPath == "" {
		return nil
	}

	if err := v.validatePathCharacters(repoPath); err != nil {
		return errors.NewRepositoryError("Invalid repository path", err, repoPath)
	}

	stat, err := os.Stat(repoPath)
	switch {
	case os.IsNotExist(err):
		return errors.NewRepositoryError(fmt.Sprintf("Repository directory not found: %s", repoPath), err, repoPath,
			"Ensure the repository directory exists",
			"Check the path spelling and permissions",
		)
	case err != nil:
		return errors.NewRepositoryError(fmt.Sprintf("Cannot access repository directory: %s", repoPath), err, repoPath,
			"Check directory permissions",
		)
	case !stat.IsDir():
		return errors.NewRepositoryError(fmt.Sprintf("Repository path is not a directory: %s", repoPath), nil, repoPath,
			"Provide a directory path, not a file path",
			"Use --workflow for single workflow files",
		)
	}
	return nil
}

// ValidateURL checks a repository URL. Only github.com repositories can be
// cloned; owner/repo shorthand is accepted.
func (v *Validator) ValidateURL(repoURL string) error {
	if repoURL == "" {
		return nil
	}

	if strings.Contains(repoURL, "://") {
		parsed, err := url.Parse(repoURL)
		if err != nil {
			return errors.NewRepositoryError("Invalid repository URL format", err, repoURL,
				"Provide a valid URL (e.g., https://github.com/owner/repo)",
			)
		}
		if parsed.Scheme != "https" && parsed.Scheme != "http" {
			return errors.NewRepositoryError(fmt.Sprintf("Unsupported URL scheme: %s", parsed.Scheme), nil, repoURL,
				"Use https:// URLs or owner/repo shorthand",
			)
		}
		if host := parsed.Hostname(); host != constants.GitHubHost {
			return errors.NewRepositoryError(fmt.Sprintf("Unsupported repository host: %s", host), nil, repoURL,
				"Only github.com repositories can be scanned by URL",
				"Clone the repository yourself and pass --repo",
			)
		}
	}

	if _, _, err := github.ParseRepositoryURL(repoURL); err != nil {
		return errors.NewRepositoryError("Invalid repository URL", err, repoURL,
			"Use https://github.com/owner/repo or owner/repo",
		)
	}
	return nil
}

// ValidateWorkflowFile checks a workflow file passed with --workflow
func (v *Validator) ValidateWorkflowFile(workflowPath string) error {
	if err := v.validatePathCharacters(workflowPath); err != nil {
		return errors.NewWorkflowError("Invalid workflow file path", err, workflowPath)
	}

	stat, err := os.Stat(workflowPath)
	switch {
	case os.IsNotExist(err):
		return errors.NewWorkflowError(fmt.Sprintf("Workflow file not found: %s", workflowPath), err, workflowPath,
			"Ensure the workflow file exists",
		)
	case err != nil:
		return errors.NewWorkflowError(fmt.Sprintf("Cannot access workflow file: %s", workflowPath), err, workflowPath,
			"Check file permissions",
		)
	case stat.IsDir():
		return errors.NewWorkflowError(fmt.Sprintf("Workflow path is a directory, not a file: %s", workflowPath), nil, workflowPath,
			"Use --repo for a repository checkout",
		)
	}

	if !parser.IsWorkflowPath(strings.ToLower(workflowPath)) {
		return errors.NewWorkflowError(fmt.Sprintf("Invalid workflow file extension: %s", workflowPath), nil, workflowPath,
			"Use workflow files with .yml or .yaml extensions",
		)
	}
	return nil
}

// ValidateOutputFile checks that a report can be written to outputPath,
// creating its parent directory when needed
func (v *Validator) ValidateOutputFile(outputPath string) error {
	if outputPath == "" {
		return nil
	}

	if err := v.validateWritable(outputPath); err != nil {
		return errors.NewReportError("Invalid output file path", err, outputPath)
	}
	if err := v.ensureDir(filepath.Dir(outputPath)); err != nil {
		return errors.NewReportError("Cannot use output directory", err, outputPath,
			"Ensure you have write permissions",
		)
	}
	return nil
}

// ValidateWorkDir checks the directory that receives checkouts
func (v *Validator) ValidateWorkDir(workDir string) error {
	if workDir == "" {
		return nil
	}

	if err := v.validateWritable(workDir); err != nil {
		return errors.NewValidationError(fmt.Sprintf("Invalid work directory: %v", err), "work-dir", workDir)
	}
	if err := v.ensureDir(workDir); err != nil {
		return errors.NewValidationError(fmt.Sprintf("Cannot use work directory: %v", err), "work-dir", workDir,
			"Pick a writable directory or omit --work-dir to use the system temp directory",
		)
	}
	return nil
}

func (v *Validator) ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	stat, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	if err != nil {
		return err
	}
	if !stat.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// validateWritable rejects paths inside system directories
func (v *Validator) validateWritable(path string) error {
	if err := v.validatePathCharacters(path); err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	abs = filepath.ToSlash(abs)
	for _, dir := range restrictedDirs {
		if abs == dir || strings.HasPrefix(abs, dir+"/") {
			return fmt.Errorf("path is inside restricted system directory %s", dir)
		}
	}
	return nil
}

// validatePathCharacters rejects NUL and other control characters
func (v *Validator) validatePathCharacters(path string) error {
	if strings.ContainsAny(path, "\x00\x01\x02\x03\x04\x05\x06\x07\x08\x0b\x0c\x0e\x0f") {
		return fmt.Errorf("path contains invalid characters")
	}
	return nil
}
