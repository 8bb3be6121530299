package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harekrishnarai/pinwalk/pkg/errors"
)

type validationCase struct {
	name      string
	input     string
	wantError bool
	errorType errors.ErrorType
}

func runCases(t *testing.T, fn func(string) error, tests []validationCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fn(tt.input)
			if !tt.wantError {
				if err != nil {
					t.Errorf("unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !errors.IsType(err, tt.errorType) {
				t.Errorf("error type mismatch, want %v, got %v", tt.errorType, err)
			}
		})
	}
}

func TestValidator_ValidateConfig(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, ".pinwalk.yml")
	if err := os.WriteFile(existing, []byte("version: \"1\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	runCases(t, NewValidator().ValidateConfig, []validationCase{
		{name: "empty config path should be valid", input: ""},
		{name: "existing file should be valid", input: existing},
		{name: "non-existent file should be invalid", input: filepath.Join(dir, "missing.yml"), wantError: true, errorType: errors.ErrorTypeConfig},
		{name: "control characters should be invalid", input: "conf\x00.yml", wantError: true, errorType: errors.ErrorTypeConfig},
	})
}

func TestValidator_ValidateRepository(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test-file.txt")
	if err := os.WriteFile(file, []byte("test"), 0644); err != nil {
		t.Fatal(err)
	}

	runCases(t, NewValidator().ValidateRepository, []validationCase{
		{name: "empty path should be valid", input: ""},
		{name: "existing directory should be valid", input: dir},
		{name: "missing directory should be invalid", input: filepath.Join(dir, "nope"), wantError: true, errorType: errors.ErrorTypeRepository},
		{name: "file should be invalid", input: file, wantError: true, errorType: errors.ErrorTypeRepository},
	})
}

func TestValidator_ValidateURL(t *testing.T) {
	runCases(t, NewValidator().ValidateURL, []validationCase{
		{name: "empty URL should be valid", input: ""},
		{name: "GitHub HTTPS URL", input: "https://github.com/octo/app"},
		{name: "GitHub URL with .git", input: "https://github.com/octo/app.git"},
		{name: "shorthand", input: "octo/app"},
		{name: "SSH URL", input: "git@github.com:octo/app.git"},
		{name: "FTP scheme should be invalid", input: "ftp://github.com/octo/app", wantError: true, errorType: errors.ErrorTypeRepository},
		{name: "other host should be invalid", input: "https://gitlab.com/octo/app", wantError: true, errorType: errors.ErrorTypeRepository},
		{name: "localhost should be invalid", input: "http://localhost:8080/octo/app", wantError: true, errorType: errors.ErrorTypeRepository},
		{name: "missing repository should be invalid", input: "https://github.com/octo", wantError: true, errorType: errors.ErrorTypeRepository},
	})
}

func TestValidator_ValidateWorkflowFile(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "ci.yml")
	txt := filepath.Join(dir, "notes.txt")
	for _, p := range []string{yml, txt} {
		if err := os.WriteFile(p, []byte("on: push\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	runCases(t, NewValidator().ValidateWorkflowFile, []validationCase{
		{name: "yml file should be valid", input: yml},
		{name: "missing file should be invalid", input: filepath.Join(dir, "missing.yml"), wantError: true, errorType: errors.ErrorTypeWorkflow},
		{name: "directory should be invalid", input: dir, wantError: true, errorType: errors.ErrorTypeWorkflow},
		{name: "wrong extension should be invalid", input: txt, wantError: true, errorType: errors.ErrorTypeWorkflow},
	})
}

func TestValidator_ValidateOutputFile(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "reports", "out.json")

	runCases(t, NewValidator().ValidateOutputFile, []validationCase{
		{name: "stdout should be valid", input: ""},
		{name: "nested path should be created", input: nested},
		{name: "system directory should be invalid", input: "/etc/pinwalk.json", wantError: true, errorType: errors.ErrorTypeReport},
	})

	if _, err := os.Stat(filepath.Dir(nested)); err != nil {
		t.Errorf("Expected parent directory to be created: %v", err)
	}
}

func TestValidator_ValidateWorkDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	runCases(t, NewValidator().ValidateWorkDir, []validationCase{
		{name: "empty should be valid", input: ""},
		{name: "new directory should be created", input: filepath.Join(dir, "checkouts")},
		{name: "file should be invalid", input: file, wantError: true, errorType: errors.ErrorTypeValidation},
		{name: "proc should be invalid", input: "/proc/pinwalk", wantError: true, errorType: errors.ErrorTypeValidation},
	})
}
