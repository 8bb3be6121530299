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

// Package policy evaluates Rego policies against the dependency graph
// document. Policies live in package pinwalk and produce violations through
// a deny set.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/harekrishnarai/pinwalk/pkg/constants"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Violation is one deny result of a policy
type Violation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity"`
	// Key is the identity key of the offending dependency, if any
	Key         string `json:"key,omitempty"`
	Evidence    string `json:"evidence,omitempty"`
	Remediation string `json:"remediation,omitempty"`
	Policy      string `json:"policy"`
}

// Engine evaluates a set of policy files
type Engine struct {
	policyFiles []string
	Logger      logr.Logger
}

// NewEngine creates a new policy engine
func NewEngine(policyFiles []string, logger logr.Logger) *Engine {
	return &Engine{
		policyFiles: policyFiles,
		Logger:      logger,
	}
}

// Evaluate runs every policy against input and returns the violations
// ordered by policy, ID and key. Duplicate violations are reported once.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) ([]Violation, error) {
	if len(e.policyFiles) == 0 {
		return nil, nil
	}

	data, err := Input(input)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy input: %w", err)
	}

	var violations []Violation
	seen := make(map[string]bool)
	for _, policyFile := range e.policyFiles {
		fileViolations, err := e.evaluatePolicyFile(ctx, policyFile, data)
		if err != nil {
			return nil, fmt.Errorf("policy evaluation error for %s: %w", policyFile, err)
		}
		for _, v := range fileViolations {
			id := v.Policy + "\x00" + v.ID + "\x00" + v.Key + "\x00" + v.Evidence
			if seen[id] {
				continue
			}
			seen[id] = true
			violations = append(violations, v)
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.Policy != b.Policy {
			return a.Policy < b.Policy
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Key < b.Key
	})
	return violations, nil
}

func (e *Engine) evaluatePolicyFile(ctx context.Context, policyFile string, input map[string]interface{}) ([]Violation, error) {
	policyContent, err := os.ReadFile(policyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	policyName := filepath.Base(policyFile)
	r := rego.New(
		rego.Query(constants.PolicyQuery),
		rego.Module(policyName, string(policyContent)),
		rego.Input(input),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}

	rs, err := query.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	e.Logger.V(1).Info("evaluated policy", "policy", policyName, "results", len(rs))

	var violations []Violation
	for _, result := range rs {
		x, ok := result.Bindings["x"]
		if !ok {
			continue
		}
		violations = append(violations, convertViolation(x, policyName))
	}
	return violations, nil
}

// Input converts v into the plain JSON shape policies see, honoring json tags
func Input(v interface{}) (map[string]interface{}, error) {
	if m, ok := v.(map[string]interface{}); ok {
		return m, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func convertViolation(raw interface{}, policyName string) Violation {
	v := Violation{
		ID:       "POLICY_VIOLATION",
		Name:     "Custom Policy Violation",
		Severity: "MEDIUM",
		Policy:   policyName,
	}

	violation, ok := raw.(map[string]interface{})
	if !ok {
		v.Evidence = fmt.Sprintf("%v", raw)
		return v
	}

	if id, _ := violation["id"].(string); id != "" {
		v.ID = id
	}
	if name, _ := violation["name"].(string); name != "" {
		v.Name = name
	}
	if severity, _ := violation["severity"].(string); severity != "" {
		v.Severity = strings.ToUpper(severity)
	}
	v.Description, _ = violation["description"].(string)
	v.Key, _ = violation["key"].(string)
	v.Evidence, _ = violation["evidence"].(string)
	v.Remediation, _ = violation["remediation"].(string)
	return v
}

// LoadPolicyFiles loads policy files from a directory or file
func LoadPolicyFiles(policyPath string) ([]string, error) {
	var policyFiles []string

	fileInfo, err := os.Stat(policyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access policy path: %w", err)
	}

	if fileInfo.IsDir() {
		err = filepath.Walk(policyPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(path) == ".rego" && !strings.HasSuffix(path, "_test.rego") {
				policyFiles = append(policyFiles, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk policy directory: %w", err)
		}
	} else {
		if filepath.Ext(policyPath) != ".rego" {
			return nil, fmt.Errorf("policy file must have .rego extension")
		}
		policyFiles = append(policyFiles, policyPath)
	}

	if len(policyFiles) == 0 {
		return nil, fmt.Errorf("no policy files found at %s", policyPath)
	}

	return policyFiles, nil
}

// ExamplePolicy flags unpinned, unresolved and cyclic dependencies anywhere
// in the graph
const ExamplePolicy = `package pinwalk

# Actions anywhere in the graph that are not pinned to a full commit SHA
deny contains violation if {
	walk(input.root, [_, node])
	is_object(node)
	node.kind == "action"
	not node.pinned
	not node.trusted

	violation := {
		"id": "POLICY_UNPINNED_ACTION",
		"name": "Action Not Pinned to SHA",
		"description": "A direct or transitive action reference uses a mutable ref",
		"severity": "HIGH",
		"key": node.key,
		"evidence": sprintf("uses: %s", [node.key]),
		"remediation": "Pin the action to the full commit SHA it currently resolves to",
	}
}

# Container images pulled without a content digest
deny contains violation if {
	walk(input.root, [_, node])
	is_object(node)
	node.kind == "docker"
	not node.pinned
	not node.trusted

	violation := {
		"id": "POLICY_UNPINNED_IMAGE",
		"name": "Image Not Pinned by Digest",
		"description": "A container image is referenced by tag only",
		"severity": "MEDIUM",
		"key": node.key,
		"evidence": node.key,
		"remediation": "Reference the image as name@sha256:<digest>",
	}
}

# Dependencies that could not be fetched cannot be audited
deny contains violation if {
	walk(input.root, [_, node])
	is_object(node)
	node.fetchError

	violation := {
		"id": "POLICY_UNRESOLVED_DEPENDENCY",
		"name": "Dependency Could Not Be Resolved",
		"severity": "LOW",
		"key": node.key,
		"evidence": node.fetchError,
		"remediation": "Check that the repository and ref exist and are accessible",
	}
}

deny contains violation if {
	input.cycleDetected

	violation := {
		"id": "POLICY_DEPENDENCY_CYCLE",
		"name": "Dependency Cycle",
		"severity": "LOW",
		"evidence": concat("; ", [w | some w in input.warnings; startswith(w, "cycle detected")]),
		"remediation": "Break the cycle between the composite actions",
	}
}
`

// CreateExamplePolicy creates an example policy file
func CreateExamplePolicy(filePath string) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(filePath, []byte(ExamplePolicy), 0644); err != nil {
		return fmt.Errorf("failed to write example policy file: %w", err)
	}

	return nil
}
