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

package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"
)

const informationURI = "https://github.com/harekrishnarai/pinwalk"

// SARIF rule identifiers
const (
	RuleUnpinnedAction       = "UNPINNED_ACTION"
	RuleUnpinnedDockerImage  = "UNPINNED_DOCKER_IMAGE"
	RuleUnpinnedBaseImage    = "UNPINNED_BASE_IMAGE"
	RuleUnresolvedDependency = "UNRESOLVED_DEPENDENCY"
	RuleDependencyCycle      = "DEPENDENCY_CYCLE"
)

var builtinRules = []struct {
	id          string
	name        string
	description string
}{
	{RuleUnpinnedAction, "Unpinned action", "An action is referenced by a mutable tag or branch instead of a full commit SHA."},
	{RuleUnpinnedDockerImage, "Unpinned Docker image", "A Docker image is referenced without a sha256 digest."},
	{RuleUnpinnedBaseImage, "Unpinned base image", "A Dockerfile used by an action builds FROM an image without a sha256 digest."},
	{RuleUnresolvedDependency, "Unresolved dependency", "A dependency could not be fetched, so its own dependencies are unknown."},
	{RuleDependencyCycle, "Dependency cycle", "Composite actions reference each other in a cycle."},
}

// generateSARIFReport writes a SARIF 2.1.0 log for code scanning upload
func (g *Generator) generateSARIFReport() error {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return fmt.Errorf("failed to create SARIF report: %w", err)
	}

	run := sarif.NewRunWithInformationURI("Pinwalk", informationURI)
	version := g.Document.Version
	run.Tool.Driver.Version = &version

	for _, r := range builtinRules {
		name := r.name
		rule := run.AddRule(r.id).WithDescription(r.description)
		rule.Name = &name
	}

	doc := g.Document
	for _, e := range doc.Entries() {
		n := e.Node
		switch {
		case n.FetchError != "":
			g.addResult(run, RuleUnresolvedDependency, "warning", e.Source,
				fmt.Sprintf("%s could not be resolved (%s): %s", n.Key, n.FetchReason, n.FetchError))
		case n.Unpinned() && n.Kind == "docker":
			g.addResult(run, RuleUnpinnedDockerImage, "warning", e.Source,
				fmt.Sprintf("%s is not pinned to a digest%s", n.Key, via(e)))
		case n.Unpinned():
			g.addResult(run, RuleUnpinnedAction, "warning", e.Source,
				fmt.Sprintf("%s is not pinned to a full commit SHA%s", n.Key, via(e)))
		}
		for _, msg := range n.ImageWarnings {
			g.addResult(run, RuleUnpinnedBaseImage, "warning", e.Source, fmt.Sprintf("%s: %s", n.Key, msg))
		}
	}

	for _, msg := range doc.Warnings {
		if strings.HasPrefix(msg, "cycle detected") {
			g.addResult(run, RuleDependencyCycle, "note", nil, msg)
		}
	}

	if len(doc.PolicyViolations) > 0 {
		sources := make(map[string]*Source)
		for _, e := range doc.Entries() {
			sources[e.Node.Key] = e.Source
		}
		seen := make(map[string]bool)
		for _, v := range doc.PolicyViolations {
			if !seen[v.ID] {
				seen[v.ID] = true
				run.AddRule(v.ID).WithDescription(v.Description)
			}
		}
		for _, v := range doc.PolicyViolations {
			msg := v.Name
			if v.Key != "" {
				msg = fmt.Sprintf("%s: %s", v.Name, v.Key)
			}
			g.addResult(run, v.ID, severityLevel(v.Severity), sources[v.Key], msg)
		}
	}

	report.AddRun(run)

	var buf bytes.Buffer
	if err := report.PrettyWrite(&buf); err != nil {
		return fmt.Errorf("failed to write SARIF: %w", err)
	}
	return g.write("SARIF", buf.Bytes())
}

func (g *Generator) addResult(run *sarif.Run, ruleID, level string, src *Source, msg string) {
	file, line := "", 1
	if src != nil {
		file = src.File
		if src.Line > 0 {
			line = src.Line
		}
	} else if len(g.Document.Files) > 0 {
		file = g.Document.Files[0]
	}

	result := run.CreateResultForRule(ruleID).
		WithLevel(level).
		WithMessage(sarif.NewTextMessage(msg))
	if file != "" {
		result.AddLocation(
			sarif.NewLocationWithPhysicalLocation(
				sarif.NewPhysicalLocation().
					WithArtifactLocation(sarif.NewSimpleArtifactLocation(file)).
					WithRegion(sarif.NewSimpleRegion(line, line)),
			),
		)
	}
}

func via(e Entry) string {
	if e.Parent == "" {
		return ""
	}
	return " (required by " + e.Parent + ")"
}

// severityLevel maps a policy severity to a SARIF level
func severityLevel(severity string) string {
	switch strings.ToUpper(severity) {
	case "CRITICAL", "HIGH":
		return "error"
	case "MEDIUM":
		return "warning"
	default:
		return "note"
	}
}
