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

package reference

import (
	"fmt"
	"strings"

	"github.com/harekrishnarai/pinwalk/pkg/parser"
)

// Entry is one extracted dependency. Exactly one of Reference and Err is meaningful.
type Entry struct {
	Reference Reference
	Err       error
	// Location is a YAML path such as jobs.build.steps[2]
	Location string
	Line     int
}

// Failed reports whether the entry could not be decoded
func (e Entry) Failed() bool {
	return e.Err != nil
}

type collector struct {
	entries []Entry
}

func (c *collector) uses(raw string, origin Origin, location string, line int) {
	ref, err := ParseUses(raw)
	if err != nil {
		c.entries = append(c.entries, Entry{Err: err, Location: location, Line: line})
		return
	}
	// same-repository actions are part of the caller's own tree
	if ref.Kind == KindLocal {
		return
	}
	ref.Origin = origin
	c.entries = append(c.entries, Entry{Reference: ref, Location: location, Line: line})
}

func (c *collector) image(raw string, origin Origin, location string, line int) {
	// docker:// is accepted in image fields too
	ref, err := parseImage(strings.TrimPrefix(strings.TrimSpace(raw), dockerScheme), raw)
	if err != nil {
		c.entries = append(c.entries, Entry{Err: err, Location: location, Line: line})
		return
	}
	ref.Origin = origin
	c.entries = append(c.entries, Entry{Reference: ref, Location: location, Line: line})
}

// FromWorkflow extracts dependencies of a workflow in source order. Per job:
// reusable workflow call, container image, service images by name, then steps.
func FromWorkflow(wf parser.WorkflowFile) []Entry {
	c := &collector{}
	for _, jobID := range wf.Workflow.OrderedJobIDs() {
		job := wf.Workflow.Jobs[jobID]
		base := "jobs." + jobID

		if job.Uses != "" {
			c.uses(job.Uses, OriginJob, base, job.UsesLine)
		}
		if image := parser.ContainerImage(job.Container); image != "" {
			c.image(image, OriginContainer, base+".container", job.ContainerImageLine)
		}
		for _, name := range job.ServiceNames() {
			if image := parser.ContainerImage(job.Services[name]); image != "" {
				c.image(image, OriginService, base+".services."+name, job.ServiceImageLines[name])
			}
		}
		for i, step := range job.Steps {
			if step.Uses != "" {
				c.uses(step.Uses, OriginStep, fmt.Sprintf("%s.steps[%d]", base, i), step.UsesLine)
			}
		}
	}
	return c.entries
}

// FromAction extracts the dependencies of a composite action: step uses in
// order, with images started from run scripts after the step that runs them.
// Non-composite actions yield nothing.
func FromAction(def parser.ActionDefinition) []Entry {
	if !IsComposite(def) {
		return nil
	}

	c := &collector{}
	for i, step := range def.Runs.Steps {
		location := fmt.Sprintf("runs.steps[%d]", i)
		if step.Uses != "" {
			c.uses(step.Uses, OriginStep, location, step.UsesLine)
		}
		if step.Run == "" || !isPOSIXShell(step.Shell) {
			continue
		}

		images, err := DockerImagesInScript(step.Run)
		if err != nil {
			c.entries = append(c.entries, Entry{
				Err:      &ParseError{Raw: firstLine(step.Run), Reason: "run script could not be parsed: " + err.Error()},
				Location: location + ".run",
				Line:     step.RunLine,
			})
			continue
		}
		for _, img := range images {
			line := 0
			if step.RunLine > 0 {
				line = step.RunLine + img.Line - 1
			}
			c.image(img.Image, OriginRun, location+".run", line)
		}
	}
	return c.entries
}

// IsComposite reports whether the action runs as a composite of steps
func IsComposite(def parser.ActionDefinition) bool {
	return strings.EqualFold(def.Runs.Using, "composite")
}

// IsDocker reports whether the action runs in a container
func IsDocker(def parser.ActionDefinition) bool {
	return strings.EqualFold(def.Runs.Using, "docker")
}

func isPOSIXShell(shell string) bool {
	fields := strings.Fields(shell)
	if len(fields) == 0 {
		return true
	}
	switch fields[0] {
	case "bash", "sh":
		return true
	}
	return false
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
