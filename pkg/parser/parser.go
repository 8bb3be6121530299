package parser

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harekrishnarai/pinwalk/pkg/constants"
	"gopkg.in/yaml.v3"
)

// WorkflowFile represents a GitHub Actions workflow file
type WorkflowFile struct {
	Path     string
	Name     string
	Content  []byte
	Workflow Workflow
	// ParseError is set when the file could not be decoded; Workflow is then empty
	ParseError error
}

// Workflow represents the parsed structure of a GitHub Actions workflow file
type Workflow struct {
	Name        string                 `yaml:"name"`
	On          interface{}            `yaml:"on"`
	Env         map[string]string      `yaml:"env,omitempty"`
	Jobs        map[string]Job         `yaml:"jobs"`
	Permissions interface{}            `yaml:"permissions,omitempty"`
	Defaults    map[string]interface{} `yaml:"defaults,omitempty"`

	// JobOrder lists job IDs in the order they appear in the file
	JobOrder []string `yaml:"-"`
}

// Job represents a job in a GitHub Actions workflow
type Job struct {
	Name            string                 `yaml:"name,omitempty"`
	RunsOn          interface{}            `yaml:"runs-on"`
	Needs           interface{}            `yaml:"needs,omitempty"`
	If              string                 `yaml:"if,omitempty"`
	Uses            string                 `yaml:"uses,omitempty"`
	With            map[string]interface{} `yaml:"with,omitempty"`
	Steps           []Step                 `yaml:"steps"`
	Env             map[string]string      `yaml:"env,omitempty"`
	ContinueOnError bool                   `yaml:"continue-on-error,omitempty"`
	Container       interface{}            `yaml:"container,omitempty"`
	Services        map[string]interface{} `yaml:"services,omitempty"`
	Strategy        map[string]interface{} `yaml:"strategy,omitempty"`

	// Source positions (1-based, 0 when unknown)
	Line               int            `yaml:"-"`
	UsesLine           int            `yaml:"-"`
	ContainerImageLine int            `yaml:"-"`
	ServiceImageLines  map[string]int `yaml:"-"`
}

// Step represents a step in a GitHub Actions job or composite action
type Step struct {
	Name             string                 `yaml:"name,omitempty"`
	ID               string                 `yaml:"id,omitempty"`
	If               string                 `yaml:"if,omitempty"`
	Uses             string                 `yaml:"uses,omitempty"`
	Run              string                 `yaml:"run,omitempty"`
	Shell            string                 `yaml:"shell,omitempty"`
	With             map[string]interface{} `yaml:"with,omitempty"`
	Env              map[string]string      `yaml:"env,omitempty"`
	ContinueOnError  bool                   `yaml:"continue-on-error,omitempty"`
	WorkingDirectory string                 `yaml:"working-directory,omitempty"`

	UsesLine int `yaml:"-"`
	// RunLine is the line of the first script line of Run
	RunLine int `yaml:"-"`
}

// ActionDefinition is the subset of action.yml the dependency walk needs
type ActionDefinition struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Runs        ActionRuns `yaml:"runs"`
}

// ActionRuns describes how an action executes
type ActionRuns struct {
	Using string `yaml:"using"`
	Main  string `yaml:"main,omitempty"`
	Image string `yaml:"image,omitempty"`
	Steps []Step `yaml:"steps,omitempty"`

	ImageLine int `yaml:"-"`
}

// UnmarshalYAML records job order while decoding the workflow
func (w *Workflow) UnmarshalYAML(value *yaml.Node) error {
	type plain Workflow
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*w = Workflow(p)

	if jobs := mappingValue(value, "jobs"); jobs != nil && jobs.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(jobs.Content); i += 2 {
			w.JobOrder = append(w.JobOrder, jobs.Content[i].Value)
		}
	}
	return nil
}

// UnmarshalYAML records source lines of uses, container and service images
func (j *Job) UnmarshalYAML(value *yaml.Node) error {
	type plain Job
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*j = Job(p)
	j.Line = value.Line

	if n := mappingValue(value, "uses"); n != nil {
		j.UsesLine = n.Line
	}
	if n := mappingValue(value, "container"); n != nil {
		j.ContainerImageLine = imageLine(n)
	}
	if services := mappingValue(value, "services"); services != nil && services.Kind == yaml.MappingNode {
		j.ServiceImageLines = make(map[string]int)
		for i := 0; i+1 < len(services.Content); i += 2 {
			j.ServiceImageLines[services.Content[i].Value] = imageLine(services.Content[i+1])
		}
	}
	return nil
}

// UnmarshalYAML records source lines of uses and run
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type plain Step
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = Step(p)

	if n := mappingValue(value, "uses"); n != nil {
		s.UsesLine = n.Line
	}
	if n := mappingValue(value, "run"); n != nil {
		s.RunLine = n.Line
		// block scalars start on the line after the indicator
		if n.Style&(yaml.LiteralStyle|yaml.FoldedStyle) != 0 {
			s.RunLine++
		}
	}
	return nil
}

// UnmarshalYAML records the source line of runs.image
func (r *ActionRuns) UnmarshalYAML(value *yaml.Node) error {
	type plain ActionRuns
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = ActionRuns(p)
	if n := mappingValue(value, "image"); n != nil {
		r.ImageLine = n.Line
	}
	return nil
}

// ContainerImage returns the image of a job container given as a string or as a mapping
func ContainerImage(container interface{}) string {
	switch c := container.(type) {
	case string:
		return c
	case map[string]interface{}:
		if image, ok := c["image"].(string); ok {
			return image
		}
	}
	return ""
}

// ServiceNames returns the job's service names in sorted order
func (j Job) ServiceNames() []string {
	names := make([]string, 0, len(j.Services))
	for name := range j.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OrderedJobIDs returns job IDs in file order, falling back to sorted order
// for workflows that were built without decoding
func (w Workflow) OrderedJobIDs() []string {
	if len(w.JobOrder) == len(w.Jobs) {
		return w.JobOrder
	}
	ids := make([]string, 0, len(w.Jobs))
	for id := range w.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func imageLine(node *yaml.Node) int {
	if node.Kind == yaml.ScalarNode {
		return node.Line
	}
	if n := mappingValue(node, "image"); n != nil {
		return n.Line
	}
	return node.Line
}

// ParseWorkflow decodes workflow content. Decode failures are recorded on the
// returned file rather than returned, so one bad file never hides the others.
func ParseWorkflow(filePath string, content []byte) WorkflowFile {
	wf := WorkflowFile{
		Path:    filePath,
		Name:    path.Base(filepath.ToSlash(filePath)),
		Content: content,
	}
	if err := yaml.Unmarshal(content, &wf.Workflow); err != nil {
		wf.ParseError = fmt.Errorf("failed to parse workflow file %s: %w", filePath, err)
		wf.Workflow = Workflow{}
	}
	return wf
}

// ParseActionDefinition decodes an action.yml document
func ParseActionDefinition(content []byte) (*ActionDefinition, error) {
	var def ActionDefinition
	if err := yaml.Unmarshal(content, &def); err != nil {
		return nil, fmt.Errorf("failed to parse action definition: %w", err)
	}
	return &def, nil
}

// FindActionFile looks for action.yml or action.yaml in dir of fsys and
// returns the matching path and its content. It returns fs.ErrNotExist when
// neither exists.
func FindActionFile(fsys fs.FS, dir string) (string, []byte, error) {
	if dir == "" {
		dir = "."
	}
	for _, name := range constants.ActionFileNames {
		p := path.Join(dir, name)
		content, err := fs.ReadFile(fsys, p)
		if err == nil {
			return p, content, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
	}
	return "", nil, fmt.Errorf("no action definition in %q: %w", dir, fs.ErrNotExist)
}

// FindDockerfile returns the content of the Dockerfile an action's runs.image points at
func FindDockerfile(fsys fs.FS, dir, image string) ([]byte, error) {
	if dir == "" {
		dir = "."
	}
	return fs.ReadFile(fsys, path.Clean(path.Join(dir, image)))
}

// IsWorkflowPath reports whether p names a YAML file
func IsWorkflowPath(p string) bool {
	return strings.HasSuffix(p, ".yml") || strings.HasSuffix(p, ".yaml")
}

// FindWorkflows searches for GitHub Actions workflow files in a repository.
// A missing workflows directory yields an empty result.
func FindWorkflows(repoPath string) ([]WorkflowFile, error) {
	workflowsDir := filepath.Join(repoPath, constants.GitHubWorkflowsPath)

	if _, err := os.Stat(workflowsDir); os.IsNotExist(err) {
		return nil, nil
	}

	var workflows []WorkflowFile
	err := filepath.WalkDir(workflowsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsWorkflowPath(d.Name()) {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read workflow file %s: %w", p, err)
		}

		rel, relErr := filepath.Rel(repoPath, p)
		if relErr != nil {
			rel = p
		}
		workflows = append(workflows, ParseWorkflow(filepath.ToSlash(rel), content))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error searching for workflow files: %w", err)
	}

	return workflows, nil
}

// LoadSingleWorkflow loads and parses a single workflow file
func LoadSingleWorkflow(filePath string) (WorkflowFile, error) {
	if !IsWorkflowPath(filePath) {
		return WorkflowFile{}, fmt.Errorf("file %s does not have a YAML extension (.yml or .yaml)", filePath)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return WorkflowFile{}, fmt.Errorf("workflow file not found: %s", filePath)
		}
		return WorkflowFile{}, fmt.Errorf("failed to read workflow file %s: %w", filePath, err)
	}

	return ParseWorkflow(filePath, content), nil
}
