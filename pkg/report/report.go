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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harekrishnarai/pinwalk/pkg/constants"
	"github.com/harekrishnarai/pinwalk/pkg/terminal"
)

// Generator creates a formatted report from a scan document
type Generator struct {
	Document *Document
	Format   string
	Verbose  bool
	FilePath string
	// ShowTree prints the dependency tree in the cli format
	ShowTree bool
	// Writer receives the report when FilePath is empty
	Writer io.Writer
	term   *terminal.Terminal
}

// NewGenerator creates a new report generator
func NewGenerator(doc *Document, format string, verbose bool, filePath string) *Generator {
	term := terminal.Default()
	return &Generator{
		Document: doc,
		Format:   format,
		Verbose:  verbose,
		FilePath: filePath,
		ShowTree: true,
		Writer:   term.Out(),
		term:     term,
	}
}

// Generate creates and outputs the report in the specified format
func (g *Generator) Generate() error {
	switch strings.ToLower(g.Format) {
	case constants.OutputFormatCLI:
		return g.generateCLIReport()
	case constants.OutputFormatJSON:
		return g.generateJSONReport()
	case constants.OutputFormatHTML:
		return g.generateHTMLReport()
	case constants.OutputFormatSARIF:
		return g.generateSARIFReport()
	default:
		return fmt.Errorf("unsupported report format: %s", g.Format)
	}
}

// generateJSONReport writes the document as indented JSON
func (g *Generator) generateJSONReport() error {
	data, err := json.MarshalIndent(g.Document, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return g.write("JSON", append(data, '\n'))
}

// write sends a rendered report to FilePath or the writer
func (g *Generator) write(kind string, data []byte) error {
	if g.FilePath != "" {
		if err := os.WriteFile(g.FilePath, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s report to file: %w", kind, err)
		}
		fmt.Fprintf(g.term.Err(), "%s report written to %s\n", kind, g.FilePath)
		return nil
	}
	if _, err := g.Writer.Write(data); err != nil {
		return fmt.Errorf("failed to write %s report: %w", kind, err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 && !strings.Contains(id, ":") {
		return id[:12]
	}
	if strings.HasPrefix(id, "sha256:") && len(id) > 19 {
		return id[:19]
	}
	return id
}
