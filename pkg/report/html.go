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
	"html/template"
	"time"
)

// htmlRow is one top-level dependency with its transitive closure
type htmlRow struct {
	Node          *NodeView
	Source        *Source
	Dependencies  []*NodeView
	ImageWarnings []string
	Unpinned      int
}

// Important rows carry something the reader has to act on
func (r htmlRow) Important() bool {
	return r.Unpinned > 0 || len(r.ImageWarnings) > 0 || r.Node.FetchError != ""
}

type htmlData struct {
	Doc       *Document
	Important []htmlRow
	Other     []htmlRow
	Generated string
}

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"short":    shortID,
	"duration": func(d time.Duration) string { return d.Round(time.Millisecond).String() },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>pinwalk report: {{.Doc.Repository}}</title>
<style>
body { background: #8ECAE6; font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; margin: 0; color: #023047; }
header { background: #023047; color: #fff; padding: 16px 32px; }
header h1 { margin: 0; font-size: 1.6em; }
main { padding: 16px 32px; }
section { background: #fff; border-radius: 6px; padding: 12px 20px; margin-bottom: 16px; }
h2 { color: #219EBC; margin-top: 4px; }
table { border-collapse: collapse; width: 100%; }
th { background: #219EBC; color: #fff; text-align: left; padding: 6px 8px; }
td { border-bottom: 1px solid #ddd; padding: 6px 8px; vertical-align: top; }
ul { margin: 0; padding-left: 18px; }
.pinned { color: #2a7a2a; }
.unpinned { color: #c0392b; font-weight: bold; }
.trusted { color: #219EBC; }
.warn { color: #b06d00; }
.muted { color: #777; font-size: 0.9em; }
details summary { cursor: pointer; color: #219EBC; font-weight: bold; }
</style>
</head>
<body>
<header>
<h1>pinwalk dependency report</h1>
<div>{{.Doc.Repository}} &middot; scanned {{.Generated}} in {{duration .Doc.Duration}} &middot; scan {{.Doc.ScanID}}</div>
</header>
<main>
{{if .Doc.Cancelled}}<section class="unpinned">The scan was cancelled. The results below are partial.</section>{{end}}
<section>
<h2>Summary</h2>
<table>
<tr><th>Workflow files</th><th>Dependencies</th><th>Repositories</th><th>Pinned</th><th>Unpinned</th><th>Trusted</th><th>Unresolved</th><th>Image warnings</th><th>Policy violations</th></tr>
<tr><td>{{.Doc.Summary.RootFiles}}</td><td>{{.Doc.Summary.Dependencies}}</td><td>{{.Doc.Summary.Repositories}}</td><td class="pinned">{{.Doc.Summary.Pinned}}</td><td class="unpinned">{{.Doc.Summary.Unpinned}}</td><td class="trusted">{{.Doc.Summary.Trusted}}</td><td>{{.Doc.Summary.Unresolved}}</td><td class="warn">{{.Doc.Summary.ImageWarnings}}</td><td>{{.Doc.Summary.PolicyViolations}}</td></tr>
</table>
</section>
{{define "rows"}}
<table>
<tr><th>Action</th><th>Dependencies</th><th>Docker Warnings</th></tr>
{{range .}}
<tr>
<td>
<div>{{template "status" .Node}} {{.Node.Key}}</div>
{{with .Source}}<div class="muted">{{.File}}:{{.Line}} {{.Location}}</div>{{end}}
{{with .Node.ResolvedCommitOrDigest}}<div class="muted">{{short .}}</div>{{end}}
</td>
<td>{{if .Dependencies}}<ul>{{range .Dependencies}}<li>{{template "status" .}} {{.Key}} <span class="muted">[{{.ActionType}}]</span></li>{{end}}</ul>{{else}}<span class="muted">none</span>{{end}}</td>
<td>{{if .ImageWarnings}}<ul>{{range .ImageWarnings}}<li class="warn">{{.}}</li>{{end}}</ul>{{end}}</td>
</tr>
{{end}}
</table>
{{end}}
{{define "status"}}{{if .Trusted}}<span class="trusted">&#9679; trusted</span>{{else if .Pinned}}<span class="pinned">&#10003;</span>{{else}}<span class="unpinned">&#10007;</span>{{end}}{{if .Cycle}} <span class="warn">cycle</span>{{end}}{{if .DepthExceeded}} <span class="warn">depth limit</span>{{end}}{{with .FetchReason}} <span class="unpinned">{{.}}</span>{{end}}{{end}}
<section>
<h2>Dependencies needing attention</h2>
{{if .Important}}{{template "rows" .Important}}{{else}}<p class="pinned">All dependencies are pinned.</p>{{end}}
</section>
{{if .Other}}
<section>
<details>
<summary>Pinned dependencies ({{len .Other}})</summary>
{{template "rows" .Other}}
</details>
</section>
{{end}}
{{if .Doc.PolicyViolations}}
<section>
<h2>Policy violations</h2>
<table>
<tr><th>Severity</th><th>Rule</th><th>Dependency</th><th>Remediation</th></tr>
{{range .Doc.PolicyViolations}}<tr><td class="unpinned">{{.Severity}}</td><td>{{.Name}} <span class="muted">{{.ID}}</span></td><td>{{.Key}}</td><td>{{.Remediation}}</td></tr>
{{end}}
</table>
</section>
{{end}}
{{if .Doc.Warnings}}
<section>
<h2>Warnings</h2>
<ul>{{range .Doc.Warnings}}<li class="warn">{{.}}</li>{{end}}</ul>
</section>
{{end}}
</main>
</body>
</html>
`))

// generateHTMLReport renders a standalone HTML page
func (g *Generator) generateHTMLReport() error {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, g.htmlData()); err != nil {
		return fmt.Errorf("failed to render HTML report: %w", err)
	}
	return g.write("HTML", buf.Bytes())
}

func (g *Generator) htmlData() htmlData {
	data := htmlData{
		Doc:       g.Document,
		Generated: g.Document.ScanTime.Format(time.RFC1123),
	}
	for _, top := range g.Document.Root {
		row := htmlRow{Node: top, Source: top.Source}
		if top.Unpinned() {
			row.Unpinned++
		}
		row.ImageWarnings = append(row.ImageWarnings, top.ImageWarnings...)
		for _, d := range g.Document.closure(top) {
			row.Dependencies = append(row.Dependencies, d)
			row.ImageWarnings = append(row.ImageWarnings, d.ImageWarnings...)
			if d.Unpinned() {
				row.Unpinned++
			}
		}
		if row.Important() {
			data.Important = append(data.Important, row)
		} else {
			data.Other = append(data.Other, row)
		}
	}
	return data
}

// closure lists the distinct dependencies below v in depth-first order,
// following shared views to where their children are listed
func (d *Document) closure(v *NodeView) []*NodeView {
	var out []*NodeView
	seen := map[string]bool{v.Key: true}
	v = d.Expanded(v)
	stack := make([]*NodeView, 0, len(v.Children))
	for i := len(v.Children) - 1; i >= 0; i-- {
		stack = append(stack, v.Children[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n.Key] {
			continue
		}
		seen[n.Key] = true
		n = d.Expanded(n)
		out = append(out, n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return out
}
