package reporting

import (
	"html/template"
	"io"

	"github.com/dustin/go-humanize"
)

const html_template = `<!DOCTYPE html>
<html>
<head>
<title>Velociraptor deployment build report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
th { background: #eee; }
.Failed { color: #a00; }
.Downloaded { color: #070; }
.warning { color: #a60; }
</style>
</head>
<body>
<h1>Velociraptor deployment build report</h1>
<p>Generated by velopack {{.GeneratorVersion}}.</p>

<h2>Totals</h2>
<table>
<tr><th>Artifacts</th><td>{{.ArtifactCount}}</td></tr>
<tr><th>Unique tools</th><td>{{.UniqueToolCount}}</td></tr>
{{range $status, $count := statuses .}}
<tr><th>Tools {{$status}}</th><td>{{$count}}</td></tr>
{{end}}
</table>

<h2>Tools</h2>
<table>
<tr><th>Name</th><th>Version</th><th>Status</th><th>Size</th>
<th>Used by</th><th>Hash</th></tr>
{{range .Tools}}
<tr><td>{{.Name}}</td><td>{{.Version}}</td>
<td class="{{.Status}}">{{.Status}}</td>
<td>{{size .Size}}</td><td>{{.UsedBy}}</td><td>{{.Hash}}</td></tr>
{{end}}
</table>

<h2>Packages</h2>
<table>
<tr><th>Kind</th><th>Path</th><th>Artifacts</th><th>Bundled tools</th></tr>
{{range .Packages}}
<tr><td>{{.Kind}}</td><td>{{.Path}}</td>
<td>{{.ArtifactCount}}</td><td>{{len .Tools}}</td></tr>
{{end}}
</table>

{{if .Warnings}}
<h2>Warnings</h2>
<ul>
{{range .Warnings}}<li class="warning">{{.}}</li>
{{end}}
</ul>
{{end}}
</body>
</html>
`

func (self *BuildReport) WriteHTML(w io.Writer) error {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"size": func(size int64) string {
			if size == 0 {
				return ""
			}
			return humanize.Bytes(uint64(size))
		},
		"statuses": func(report *BuildReport) map[string]interface{} {
			result := make(map[string]interface{})
			for _, status := range report.ToolsByStatus.Keys() {
				value, _ := report.ToolsByStatus.Get(status)
				result[status] = value
			}
			return result
		},
	}).Parse(html_template)
	if err != nil {
		return err
	}

	return tmpl.Execute(w, self)
}
