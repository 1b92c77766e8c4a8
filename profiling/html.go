package profiling

import (
	"html/template"
	"io"
	"math"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/YuminosukeSato/mltrack/dataset"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

var funcs = template.FuncMap{
	"num": dataset.FormatValue,
	"pct": func(v float64) string { return dataset.FormatValue(math.Round(v*1000)/10) + "%" },
	"corr": func(r *Report, i, j int) string {
		c := r.Correlations.At(i, j)
		if math.IsNaN(c) {
			return ""
		}
		return dataset.FormatValue(math.Round(c*1000) / 1000)
	},
}

var reportTmpl = template.Must(template.New("report").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: right; }
.variable { margin-bottom: 2em; }
.alert { color: #a94442; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<h2>Overview</h2>
<table>
  <tr><th>Number of variables</th><td>{{.Columns}}</td></tr>
  <tr><th>Number of observations</th><td>{{.Rows}}</td></tr>
  <tr><th>Missing cells</th><td>{{.MissingCells}}</td></tr>
  <tr><th>Generated</th><td>{{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}}</td></tr>
</table>
{{- if .Alerts}}
<h2>Alerts</h2>
<ul>
{{- range .Alerts}}
  <li class="alert" data-kind="{{.Kind}}">{{.Message}}</li>
{{- end}}
</ul>
{{- end}}
<h2>Variables</h2>
{{- range .Variables}}
<div class="variable" id="var-{{.Name}}">
<h3>{{.Name}}</h3>
<table>
  <tr><th>Count</th><td>{{.Count}}</td><th>Mean</th><td>{{num .Mean}}</td></tr>
  <tr><th>Missing</th><td>{{.Missing}} ({{pct .MissingPct}})</td><th>Std</th><td>{{num .Std}}</td></tr>
  <tr><th>Distinct</th><td>{{.Distinct}}</td><th>Min</th><td>{{num .Min}}</td></tr>
  <tr><th>Zeros</th><td>{{.Zeros}}</td><th>25%</th><td>{{num .Q1}}</td></tr>
  <tr><th></th><td></td><th>50%</th><td>{{num .Median}}</td></tr>
  <tr><th></th><td></td><th>75%</th><td>{{num .Q3}}</td></tr>
  <tr><th></th><td></td><th>Max</th><td>{{num .Max}}</td></tr>
</table>
{{- if .Histogram}}
<img alt="histogram of {{.Name}}" src="{{.Histogram}}">
{{- end}}
</div>
{{- end}}
<h2>Correlations</h2>
<table class="correlations">
  <tr><th></th>{{range .Variables}}<th>{{.Name}}</th>{{end}}</tr>
{{- $r := .}}
{{- range $i, $v := .Variables}}
  <tr><th>{{$v.Name}}</th>{{range $j, $w := $r.Variables}}<td>{{corr $r $i $j}}</td>{{end}}</tr>
{{- end}}
</table>
</body>
</html>
`))

// WriteHTML renders the report as a standalone HTML page.
func (r *Report) WriteHTML(w io.Writer) error {
	return errors.Wrap(reportTmpl.Execute(w, r), "render profiling report")
}

// ToFile writes the report to path on fs, creating parent directories.
func (r *Report) ToFile(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	file, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := r.WriteHTML(file); err != nil {
		file.Close()
		return err
	}
	return errors.Wrapf(file.Close(), "close %s", path)
}
