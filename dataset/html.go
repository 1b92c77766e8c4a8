package dataset

import (
	"html/template"
	"io"
	"math"
	"strconv"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

var tableTmpl = template.Must(template.New("frame").Parse(`<table border="1" class="dataframe">
  <thead>
    <tr style="text-align: right;">
      <th></th>
{{- range .Columns}}
      <th>{{.}}</th>
{{- end}}
    </tr>
  </thead>
  <tbody>
{{- range .Rows}}
    <tr>
      <th>{{.Index}}</th>
{{- range .Cells}}
      <td>{{.}}</td>
{{- end}}
    </tr>
{{- end}}
  </tbody>
</table>
`))

type htmlRow struct {
	Index int
	Cells []string
}

// FormatValue renders a cell the way the HTML table and reports show it.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteHTML writes the frame as a pandas-style HTML table with its index.
func (f *Frame) WriteHTML(w io.Writer) error {
	r, c := f.Dims()
	rows := make([]htmlRow, r)
	for i := 0; i < r; i++ {
		cells := make([]string, c)
		for j := 0; j < c; j++ {
			cells[j] = FormatValue(f.Data.At(i, j))
		}
		rows[i] = htmlRow{Index: f.Index[i], Cells: cells}
	}
	err := tableTmpl.Execute(w, struct {
		Columns []string
		Rows    []htmlRow
	}{f.Columns, rows})
	return errors.Wrap(err, "render frame html")
}
