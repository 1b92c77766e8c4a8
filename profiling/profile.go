// Package profiling builds a lightweight HTML profile of a dataset.Frame:
// per-column summary statistics, histograms, a correlation matrix and
// alerts on suspicious columns.
package profiling

import (
	"bytes"
	"encoding/base64"
	"html/template"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/mltrack/core/parallel"
	"github.com/YuminosukeSato/mltrack/dataset"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
)

// Alert thresholds.
const (
	MissingAlertRatio     = 0.5
	CorrelationAlertLevel = 0.9
	histogramBins         = 20
	parallelColumns       = 8
)

// AlertKind classifies an alert.
type AlertKind string

const (
	AlertConstant        AlertKind = "constant"
	AlertMissing         AlertKind = "missing"
	AlertHighCorrelation AlertKind = "high_correlation"
	AlertZeros           AlertKind = "zeros"
)

// Alert flags a column (or column pair) worth a second look.
type Alert struct {
	Kind    AlertKind
	Column  string
	Other   string
	Value   float64
	Message string
}

// Variable holds the summary of one column.
type Variable struct {
	Name       string
	Count      int
	Missing    int
	MissingPct float64
	Distinct   int
	Zeros      int
	Mean       float64
	Std        float64
	Min        float64
	Q1         float64
	Median     float64
	Q3         float64
	Max        float64

	// Histogram is an SVG data URI, empty when the column has fewer than two
	// distinct values.
	Histogram template.URL
}

// Report is the profile of one frame.
type Report struct {
	Title        string
	GeneratedAt  time.Time
	Rows         int
	Columns      int
	MissingCells int
	Variables    []Variable
	Correlations *mat.SymDense
	Alerts       []Alert
}

// NewReport profiles frame. Column statistics are computed concurrently.
func NewReport(frame *dataset.Frame, title string) (*Report, error) {
	if frame == nil || frame.Data == nil {
		return nil, errors.NewValueError("profiling.NewReport", "nil frame")
	}
	rows, cols := frame.Dims()
	if rows == 0 || cols == 0 {
		return nil, errors.NewModelError("profiling.NewReport", "empty frame", errors.ErrEmptyData)
	}
	logger := log.GetLoggerWithName("profiling")

	report := &Report{
		Title:       title,
		GeneratedAt: time.Now().UTC(),
		Rows:        rows,
		Columns:     cols,
		Variables:   make([]Variable, cols),
	}

	columns := make([][]float64, cols)
	errs := make([]error, cols)
	_ = parallel.ForEach(cols, parallelColumns, func(j int) error {
		columns[j] = mat.Col(nil, j, frame.Data)
		report.Variables[j], errs[j] = describe(frame.Columns[j], columns[j])
		return nil
	})
	for j, err := range errs {
		if err != nil {
			// A broken histogram should not lose the rest of the report.
			logger.Warn("histogram skipped", err, log.ColumnsKey, frame.Columns[j])
		}
	}

	for _, v := range report.Variables {
		report.MissingCells += v.Missing
	}
	report.Correlations = correlations(columns)
	report.Alerts = alerts(report)

	logger.Debug("profile computed",
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		"alerts", len(report.Alerts),
	)
	return report, nil
}

func describe(name string, col []float64) (Variable, error) {
	v := Variable{Name: name}
	present := make([]float64, 0, len(col))
	distinct := make(map[float64]struct{})
	for _, x := range col {
		if math.IsNaN(x) {
			v.Missing++
			continue
		}
		present = append(present, x)
		distinct[x] = struct{}{}
		if x == 0 {
			v.Zeros++
		}
	}
	v.Count = len(present)
	v.Distinct = len(distinct)
	v.MissingPct = float64(v.Missing) / float64(len(col))

	if v.Count == 0 {
		nan := math.NaN()
		v.Mean, v.Std, v.Min, v.Q1, v.Median, v.Q3, v.Max = nan, nan, nan, nan, nan, nan, nan
		return v, nil
	}

	sorted := append([]float64(nil), present...)
	sort.Float64s(sorted)
	v.Mean, v.Std = stat.MeanStdDev(sorted, nil)
	if v.Count == 1 {
		v.Std = 0
	}
	v.Min, v.Max = sorted[0], sorted[len(sorted)-1]
	v.Q1 = stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	v.Median = stat.Quantile(0.5, stat.LinInterp, sorted, nil)
	v.Q3 = stat.Quantile(0.75, stat.LinInterp, sorted, nil)

	if v.Distinct < 2 {
		return v, nil
	}
	uri, err := histogram(name, present)
	if err != nil {
		return v, err
	}
	v.Histogram = uri
	return v, nil
}

func histogram(name string, values []float64) (template.URL, error) {
	p := plot.New()
	p.Title.Text = name
	p.Y.Label.Text = "count"

	h, err := plotter.NewHist(plotter.Values(values), histogramBins)
	if err != nil {
		return "", errors.Wrapf(err, "histogram %s", name)
	}
	p.Add(h)

	w, err := p.WriterTo(4*vg.Inch, 2.5*vg.Inch, "svg")
	if err != nil {
		return "", errors.Wrapf(err, "render histogram %s", name)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return "", errors.Wrapf(err, "write histogram %s", name)
	}
	return template.URL("data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())), nil
}

// correlations computes pairwise Pearson coefficients over rows where both
// columns are present. Pairs with fewer than three shared rows are NaN.
func correlations(columns [][]float64) *mat.SymDense {
	n := len(columns)
	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if i == j {
				corr.SetSym(i, i, 1)
				continue
			}
			corr.SetSym(i, j, pearson(columns[i], columns[j]))
		}
	}
	return corr
}

func pearson(a, b []float64) float64 {
	x := make([]float64, 0, len(a))
	y := make([]float64, 0, len(b))
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		x = append(x, a[i])
		y = append(y, b[i])
	}
	if len(x) < 3 {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

func alerts(r *Report) []Alert {
	var out []Alert
	for _, v := range r.Variables {
		if v.Count > 0 && v.Distinct == 1 {
			out = append(out, Alert{Kind: AlertConstant, Column: v.Name, Value: v.Min,
				Message: v.Name + " has a constant value"})
		}
		if v.MissingPct > MissingAlertRatio {
			out = append(out, Alert{Kind: AlertMissing, Column: v.Name, Value: v.MissingPct,
				Message: v.Name + " has a high share of missing values"})
		}
		if v.Count > 0 && float64(v.Zeros)/float64(v.Count) > MissingAlertRatio {
			out = append(out, Alert{Kind: AlertZeros, Column: v.Name, Value: float64(v.Zeros) / float64(v.Count),
				Message: v.Name + " is mostly zeros"})
		}
	}
	n := len(r.Variables)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := r.Correlations.At(i, j)
			if !math.IsNaN(c) && math.Abs(c) > CorrelationAlertLevel {
				out = append(out, Alert{Kind: AlertHighCorrelation, Column: r.Variables[i].Name,
					Other: r.Variables[j].Name, Value: c,
					Message: r.Variables[i].Name + " is highly correlated with " + r.Variables[j].Name})
			}
		}
	}
	return out
}

// AlertsOf returns the alerts of the given kind.
func (r *Report) AlertsOf(kind AlertKind) []Alert {
	var out []Alert
	for _, a := range r.Alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Variable returns the summary of the named column.
func (r *Report) Variable(name string) (Variable, bool) {
	for _, v := range r.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}
