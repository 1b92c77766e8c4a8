// Package dataset holds the numeric tabular frames passed between the
// training script, the run wrapper and the automl search.
package dataset

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Frame is a named-column numeric table. Index keeps the original row labels
// across Select, Rows and Sample so HTML output matches the source rows.
type Frame struct {
	Columns []string
	Index   []int
	Data    *mat.Dense
}

// NewFrame wraps data with column names and a 0..n-1 index.
func NewFrame(columns []string, data *mat.Dense) (*Frame, error) {
	if data == nil {
		return nil, errors.NewValueError("dataset.NewFrame", "nil data")
	}
	r, c := data.Dims()
	if len(columns) != c {
		return nil, errors.NewDimensionError("dataset.NewFrame", c, len(columns), 1)
	}
	seen := make(map[string]bool, len(columns))
	for _, name := range columns {
		if seen[name] {
			return nil, errors.NewValueError("dataset.NewFrame", fmt.Sprintf("duplicate column %q", name))
		}
		seen[name] = true
	}
	index := make([]int, r)
	for i := range index {
		index[i] = i
	}
	return &Frame{Columns: append([]string(nil), columns...), Index: index, Data: data}, nil
}

// FromVector builds a single-column frame, the equivalent of a named series.
func FromVector(name string, v mat.Vector) *Frame {
	n := v.Len()
	data := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		data.Set(i, 0, v.AtVec(i))
	}
	f, _ := NewFrame([]string{name}, data)
	return f
}

// Dims returns rows and columns.
func (f *Frame) Dims() (int, int) {
	return f.Data.Dims()
}

// ColumnIndex returns the position of name or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column.
func (f *Frame) Column(name string) ([]float64, error) {
	j := f.ColumnIndex(name)
	if j < 0 {
		return nil, errors.NewValueError("dataset.Column", fmt.Sprintf("unknown column %q", name))
	}
	return mat.Col(nil, j, f.Data), nil
}

// Select returns a frame with the named columns in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	if len(names) == 0 {
		return nil, errors.NewValueError("dataset.Select", "no columns selected")
	}
	r, _ := f.Dims()
	data := mat.NewDense(r, len(names), nil)
	for k, name := range names {
		j := f.ColumnIndex(name)
		if j < 0 {
			return nil, errors.NewValueError("dataset.Select", fmt.Sprintf("unknown column %q", name))
		}
		data.SetCol(k, mat.Col(nil, j, f.Data))
	}
	return &Frame{Columns: append([]string(nil), names...), Index: append([]int(nil), f.Index...), Data: data}, nil
}

// Rows returns a frame holding the given row positions, keeping their index labels.
func (f *Frame) Rows(rows []int) *Frame {
	_, c := f.Dims()
	index := make([]int, len(rows))
	var data *mat.Dense
	if len(rows) > 0 {
		data = mat.NewDense(len(rows), c, nil)
		for i, r := range rows {
			data.SetRow(i, f.Data.RawRowView(r))
			index[i] = f.Index[r]
		}
	} else {
		data = &mat.Dense{}
	}
	return &Frame{Columns: append([]string(nil), f.Columns...), Index: index, Data: data}
}

// Sample draws round(frac*n) rows without replacement. The same seed always
// yields the same rows.
func (f *Frame) Sample(frac float64, seed int64) (*Frame, error) {
	if frac <= 0 || frac > 1 || math.IsNaN(frac) {
		return nil, errors.NewValidationError("frac", "must be in (0, 1]", frac)
	}
	n, _ := f.Dims()
	k := int(math.Round(frac * float64(n)))
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return f.Rows(perm[:k]), nil
}

// Vector returns the only column of a single-column frame.
func (f *Frame) Vector() (*mat.VecDense, error) {
	r, c := f.Dims()
	if c != 1 {
		return nil, errors.NewDimensionError("dataset.Vector", 1, c, 1)
	}
	v := mat.NewVecDense(r, nil)
	v.CopyVec(f.Data.ColView(0))
	return v, nil
}
