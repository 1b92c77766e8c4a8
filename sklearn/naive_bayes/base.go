// Package naive_bayes implements Gaussian and multinomial naive Bayes classifiers.
package naive_bayes

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/mltrack/core/model"
	"github.com/YuminosukeSato/mltrack/metrics"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// jointLogLikelihood returns log P(c) + log P(x|c) for sample i and class c.
type jointLogLikelihood func(X mat.Matrix, i, c int) float64

// checkXY validates the shapes shared by every Fit.
func checkXY(op string, X, y mat.Matrix) (int, int, error) {
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return 0, 0, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if rows != yRows {
		return 0, 0, errors.NewDimensionError(op, rows, yRows, 0)
	}
	if yCols != 1 {
		return 0, 0, errors.NewValueError(op, "y must be a column vector")
	}
	return rows, cols, nil
}

// uniqueClasses returns the sorted labels in y.
func uniqueClasses(y mat.Matrix) []int {
	rows, _ := y.Dims()
	seen := make(map[int]bool)
	for i := 0; i < rows; i++ {
		seen[int(y.At(i, 0))] = true
	}
	out := make([]int, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

func classIndex(classes []int) map[int]int {
	idx := make(map[int]int, len(classes))
	for i, c := range classes {
		idx[c] = i
	}
	return idx
}

// logProba normalizes joint log-likelihoods into log posteriors.
func logProba(X mat.Matrix, nClasses int, jll jointLogLikelihood) *mat.Dense {
	rows, _ := X.Dims()
	out := mat.NewDense(rows, nClasses, nil)
	scores := make([]float64, nClasses)
	for i := 0; i < rows; i++ {
		for c := 0; c < nClasses; c++ {
			scores[c] = jll(X, i, c)
		}
		norm := errors.LogSumExp(scores)
		for c := 0; c < nClasses; c++ {
			out.Set(i, c, scores[c]-norm)
		}
	}
	return out
}

func expMatrix(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, m)
	return out
}

// argmaxClasses maps each row's highest-scoring column to its class label.
func argmaxClasses(scores mat.Matrix, classes []int) *mat.Dense {
	rows, cols := scores.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		best := 0
		for c := 1; c < cols; c++ {
			if scores.At(i, c) > scores.At(i, best) {
				best = c
			}
		}
		out.Set(i, 0, float64(classes[best]))
	}
	return out
}

func checkPredict(state *model.StateManager, name, op string, X mat.Matrix) error {
	if err := state.RequireFitted(name, op); err != nil {
		return err
	}
	_, cols := X.Dims()
	return state.CheckFeatures(name+"."+op, cols)
}

func accuracy(p model.Predictor, X, y mat.Matrix) (float64, error) {
	pred, err := p.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.AccuracyMatrix(y, pred)
}
