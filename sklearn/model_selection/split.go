// Package model_selection provides train/test splitting and cross-validation folds.
package model_selection

import (
	"math"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Fold is one cross-validation split expressed as row indices.
type Fold struct {
	Train []int
	Test  []int
}

// TrainTestSplit shuffles rows with seed and holds out ceil(testSize*n) rows
// for testing, matching scikit-learn's rounding.
func TrainTestSplit(X, y mat.Matrix, testSize float64, seed int64) (XTrain, XTest, yTrain, yTest *mat.Dense, err error) {
	n, _ := X.Dims()
	yRows, _ := y.Dims()
	if n != yRows {
		return nil, nil, nil, nil, errors.NewDimensionError("TrainTestSplit", n, yRows, 0)
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest < 1 || nTest >= n {
		return nil, nil, nil, nil, errors.NewValueError("TrainTestSplit", "split leaves an empty train or test set")
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	testIdx, trainIdx := perm[:nTest], perm[nTest:]

	return SelectRows(X, trainIdx), SelectRows(X, testIdx), SelectRows(y, trainIdx), SelectRows(y, testIdx), nil
}

// SelectRows copies the given rows of m into a new matrix.
func SelectRows(m mat.Matrix, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(r, j))
		}
	}
	return out
}

// KFold splits n rows into k contiguous folds, optionally shuffled first.
// The first n%k folds get one extra row.
func KFold(n, k int, shuffle bool, seed int64) ([]Fold, error) {
	if k < 2 {
		return nil, errors.NewValidationError("n_splits", "must be at least 2", k)
	}
	if k > n {
		return nil, errors.NewValueError("KFold", "n_splits is greater than the number of samples")
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if shuffle {
		r := rand.New(rand.NewSource(seed))
		r.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}

	folds := make([]Fold, 0, k)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		test := append([]int(nil), idx[start:start+size]...)
		train := make([]int, 0, n-size)
		train = append(train, idx[:start]...)
		train = append(train, idx[start+size:]...)
		sort.Ints(test)
		sort.Ints(train)
		folds = append(folds, Fold{Train: train, Test: test})
		start += size
	}
	return folds, nil
}

// StratifiedKFold deals the shuffled rows of each class round-robin across
// k folds so every fold keeps roughly the class proportions of y.
func StratifiedKFold(y mat.Matrix, k int, seed int64) ([]Fold, error) {
	n, _ := y.Dims()
	if k < 2 {
		return nil, errors.NewValidationError("n_splits", "must be at least 2", k)
	}
	if k > n {
		return nil, errors.NewValueError("StratifiedKFold", "n_splits is greater than the number of samples")
	}

	byClass := make(map[int][]int)
	var labels []int
	for i := 0; i < n; i++ {
		c := int(y.At(i, 0))
		if _, ok := byClass[c]; !ok {
			labels = append(labels, c)
		}
		byClass[c] = append(byClass[c], i)
	}
	sort.Ints(labels)

	r := rand.New(rand.NewSource(seed))
	assign := make([]int, n)
	next := 0
	for _, c := range labels {
		rows := byClass[c]
		r.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		for _, row := range rows {
			assign[row] = next % k
			next++
		}
	}

	folds := make([]Fold, k)
	for i := 0; i < n; i++ {
		for f := range folds {
			if assign[i] == f {
				folds[f].Test = append(folds[f].Test, i)
			} else {
				folds[f].Train = append(folds[f].Train, i)
			}
		}
	}
	for _, fold := range folds {
		if len(fold.Test) == 0 {
			return nil, errors.NewValueError("StratifiedKFold", "a fold has no test samples")
		}
	}
	return folds, nil
}
