package model_selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func sequence(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(i*10))
		y.Set(i, 0, float64(i%2))
	}
	return X, y
}

func TestTrainTestSplit(t *testing.T) {
	X, y := sequence(10)

	XTrain, XTest, yTrain, yTest, err := TrainTestSplit(X, y, 0.3, 0)
	require.NoError(t, err)

	r, _ := XTest.Dims()
	assert.Equal(t, 3, r)
	r, _ = XTrain.Dims()
	assert.Equal(t, 7, r)

	// 行の対応が保たれていること
	seen := map[float64]bool{}
	for _, part := range []struct{ X, y *mat.Dense }{{XTrain, yTrain}, {XTest, yTest}} {
		rows, _ := part.X.Dims()
		for i := 0; i < rows; i++ {
			v := part.X.At(i, 0)
			assert.Equal(t, v*10, part.X.At(i, 1))
			assert.Equal(t, float64(int(v)%2), part.y.At(i, 0))
			seen[v] = true
		}
	}
	assert.Len(t, seen, 10)

	// 同じシードなら同じ分割
	_, XTest2, _, _, err := TrainTestSplit(X, y, 0.3, 0)
	require.NoError(t, err)
	assert.True(t, mat.Equal(XTest, XTest2))
}

func TestTrainTestSplitErrors(t *testing.T) {
	X, y := sequence(4)
	_, _, _, _, err := TrainTestSplit(X, y, 1.5, 0)
	assert.Error(t, err)
	_, _, _, _, err = TrainTestSplit(X, mat.NewDense(3, 1, nil), 0.3, 0)
	assert.Error(t, err)
	_, _, _, _, err = TrainTestSplit(mat.NewDense(1, 1, nil), mat.NewDense(1, 1, nil), 0.3, 0)
	assert.Error(t, err)
}

func TestKFold(t *testing.T) {
	folds, err := KFold(10, 3, false, 0)
	require.NoError(t, err)
	require.Len(t, folds, 3)

	assert.Equal(t, []int{0, 1, 2, 3}, folds[0].Test)
	assert.Equal(t, []int{4, 5, 6}, folds[1].Test)
	assert.Equal(t, []int{7, 8, 9}, folds[2].Test)

	covered := map[int]int{}
	for _, f := range folds {
		assert.Len(t, f.Train, 10-len(f.Test))
		for _, i := range f.Test {
			covered[i]++
		}
	}
	assert.Len(t, covered, 10)

	_, err = KFold(3, 5, false, 0)
	assert.Error(t, err)
}

func TestStratifiedKFold(t *testing.T) {
	y := mat.NewDense(12, 1, []float64{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1})

	folds, err := StratifiedKFold(y, 4, 42)
	require.NoError(t, err)
	require.Len(t, folds, 4)

	for _, f := range folds {
		positives := 0
		for _, i := range f.Test {
			if y.At(i, 0) == 1 {
				positives++
			}
		}
		assert.Equal(t, 1, positives, "each fold holds one positive")
		assert.Len(t, f.Test, 3)
	}
}
