package preprocessing

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/mltrack/core/model"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var _ model.Transformer = (*StandardScaler)(nil)
var _ model.Transformer = (*MinMaxScaler)(nil)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})

	s := NewStandardScalerDefault()
	Xs, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, s.Mean[0], 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), s.Scale[0], 1e-12)
	// 定数列はスケール1
	assert.Equal(t, 1.0, s.Scale[1])
	assert.InDelta(t, 0.0, Xs.At(0, 1), 1e-12)

	var sum float64
	for i := 0; i < 4; i++ {
		sum += Xs.At(i, 0)
	}
	assert.InDelta(t, 0.0, sum, 1e-12)

	back, err := s.InverseTransform(Xs)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, back, 1e-12))
}

func TestStandardScalerIgnoresNaN(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, math.NaN(), 3})

	s := NewStandardScalerDefault()
	Xs, err := s.FitTransform(X)
	require.NoError(t, err)
	assert.Equal(t, 2.0, s.Mean[0])
	assert.True(t, math.IsNaN(Xs.At(1, 0)))
}

func TestStandardScalerWithoutMean(t *testing.T) {
	s := NewStandardScaler(false, true)
	require.NoError(t, s.Fit(mat.NewDense(2, 1, []float64{2, 4})))
	assert.Equal(t, 0.0, s.Mean[0])

	require.NoError(t, s.SetParams(map[string]interface{}{"with_mean": true}))
	assert.True(t, s.WithMean)
	assert.Error(t, s.SetParams(map[string]interface{}{"copy": true}))
}

func TestScalerErrors(t *testing.T) {
	s := NewStandardScalerDefault()
	_, err := s.Transform(mat.NewDense(1, 1, nil))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	require.NoError(t, s.Fit(mat.NewDense(2, 2, []float64{1, 2, 3, 4})))
	_, err = s.Transform(mat.NewDense(1, 3, nil))
	var dim *errors.DimensionError
	assert.True(t, errors.As(err, &dim))

	m := NewMinMaxScaler([2]float64{1, 0})
	assert.Error(t, m.Fit(mat.NewDense(2, 1, []float64{1, 2})))
}

func TestMinMaxScaler(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{
		0, 5,
		5, 5,
		10, 5,
	})

	m := NewMinMaxScaler([2]float64{-1, 1})
	Xs, err := m.FitTransform(X)
	require.NoError(t, err)

	assert.InDelta(t, -1.0, Xs.At(0, 0), 1e-12)
	assert.InDelta(t, 0.0, Xs.At(1, 0), 1e-12)
	assert.InDelta(t, 1.0, Xs.At(2, 0), 1e-12)
	assert.InDelta(t, -1.0, Xs.At(0, 1), 1e-12)

	back, err := m.InverseTransform(Xs)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, back, 1e-12))
	assert.Contains(t, m.String(), "n_features=2")
}
