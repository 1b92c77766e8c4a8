package linear_model

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/mltrack/core/model"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// linearFixture は y = 2*x1 + 3*x2 - x3 + 5 + noise のデータを作る
func linearFixture() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(100, 3, nil)
	y := mat.NewDense(100, 1, nil)
	for i := 0; i < 100; i++ {
		X.Set(i, 0, math.Sin(float64(i)/10.0))
		X.Set(i, 1, math.Cos(float64(i)/10.0))
		X.Set(i, 2, float64(i)/50.0)
		y.Set(i, 0, 2*X.At(i, 0)+3*X.At(i, 1)-X.At(i, 2)+5+float64(i%5)/100.0)
	}
	return X, y
}

func TestLinearRegression_Fit(t *testing.T) {
	X, y := linearFixture()

	lr := NewLinearRegression()
	require.NoError(t, lr.Fit(X, y))

	coef := lr.Coef()
	assert.InDelta(t, 2.0, coef[0], 0.05)
	assert.InDelta(t, 3.0, coef[1], 0.05)
	assert.InDelta(t, -1.0, coef[2], 0.05)
	assert.InDelta(t, 5.0, lr.Intercept(), 0.1)

	score, err := lr.Score(X, y)
	require.NoError(t, err)
	assert.Greater(t, score, 0.99)
}

func TestLinearRegression_NoIntercept(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewDense(4, 1, []float64{2, 4, 6, 8})

	lr := NewLinearRegression(WithLRFitIntercept(false))
	require.NoError(t, lr.Fit(X, y))
	assert.InDelta(t, 2.0, lr.Coef()[0], 1e-9)
	assert.Equal(t, 0.0, lr.Intercept())
}

func TestLinearRegression_Errors(t *testing.T) {
	lr := NewLinearRegression()

	_, err := lr.Predict(mat.NewDense(1, 1, []float64{1}))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf), "予測前に学習が必要")

	err = lr.Fit(mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewDense(2, 1, []float64{1, 2}))
	var dim *errors.DimensionError
	assert.True(t, errors.As(err, &dim))

	X, y := linearFixture()
	require.NoError(t, lr.Fit(X, y))
	_, err = lr.Predict(mat.NewDense(1, 2, []float64{1, 2}))
	assert.True(t, errors.As(err, &dim), "特徴量数の不一致")
}

func TestLinearRegression_Params(t *testing.T) {
	lr := NewLinearRegression()
	require.NoError(t, lr.SetParams(map[string]interface{}{"fit_intercept": false}))
	assert.Equal(t, false, lr.GetParams()["fit_intercept"])
	assert.Error(t, lr.SetParams(map[string]interface{}{"fit_intercept": "yes"}))
	assert.Error(t, lr.SetParams(map[string]interface{}{"alpha": 0.1}))

	clone := lr.Clone()
	assert.False(t, clone.FitIntercept)
	assert.False(t, clone.IsFitted())
}

// TestLinearRegression_WeightReproducibility は保存・復元後も重みが完全に一致することを確認
func TestLinearRegression_WeightReproducibility(t *testing.T) {
	X, y := linearFixture()
	fs := afero.NewMemMapFs()

	model1 := NewLinearRegression()
	require.NoError(t, model1.Fit(X, y))
	require.NoError(t, model.SaveModel(fs, model1, "/models/lr.gob"))

	model2 := &LinearRegression{}
	require.NoError(t, model.LoadModel(fs, model2, "/models/lr.gob"))

	assert.Equal(t, model1.WeightHash(), model2.WeightHash())
	assert.NotEmpty(t, model2.WeightHash())

	pred1, err := model1.Predict(X)
	require.NoError(t, err)
	pred2, err := model2.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(pred1, pred2))
}
