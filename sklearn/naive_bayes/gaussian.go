package naive_bayes

import (
	"math"

	"github.com/YuminosukeSato/mltrack/core/model"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// GaussianNB models each feature as a per-class normal distribution.
type GaussianNB struct {
	State *model.StateManager

	// VarSmoothing is the fraction of the largest feature variance added to
	// every variance for stability.
	VarSmoothing float64

	ClassList  []int
	ClassPrior []float64
	Theta      [][]float64 // per-class feature means
	Var        [][]float64 // per-class feature variances
	Epsilon    float64
	NFeatures  int
}

// NewGaussianNB creates an unfitted classifier with var_smoothing 1e-9.
func NewGaussianNB() *GaussianNB {
	return &GaussianNB{
		State:        model.NewStateManager(),
		VarSmoothing: 1e-9,
	}
}

// Fit estimates class priors and per-class feature moments.
func (nb *GaussianNB) Fit(X, y mat.Matrix) error {
	rows, cols, err := checkXY("GaussianNB.Fit", X, y)
	if err != nil {
		return err
	}
	if nb.VarSmoothing < 0 {
		return errors.NewValidationError("var_smoothing", "must be non-negative", nb.VarSmoothing)
	}

	nb.ClassList = uniqueClasses(y)
	idx := classIndex(nb.ClassList)
	nClasses := len(nb.ClassList)

	members := make([][]int, nClasses)
	for i := 0; i < rows; i++ {
		c := idx[int(y.At(i, 0))]
		members[c] = append(members[c], i)
	}

	// 全体の最大分散に比例する平滑化項
	col := make([]float64, rows)
	maxVar := 0.0
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			col[i] = X.At(i, j)
		}
		if floats.HasNaN(col) {
			return errors.NewValueError("GaussianNB.Fit", "input contains NaN")
		}
		_, v := stat.PopMeanVariance(col, nil)
		maxVar = math.Max(maxVar, v)
	}
	nb.Epsilon = nb.VarSmoothing * maxVar

	nb.ClassPrior = make([]float64, nClasses)
	nb.Theta = make([][]float64, nClasses)
	nb.Var = make([][]float64, nClasses)
	for c, rowsOfClass := range members {
		nb.ClassPrior[c] = float64(len(rowsOfClass)) / float64(rows)
		nb.Theta[c] = make([]float64, cols)
		nb.Var[c] = make([]float64, cols)
		values := make([]float64, len(rowsOfClass))
		for j := 0; j < cols; j++ {
			for k, i := range rowsOfClass {
				values[k] = X.At(i, j)
			}
			mean, variance := stat.PopMeanVariance(values, nil)
			nb.Theta[c][j] = mean
			nb.Var[c][j] = variance + nb.Epsilon
			if nb.Var[c][j] == 0 {
				// 全特徴量が定数の場合でも log(0) を避ける
				nb.Var[c][j] = minAlpha
			}
		}
	}

	nb.NFeatures = cols
	nb.State.SetDimensions(cols, rows)
	nb.State.SetFitted()
	return nil
}

func (nb *GaussianNB) jll(X mat.Matrix, i, c int) float64 {
	out := math.Log(nb.ClassPrior[c])
	for j := 0; j < nb.NFeatures; j++ {
		v := nb.Var[c][j]
		d := X.At(i, j) - nb.Theta[c][j]
		out -= 0.5*math.Log(2*math.Pi*v) + d*d/(2*v)
	}
	return out
}

// PredictLogProba returns log posteriors, columns in Classes() order.
func (nb *GaussianNB) PredictLogProba(X mat.Matrix) (mat.Matrix, error) {
	if err := checkPredict(nb.State, "GaussianNB", "PredictLogProba", X); err != nil {
		return nil, err
	}
	return logProba(X, len(nb.ClassList), nb.jll), nil
}

// PredictProba returns posteriors, columns in Classes() order.
func (nb *GaussianNB) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := checkPredict(nb.State, "GaussianNB", "PredictProba", X); err != nil {
		return nil, err
	}
	return expMatrix(logProba(X, len(nb.ClassList), nb.jll)), nil
}

// Predict returns the maximum a posteriori class.
func (nb *GaussianNB) Predict(X mat.Matrix) (mat.Matrix, error) {
	lp, err := nb.PredictLogProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxClasses(lp, nb.ClassList), nil
}

// Score returns the mean accuracy.
func (nb *GaussianNB) Score(X, y mat.Matrix) (float64, error) { return accuracy(nb, X, y) }

// Classes returns the class labels.
func (nb *GaussianNB) Classes() []int { return append([]int(nil), nb.ClassList...) }

// IsFitted reports whether Fit has completed.
func (nb *GaussianNB) IsFitted() bool { return nb.State.IsFitted() }

// GetParams returns the hyperparameters.
func (nb *GaussianNB) GetParams() map[string]interface{} {
	return map[string]interface{}{"var_smoothing": nb.VarSmoothing}
}

// SetParams updates hyperparameters by name.
func (nb *GaussianNB) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "var_smoothing":
			v, err := model.ParamFloat(key, value)
			if err != nil {
				return err
			}
			nb.VarSmoothing = v
		default:
			return errors.NewValidationError(key, "unknown parameter for GaussianNB", value)
		}
	}
	return nil
}
