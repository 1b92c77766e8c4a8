package naive_bayes

import (
	"math"

	"github.com/YuminosukeSato/mltrack/core/model"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	_ model.Classifier           = (*MultinomialNB)(nil)
	_ model.IncrementalEstimator = (*MultinomialNB)(nil)
)

// minAlpha keeps log probabilities finite when alpha is 0.
const minAlpha = 1e-10

// MultinomialNB is a naive Bayes classifier for count features such as
// pregnancies or word counts. It supports incremental training with PartialFit.
type MultinomialNB struct {
	State *model.StateManager

	Alpha    float64
	FitPrior bool

	ClassList      []int
	ClassCount     []float64
	FeatureCount   [][]float64 // n_classes x n_features
	ClassLogPrior  []float64
	FeatureLogProb [][]float64
	NFeatures      int
	SamplesSeen    int
}

// MultinomialOption configures a MultinomialNB.
type MultinomialOption func(*MultinomialNB)

// WithAlpha sets the additive smoothing parameter.
func WithAlpha(alpha float64) MultinomialOption {
	return func(nb *MultinomialNB) { nb.Alpha = alpha }
}

// WithFitPrior controls whether class priors are learned or uniform.
func WithFitPrior(fit bool) MultinomialOption {
	return func(nb *MultinomialNB) { nb.FitPrior = fit }
}

// NewMultinomialNB creates an unfitted classifier with alpha 1.
func NewMultinomialNB(opts ...MultinomialOption) *MultinomialNB {
	nb := &MultinomialNB{
		State:    model.NewStateManager(),
		Alpha:    1.0,
		FitPrior: true,
	}
	for _, opt := range opts {
		opt(nb)
	}
	return nb
}

// Fit discards previous state and trains on X and y.
func (nb *MultinomialNB) Fit(X, y mat.Matrix) error {
	nb.State.Reset()
	nb.ClassList = nil
	return nb.PartialFit(X, y, uniqueClasses(y))
}

// PartialFit updates the counts with one batch. classes must be given on the
// first call and is ignored afterwards.
func (nb *MultinomialNB) PartialFit(X, y mat.Matrix, classes []int) error {
	rows, cols, err := checkXY("MultinomialNB.PartialFit", X, y)
	if err != nil {
		return err
	}
	if nb.Alpha < 0 {
		return errors.NewValidationError("alpha", "must be non-negative", nb.Alpha)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := X.At(i, j); v < 0 || math.IsNaN(v) {
				return errors.NewValueError("MultinomialNB.PartialFit", "input must be non-negative counts")
			}
		}
	}

	if nb.ClassList == nil {
		if len(classes) == 0 {
			return errors.NewValueError("MultinomialNB.PartialFit", "classes must be passed on the first call")
		}
		nb.ClassList = append([]int(nil), classes...)
		nb.NFeatures = cols
		nb.ClassCount = make([]float64, len(classes))
		nb.FeatureCount = make([][]float64, len(classes))
		for c := range nb.FeatureCount {
			nb.FeatureCount[c] = make([]float64, cols)
		}
		nb.SamplesSeen = 0
	} else if cols != nb.NFeatures {
		return errors.NewDimensionError("MultinomialNB.PartialFit", nb.NFeatures, cols, 1)
	}

	idx := classIndex(nb.ClassList)
	for i := 0; i < rows; i++ {
		c, ok := idx[int(y.At(i, 0))]
		if !ok {
			return errors.NewValueError("MultinomialNB.PartialFit", "label not in classes")
		}
		nb.ClassCount[c]++
		for j := 0; j < cols; j++ {
			nb.FeatureCount[c][j] += X.At(i, j)
		}
	}
	nb.SamplesSeen += rows
	nb.updateLogProbs()

	nb.State.SetDimensions(cols, nb.SamplesSeen)
	nb.State.SetFitted()
	return nil
}

func (nb *MultinomialNB) updateLogProbs() {
	alpha := math.Max(nb.Alpha, minAlpha)
	nClasses := len(nb.ClassList)

	nb.ClassLogPrior = make([]float64, nClasses)
	total := 0.0
	for _, n := range nb.ClassCount {
		total += n
	}
	for c := range nb.ClassLogPrior {
		if nb.FitPrior {
			nb.ClassLogPrior[c] = math.Log(nb.ClassCount[c]) - math.Log(total)
		} else {
			nb.ClassLogPrior[c] = -math.Log(float64(nClasses))
		}
	}

	nb.FeatureLogProb = make([][]float64, nClasses)
	for c := range nb.FeatureLogProb {
		smoothed := 0.0
		for _, v := range nb.FeatureCount[c] {
			smoothed += v + alpha
		}
		row := make([]float64, nb.NFeatures)
		for j, v := range nb.FeatureCount[c] {
			row[j] = math.Log(v+alpha) - math.Log(smoothed)
		}
		nb.FeatureLogProb[c] = row
	}
}

func (nb *MultinomialNB) jll(X mat.Matrix, i, c int) float64 {
	out := nb.ClassLogPrior[c]
	for j := 0; j < nb.NFeatures; j++ {
		out += X.At(i, j) * nb.FeatureLogProb[c][j]
	}
	return out
}

// PredictLogProba returns log posteriors, columns in Classes() order.
func (nb *MultinomialNB) PredictLogProba(X mat.Matrix) (mat.Matrix, error) {
	if err := checkPredict(nb.State, "MultinomialNB", "PredictLogProba", X); err != nil {
		return nil, err
	}
	return logProba(X, len(nb.ClassList), nb.jll), nil
}

// PredictProba returns posteriors, columns in Classes() order.
func (nb *MultinomialNB) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := checkPredict(nb.State, "MultinomialNB", "PredictProba", X); err != nil {
		return nil, err
	}
	return expMatrix(logProba(X, len(nb.ClassList), nb.jll)), nil
}

// Predict returns the maximum a posteriori class.
func (nb *MultinomialNB) Predict(X mat.Matrix) (mat.Matrix, error) {
	lp, err := nb.PredictLogProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxClasses(lp, nb.ClassList), nil
}

// Score returns the mean accuracy.
func (nb *MultinomialNB) Score(X, y mat.Matrix) (float64, error) { return accuracy(nb, X, y) }

// Classes returns the class labels.
func (nb *MultinomialNB) Classes() []int { return append([]int(nil), nb.ClassList...) }

// NSamplesSeen returns the number of samples seen across PartialFit calls.
func (nb *MultinomialNB) NSamplesSeen() int { return nb.SamplesSeen }

// IsFitted reports whether the classifier has seen data.
func (nb *MultinomialNB) IsFitted() bool { return nb.State.IsFitted() }

// GetParams returns the hyperparameters.
func (nb *MultinomialNB) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"alpha":     nb.Alpha,
		"fit_prior": nb.FitPrior,
	}
}

// SetParams updates hyperparameters by name.
func (nb *MultinomialNB) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "alpha":
			nb.Alpha, err = model.ParamFloat(key, value)
		case "fit_prior":
			nb.FitPrior, err = model.ParamBool(key, value)
		default:
			return errors.NewValidationError(key, "unknown parameter for MultinomialNB", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
