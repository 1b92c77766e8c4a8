package linear_model

import (
	"math"
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/mltrack/core/model"
	"github.com/YuminosukeSato/mltrack/metrics"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LogisticRegression implements logistic regression for classification
// Compatible with scikit-learn's LogisticRegression
//
// Fields are exported so a fitted model can be gob-encoded as a run artifact.
type LogisticRegression struct {
	State *model.StateManager

	// Hyperparameters
	Penalty      string  // Regularization: "l2" or "none"
	C            float64 // Inverse regularization strength (1/alpha)
	FitIntercept bool    // Whether to fit intercept
	RandomState  int64   // Random seed, negative for a random source
	Solver       string  // Solver name, informational; fitting is gradient descent
	MaxIter      int     // Maximum iterations
	Tol          float64 // Tolerance for stopping
	WarmStart    bool    // Reuse previous solution

	// Model parameters
	Coef       [][]float64 // Coefficients (n_classes x n_features or 1 x n_features for binary)
	Intercept  []float64   // Intercept terms
	ClassList  []int       // Unique class labels
	NClasses   int         // Number of classes
	NFeatures  int         // Number of features
	NIter      []int       // Actual iterations per class
	Converged  bool        // Whether every sub-problem met Tol
	featMean   []float64
	featScale  []float64
	rng        *rand.Rand
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		State:        model.NewStateManager(),
		Penalty:      "l2",
		C:            1.0,
		FitIntercept: true,
		RandomState:  -1,
		Solver:       "lbfgs",
		MaxIter:      100,
		Tol:          1e-4,
	}

	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.Penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.FitIntercept = fit
	}
}

// WithLRSolver sets the optimization solver
func WithLRSolver(solver string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.Solver = solver
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.MaxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.Tol = tol
	}
}

// WithLRRandomState sets the random seed
func WithLRRandomState(seed int64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.RandomState = seed
	}
}

func (lr *LogisticRegression) validate() error {
	if lr.C <= 0 {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.Penalty != "l2" && lr.Penalty != "none" {
		return errors.NewValidationError("penalty", "must be 'l2' or 'none'", lr.Penalty)
	}
	if lr.MaxIter <= 0 {
		return errors.NewValidationError("max_iter", "must be positive", lr.MaxIter)
	}
	return nil
}

// Fit trains the logistic regression model
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	if err := lr.validate(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 {
		return errors.NewValueError("LogisticRegression.Fit", "empty training data")
	}
	if nSamples != yRows {
		return errors.NewDimensionError("LogisticRegression.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("LogisticRegression.Fit", "y must be a column vector")
	}

	lr.extractClasses(y)
	if lr.NClasses < 2 {
		return errors.NewValueError("LogisticRegression.Fit", "needs samples of at least 2 classes in the data")
	}
	if lr.RandomState >= 0 {
		lr.rng = rand.New(rand.NewSource(lr.RandomState))
	} else {
		lr.rng = rand.New(rand.NewSource(rand.Int63()))
	}

	lr.NFeatures = nFeatures
	lr.fitScaling(X)
	Xs := lr.standardize(X)

	if !lr.WarmStart || lr.Coef == nil || len(lr.Coef[0]) != nFeatures {
		lr.initializeWeights(nFeatures)
	} else {
		lr.toStandardized()
	}

	lr.Converged = true
	if lr.NClasses == 2 {
		yBinary := lr.binaryTarget(y, lr.ClassList[1])
		lr.fitBinaryForClass(Xs, yBinary, 0)
	} else {
		for classIdx, class := range lr.ClassList {
			lr.fitBinaryForClass(Xs, lr.binaryTarget(y, class), classIdx)
		}
	}
	lr.toRawScale()

	if !lr.Converged {
		errors.Warn(errors.NewConvergenceWarning("LogisticRegression", lr.MaxIter, "gradient norm above tol"))
	}

	lr.State.SetDimensions(nFeatures, nSamples)
	lr.State.SetFitted()
	return nil
}

// extractClasses identifies unique class labels
func (lr *LogisticRegression) extractClasses(y mat.Matrix) {
	rows, _ := y.Dims()
	classMap := make(map[int]bool)
	for i := 0; i < rows; i++ {
		classMap[int(y.At(i, 0))] = true
	}

	lr.ClassList = make([]int, 0, len(classMap))
	for class := range classMap {
		lr.ClassList = append(lr.ClassList, class)
	}
	sort.Ints(lr.ClassList)
	lr.NClasses = len(lr.ClassList)
}

// fitScaling records per-feature mean and standard deviation. Gradient
// descent runs on standardized features and the coefficients are mapped back
// afterwards, so raw-scale inputs such as glucose readings converge.
func (lr *LogisticRegression) fitScaling(X mat.Matrix) {
	n, d := X.Dims()
	lr.featMean = make([]float64, d)
	lr.featScale = make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			col[i] = X.At(i, j)
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		lr.featMean[j] = mean
		lr.featScale[j] = std
	}
}

func (lr *LogisticRegression) standardize(X mat.Matrix) *mat.Dense {
	n, d := X.Dims()
	out := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			out.Set(i, j, (X.At(i, j)-lr.featMean[j])/lr.featScale[j])
		}
	}
	return out
}

// toRawScale rewrites standardized coefficients for raw inputs.
func (lr *LogisticRegression) toRawScale() {
	for c := range lr.Coef {
		for j := range lr.Coef[c] {
			lr.Coef[c][j] /= lr.featScale[j]
			lr.Intercept[c] -= lr.Coef[c][j] * lr.featMean[j]
		}
	}
}

// toStandardized is the inverse of toRawScale, used for warm starts.
func (lr *LogisticRegression) toStandardized() {
	for c := range lr.Coef {
		for j := range lr.Coef[c] {
			lr.Intercept[c] += lr.Coef[c][j] * lr.featMean[j]
			lr.Coef[c][j] *= lr.featScale[j]
		}
	}
}

// initializeWeights initializes model weights
func (lr *LogisticRegression) initializeWeights(nFeatures int) {
	nSets := lr.NClasses
	if lr.NClasses == 2 {
		nSets = 1
	}
	lr.Coef = make([][]float64, nSets)
	for i := range lr.Coef {
		lr.Coef[i] = make([]float64, nFeatures)
		for j := range lr.Coef[i] {
			lr.Coef[i][j] = lr.rng.NormFloat64() * 0.01
		}
	}
	lr.Intercept = make([]float64, nSets)
	lr.NIter = make([]int, nSets)
}

func (lr *LogisticRegression) binaryTarget(y mat.Matrix, positive int) []float64 {
	rows, _ := y.Dims()
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		if int(y.At(i, 0)) == positive {
			out[i] = 1
		}
	}
	return out
}

// fitBinaryForClass runs gradient descent for one binary sub-problem. The L2
// term follows scikit-learn's objective C*sum(loss) + 0.5*||w||^2, scaled by
// the number of samples.
func (lr *LogisticRegression) fitBinaryForClass(X *mat.Dense, yBinary []float64, classIdx int) {
	nSamples, nFeatures := X.Dims()
	weights := lr.Coef[classIdx]
	intercept := &lr.Intercept[classIdx]

	baseLearningRate := 1.0
	gradWeights := make([]float64, nFeatures)

	converged := false
	for iter := 0; iter < lr.MaxIter; iter++ {
		for j := range gradWeights {
			gradWeights[j] = 0
		}
		gradIntercept := 0.0

		for i := 0; i < nSamples; i++ {
			z := *intercept
			row := X.RawRowView(i)
			for j := 0; j < nFeatures; j++ {
				z += row[j] * weights[j]
			}
			residual := sigmoid(z) - yBinary[i]
			gradIntercept += residual
			for j := 0; j < nFeatures; j++ {
				gradWeights[j] += residual * row[j]
			}
		}

		for j := range gradWeights {
			gradWeights[j] /= float64(nSamples)
		}
		gradIntercept /= float64(nSamples)

		if lr.Penalty == "l2" {
			lambda := 1.0 / (lr.C * float64(nSamples))
			for j := range weights {
				gradWeights[j] += lambda * weights[j]
			}
		}

		learningRate := baseLearningRate / (1.0 + 0.01*float64(iter))
		for j := range weights {
			weights[j] -= learningRate * gradWeights[j]
		}
		if lr.FitIntercept {
			*intercept -= learningRate * gradIntercept
		}

		lr.NIter[classIdx] = iter + 1

		maxGrad := 0.0
		if lr.FitIntercept {
			maxGrad = math.Abs(gradIntercept)
		}
		for _, g := range gradWeights {
			maxGrad = math.Max(maxGrad, math.Abs(g))
		}
		if maxGrad < lr.Tol {
			converged = true
			break
		}
	}
	if !converged {
		lr.Converged = false
	}
}

func (lr *LogisticRegression) checkInput(op string, X mat.Matrix) error {
	if err := lr.State.RequireFitted("LogisticRegression", op); err != nil {
		return err
	}
	_, nCols := X.Dims()
	return lr.State.CheckFeatures("LogisticRegression."+op, nCols)
}

func (lr *LogisticRegression) decision(X mat.Matrix, i, classIdx int) float64 {
	z := lr.Intercept[classIdx]
	for j := 0; j < lr.NFeatures; j++ {
		z += X.At(i, j) * lr.Coef[classIdx][j]
	}
	return z
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	predictions := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		if lr.NClasses == 2 {
			if probas.At(i, 1) >= 0.5 {
				predictions.Set(i, 0, float64(lr.ClassList[1]))
			} else {
				predictions.Set(i, 0, float64(lr.ClassList[0]))
			}
			continue
		}
		best := 0
		for c := 1; c < lr.NClasses; c++ {
			if probas.At(i, c) > probas.At(i, best) {
				best = c
			}
		}
		predictions.Set(i, 0, float64(lr.ClassList[best]))
	}
	return predictions, nil
}

// PredictProba returns probability estimates for each class, columns in Classes() order
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.checkInput("PredictProba", X); err != nil {
		return nil, err
	}

	nSamples, _ := X.Dims()
	probas := mat.NewDense(nSamples, lr.NClasses, nil)

	if lr.NClasses == 2 {
		for i := 0; i < nSamples; i++ {
			prob1 := sigmoid(lr.decision(X, i, 0))
			probas.Set(i, 0, 1.0-prob1)
			probas.Set(i, 1, prob1)
		}
		return probas, nil
	}

	// One-vs-rest scores normalized with softmax
	scores := make([]float64, lr.NClasses)
	for i := 0; i < nSamples; i++ {
		for c := 0; c < lr.NClasses; c++ {
			scores[c] = lr.decision(X, i, c)
		}
		lse := errors.LogSumExp(scores)
		for c := 0; c < lr.NClasses; c++ {
			probas.Set(i, c, math.Exp(scores[c]-lse))
		}
	}
	return probas, nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.AccuracyMatrix(y, predictions)
}

// Classes returns the sorted class labels seen during Fit
func (lr *LogisticRegression) Classes() []int {
	return append([]int(nil), lr.ClassList...)
}

// IsFitted reports whether Fit has completed
func (lr *LogisticRegression) IsFitted() bool {
	return lr.State.IsFitted()
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.Penalty,
		"C":             lr.C,
		"fit_intercept": lr.FitIntercept,
		"random_state":  lr.RandomState,
		"solver":        lr.Solver,
		"max_iter":      lr.MaxIter,
		"warm_start":    lr.WarmStart,
		"tol":           lr.Tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "penalty":
			lr.Penalty, err = model.ParamString(key, value)
		case "C":
			lr.C, err = model.ParamFloat(key, value)
		case "fit_intercept":
			lr.FitIntercept, err = model.ParamBool(key, value)
		case "random_state":
			var seed int
			seed, err = model.ParamInt(key, value)
			lr.RandomState = int64(seed)
		case "solver":
			lr.Solver, err = model.ParamString(key, value)
		case "max_iter":
			lr.MaxIter, err = model.ParamInt(key, value)
		case "warm_start":
			lr.WarmStart, err = model.ParamBool(key, value)
		case "tol":
			lr.Tol, err = model.ParamFloat(key, value)
		default:
			return errors.NewValidationError(key, "unknown parameter for LogisticRegression", value)
		}
		if err != nil {
			return err
		}
	}
	return lr.validate()
}

// sigmoid computes the sigmoid function
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1.0 / (1.0 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1.0 + e)
}
