package automl

import (
	"encoding/gob"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mltrack/core/model"
	"github.com/YuminosukeSato/mltrack/metrics"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/preprocessing"
	"github.com/YuminosukeSato/mltrack/sklearn/linear_model"
	"github.com/YuminosukeSato/mltrack/sklearn/naive_bayes"
	"github.com/YuminosukeSato/mltrack/sklearn/tree"
)

// Pipeline step names.
const (
	PreprocessorNone     = "passthrough"
	PreprocessorStandard = "StandardScaler"
	PreprocessorMinMax   = "MinMaxScaler"

	EstimatorLogistic      = "LogisticRegression"
	EstimatorTree          = "DecisionTreeClassifier"
	EstimatorGaussianNB    = "GaussianNB"
	EstimatorMultinomialNB = "MultinomialNB"
	EstimatorLinear        = "LinearRegression"
)

var preprocessorFactories = map[string]func() model.Transformer{
	PreprocessorStandard: func() model.Transformer { return preprocessing.NewStandardScalerDefault() },
	PreprocessorMinMax:   func() model.Transformer { return preprocessing.NewMinMaxScalerDefault() },
}

type estimatorEntry struct {
	task Task
	new  func() model.Estimator
}

var estimatorFactories = map[string]estimatorEntry{
	EstimatorLogistic: {Classification, func() model.Estimator { return linear_model.NewLogisticRegression() }},
	EstimatorTree:     {Classification, func() model.Estimator { return tree.NewDecisionTreeClassifier() }},
	EstimatorGaussianNB: {Classification, func() model.Estimator {
		return naive_bayes.NewGaussianNB()
	}},
	EstimatorMultinomialNB: {Classification, func() model.Estimator {
		return naive_bayes.NewMultinomialNB()
	}},
	EstimatorLinear: {Regression, func() model.Estimator { return linear_model.NewLinearRegression() }},
}

func init() {
	// Pipelines hold their steps behind interfaces.
	gob.Register(&preprocessing.StandardScaler{})
	gob.Register(&preprocessing.MinMaxScaler{})
	gob.Register(&linear_model.LogisticRegression{})
	gob.Register(&linear_model.LinearRegression{})
	gob.Register(&tree.DecisionTreeClassifier{})
	gob.Register(&naive_bayes.GaussianNB{})
	gob.Register(&naive_bayes.MultinomialNB{})
}

// Genome is the flat description of a candidate pipeline.
type Genome struct {
	Preprocessor string                 `yaml:"preprocessor"`
	Estimator    string                 `yaml:"estimator"`
	Params       map[string]interface{} `yaml:"params,omitempty"`
}

// Clone returns a deep copy of the parameter map.
func (g Genome) Clone() Genome {
	out := Genome{Preprocessor: g.Preprocessor, Estimator: g.Estimator, Params: make(map[string]interface{}, len(g.Params))}
	for k, v := range g.Params {
		out.Params[k] = v
	}
	return out
}

// Key is a canonical identity used for the evaluation cache and for
// deterministic tie-breaking.
func (g Genome) Key() string {
	names := make([]string, 0, len(g.Params))
	for name := range g.Params {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	b.WriteString(g.Preprocessor)
	b.WriteString("|")
	b.WriteString(g.Estimator)
	b.WriteString("(")
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", name, g.Params[name])
	}
	b.WriteString(")")
	return b.String()
}

// String renders the pipeline as "preprocessor -> estimator(params)".
func (g Genome) String() string {
	est := strings.SplitN(g.Key(), "|", 2)[1]
	if g.Preprocessor == PreprocessorNone || g.Preprocessor == "" {
		return est
	}
	return g.Preprocessor + " -> " + est
}

// Pipeline is a preprocessor followed by an estimator. Exported fields make
// a fitted pipeline gob-serialisable.
type Pipeline struct {
	Genome       Genome
	Task         Task
	Preprocessor model.Transformer
	Estimator    model.Estimator
}

// NewPipeline builds an unfitted pipeline from g. Estimators with a
// random_state take seed.
func NewPipeline(g Genome, task Task, seed int64) (*Pipeline, error) {
	entry, ok := estimatorFactories[g.Estimator]
	if !ok {
		return nil, errors.NewValidationError("estimator", "unknown estimator", g.Estimator)
	}
	if entry.task != task {
		return nil, errors.NewValidationError("estimator", fmt.Sprintf("%s cannot be used for %s", g.Estimator, task), g.Estimator)
	}

	p := &Pipeline{Genome: g.Clone(), Task: task, Estimator: entry.new()}
	if g.Preprocessor != "" && g.Preprocessor != PreprocessorNone {
		newPre, ok := preprocessorFactories[g.Preprocessor]
		if !ok {
			return nil, errors.NewValidationError("preprocessor", "unknown preprocessor", g.Preprocessor)
		}
		p.Preprocessor = newPre()
	}

	params := g.Clone().Params
	if _, ok := p.Estimator.GetParams()["random_state"]; ok {
		if _, set := params["random_state"]; !set {
			params["random_state"] = int(seed)
		}
	}
	if len(params) > 0 {
		if err := p.Estimator.SetParams(params); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Fit fits the preprocessor and then the estimator on its output.
func (p *Pipeline) Fit(X mat.Matrix, y mat.Vector) error {
	Xt := X
	if p.Preprocessor != nil {
		var err error
		if Xt, err = p.Preprocessor.FitTransform(X); err != nil {
			return err
		}
	}
	return p.Estimator.Fit(Xt, y)
}

// IsFitted reports whether Fit succeeded.
func (p *Pipeline) IsFitted() bool {
	return p != nil && p.Estimator != nil && p.Estimator.IsFitted()
}

func (p *Pipeline) transform(op string, X mat.Matrix) (mat.Matrix, error) {
	if !p.IsFitted() {
		return nil, errors.NewNotFittedError("Pipeline", op)
	}
	if p.Preprocessor == nil {
		return X, nil
	}
	return p.Preprocessor.Transform(X)
}

// Predict returns one prediction per row.
func (p *Pipeline) Predict(X mat.Matrix) (*mat.VecDense, error) {
	Xt, err := p.transform("Predict", X)
	if err != nil {
		return nil, err
	}
	pred, err := p.Estimator.Predict(Xt)
	if err != nil {
		return nil, err
	}
	return column(pred, 0), nil
}

// PredictProba returns the probability of the positive class (label 1) per
// row. A model that never saw label 1 yields zeros.
func (p *Pipeline) PredictProba(X mat.Matrix) (*mat.VecDense, error) {
	Xt, err := p.transform("PredictProba", X)
	if err != nil {
		return nil, err
	}
	clf, ok := p.Estimator.(model.Classifier)
	if !ok {
		return nil, errors.NewValueError("Pipeline.PredictProba", p.Genome.Estimator+" does not predict probabilities")
	}
	proba, err := clf.PredictProba(Xt)
	if err != nil {
		return nil, err
	}
	idx := slices.Index(clf.Classes(), 1)
	if idx < 0 {
		n, _ := proba.Dims()
		return mat.NewVecDense(n, nil), nil
	}
	return column(proba, idx), nil
}

func column(m mat.Matrix, j int) *mat.VecDense {
	n, _ := m.Dims()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, m.At(i, j))
	}
	return out
}

// Score evaluates the pipeline on X, y with the named metric.
func (p *Pipeline) Score(X mat.Matrix, y *mat.VecDense, scoring string) (float64, error) {
	if p.Task == Regression {
		pred, err := p.Predict(X)
		if err != nil {
			return 0, err
		}
		return metrics.RegressionScoreByName(y, pred, scoring)
	}

	if scoring == metrics.MetricAccuracy {
		pred, err := p.Predict(X)
		if err != nil {
			return 0, err
		}
		return metrics.Accuracy(y, pred)
	}
	proba, err := p.PredictProba(X)
	if err != nil {
		return 0, err
	}
	return metrics.ScoreByName(y, proba, 0.5, scoring)
}

// String renders the pipeline steps.
func (p *Pipeline) String() string {
	return p.Genome.String()
}
