package automl

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	"golang.org/x/exp/constraints"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

// ParameterRange is an inclusive numeric hyperparameter range. Log ranges
// sample uniformly in log space and need a positive Min.
type ParameterRange[T constraints.Integer | constraints.Float] struct {
	Min T    `yaml:"min"`
	Max T    `yaml:"max"`
	Log bool `yaml:"log,omitempty"`
}

// Validate checks Min <= Max and the log-scale precondition.
func (r ParameterRange[T]) Validate(name string) error {
	if r.Min > r.Max {
		return errors.NewValidationError(name, fmt.Sprintf("min %v is greater than max %v", r.Min, r.Max), r)
	}
	if r.Log && r.Min <= 0 {
		return errors.NewValidationError(name, "log ranges need a positive min", r.Min)
	}
	return nil
}

// Sample draws a value from the range. Integer ranges round to the nearest
// integer inside [Min, Max]; float ranges keep four significant digits so
// near-identical candidates share a cache entry.
func (r ParameterRange[T]) Sample(rng *rand.Rand) T {
	lo, hi := float64(r.Min), float64(r.Max)
	var v float64
	if r.Log {
		v = math.Exp(math.Log(lo) + rng.Float64()*(math.Log(hi)-math.Log(lo)))
	} else {
		v = lo + rng.Float64()*(hi-lo)
	}
	if isInteger[T]() {
		v = math.Round(v)
	} else {
		v = roundSignificant(v, 4)
	}
	return T(math.Max(lo, math.Min(hi, v)))
}

func isInteger[T constraints.Integer | constraints.Float]() bool {
	half := 0.5
	return T(half) == 0
}

func roundSignificant(v float64, digits int) float64 {
	if v == 0 || math.IsInf(v, 0) || math.IsNaN(v) {
		return v
	}
	scale := math.Pow(10, float64(digits)-math.Ceil(math.Log10(math.Abs(v))))
	return math.Round(v*scale) / scale
}

// ParamDomain is the set of values one hyperparameter may take. Exactly one
// of Float, Int or Choice is set.
type ParamDomain struct {
	Float  *ParameterRange[float64] `yaml:"float,omitempty"`
	Int    *ParameterRange[int]     `yaml:"int,omitempty"`
	Choice []interface{}            `yaml:"choice,omitempty"`
}

// FloatRange, IntRange, LogRange and Choice build single-kind domains.
func FloatRange(lo, hi float64) ParamDomain {
	return ParamDomain{Float: &ParameterRange[float64]{Min: lo, Max: hi}}
}

func LogRange(lo, hi float64) ParamDomain {
	return ParamDomain{Float: &ParameterRange[float64]{Min: lo, Max: hi, Log: true}}
}

func IntRange(lo, hi int) ParamDomain {
	return ParamDomain{Int: &ParameterRange[int]{Min: lo, Max: hi}}
}

func Choice(values ...interface{}) ParamDomain {
	return ParamDomain{Choice: values}
}

func (d ParamDomain) validate(name string) error {
	kinds := 0
	if d.Float != nil {
		kinds++
		if err := d.Float.Validate(name); err != nil {
			return err
		}
	}
	if d.Int != nil {
		kinds++
		if err := d.Int.Validate(name); err != nil {
			return err
		}
	}
	if d.Choice != nil {
		kinds++
		if len(d.Choice) == 0 {
			return errors.NewValidationError(name, "choice list is empty", d.Choice)
		}
	}
	if kinds != 1 {
		return errors.NewValidationError(name, "exactly one of float, int or choice must be set", kinds)
	}
	return nil
}

func (d ParamDomain) sample(rng *rand.Rand) interface{} {
	switch {
	case d.Float != nil:
		return d.Float.Sample(rng)
	case d.Int != nil:
		return d.Int.Sample(rng)
	default:
		return d.Choice[rng.Intn(len(d.Choice))]
	}
}

// EstimatorSpace lists the tunable hyperparameters of one estimator.
type EstimatorSpace struct {
	Name   string                 `yaml:"name"`
	Params map[string]ParamDomain `yaml:"params,omitempty"`
}

func (e EstimatorSpace) paramNames() []string {
	names := make([]string, 0, len(e.Params))
	for name := range e.Params {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SearchSpace is the set of pipelines the search may build: one optional
// preprocessor followed by one estimator.
type SearchSpace struct {
	Preprocessors []string         `yaml:"preprocessors"`
	Estimators    []EstimatorSpace `yaml:"estimators"`
}

// DefaultClassificationSpace covers every classifier in the module.
func DefaultClassificationSpace() *SearchSpace {
	return &SearchSpace{
		Preprocessors: []string{PreprocessorNone, PreprocessorStandard, PreprocessorMinMax},
		Estimators: []EstimatorSpace{
			{Name: EstimatorLogistic, Params: map[string]ParamDomain{
				"C":       LogRange(1e-4, 25),
				"penalty": Choice("l2", "none"),
			}},
			{Name: EstimatorTree, Params: map[string]ParamDomain{
				"criterion":         Choice("gini", "entropy"),
				"max_depth":         IntRange(1, 10),
				"min_samples_split": IntRange(2, 20),
				"min_samples_leaf":  IntRange(1, 20),
			}},
			{Name: EstimatorGaussianNB, Params: map[string]ParamDomain{
				"var_smoothing": LogRange(1e-12, 1e-6),
			}},
			{Name: EstimatorMultinomialNB, Params: map[string]ParamDomain{
				"alpha":     LogRange(1e-3, 100),
				"fit_prior": Choice(true, false),
			}},
		},
	}
}

// DefaultRegressionSpace covers the regressors in the module.
func DefaultRegressionSpace() *SearchSpace {
	return &SearchSpace{
		Preprocessors: []string{PreprocessorNone, PreprocessorStandard, PreprocessorMinMax},
		Estimators: []EstimatorSpace{
			{Name: EstimatorLinear, Params: map[string]ParamDomain{
				"fit_intercept": Choice(true, false),
			}},
		},
	}
}

// Validate checks that every name is known, fits task and that every
// domain is well formed.
func (s *SearchSpace) Validate(task Task) error {
	if len(s.Preprocessors) == 0 {
		return errors.NewValidationError("preprocessors", "must list at least one preprocessor", s.Preprocessors)
	}
	for _, p := range s.Preprocessors {
		if _, ok := preprocessorFactories[p]; !ok && p != PreprocessorNone {
			return errors.NewValidationError("preprocessors", "unknown preprocessor", p)
		}
	}
	if len(s.Estimators) == 0 {
		return errors.NewValidationError("estimators", "must list at least one estimator", s.Estimators)
	}
	for _, e := range s.Estimators {
		entry, ok := estimatorFactories[e.Name]
		if !ok {
			return errors.NewValidationError("estimators", "unknown estimator", e.Name)
		}
		if entry.task != task {
			return errors.NewValidationError("estimators", fmt.Sprintf("%s cannot be used for %s", e.Name, task), e.Name)
		}
		for _, name := range e.paramNames() {
			if err := e.Params[name].validate(e.Name + "." + name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SearchSpace) estimator(name string) (EstimatorSpace, bool) {
	for _, e := range s.Estimators {
		if e.Name == name {
			return e, true
		}
	}
	return EstimatorSpace{}, false
}

// Random draws a genome uniformly over preprocessors, estimators and their
// hyperparameter domains.
func (s *SearchSpace) Random(rng *rand.Rand) Genome {
	est := s.Estimators[rng.Intn(len(s.Estimators))]
	return Genome{
		Preprocessor: s.Preprocessors[rng.Intn(len(s.Preprocessors))],
		Estimator:    est.Name,
		Params:       s.randomParams(est, rng),
	}
}

func (s *SearchSpace) randomParams(est EstimatorSpace, rng *rand.Rand) map[string]interface{} {
	params := make(map[string]interface{}, len(est.Params))
	for _, name := range est.paramNames() {
		params[name] = est.Params[name].sample(rng)
	}
	return params
}

// Mutate returns a copy of g with one of its parts redrawn: a single
// hyperparameter, the preprocessor or the whole estimator.
func (s *SearchSpace) Mutate(g Genome, rng *rand.Rand) Genome {
	out := g.Clone()
	est, ok := s.estimator(g.Estimator)
	if !ok {
		return s.Random(rng)
	}
	names := est.paramNames()

	r := rng.Float64()
	switch {
	case len(names) > 0 && r < 0.6:
		name := names[rng.Intn(len(names))]
		out.Params[name] = est.Params[name].sample(rng)
	case r < 0.8 && len(s.Preprocessors) > 1:
		out.Preprocessor = s.Preprocessors[rng.Intn(len(s.Preprocessors))]
	default:
		next := s.Estimators[rng.Intn(len(s.Estimators))]
		out.Estimator = next.Name
		out.Params = s.randomParams(next, rng)
	}
	return out
}

// Crossover combines two parents. Parents sharing an estimator mix their
// hyperparameters uniformly; otherwise the child keeps a's estimator and
// takes b's preprocessor.
func (s *SearchSpace) Crossover(a, b Genome, rng *rand.Rand) Genome {
	child := a.Clone()
	if rng.Intn(2) == 1 {
		child.Preprocessor = b.Preprocessor
	}
	if a.Estimator != b.Estimator {
		child.Preprocessor = b.Preprocessor
		return child
	}
	names := make([]string, 0, len(b.Params))
	for name := range b.Params {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if rng.Intn(2) == 1 {
			child.Params[name] = b.Params[name]
		}
	}
	return child
}
