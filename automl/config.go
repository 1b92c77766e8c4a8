package automl

import (
	"runtime"
	"strconv"
	"time"

	"github.com/YuminosukeSato/mltrack/metrics"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

// Task selects the kind of estimator the search may use.
type Task string

const (
	Classification Task = "classification"
	Regression     Task = "regression"
)

// Search defaults.
const (
	DefaultGenerations    = 100
	DefaultPopulationSize = 100
	DefaultMutationRate   = 0.9
	DefaultCrossoverRate  = 0.1
	DefaultCV             = 5
	DefaultMaxEvalTime    = 5 * time.Minute
	DefaultRandomState    = 42
)

// Regression scoring names. Classification scoring uses the binary metric
// battery names from the metrics package.
const (
	ScoreR2                = metrics.MetricR2
	ScoreMSE               = metrics.MetricMSE
	ScoreRMSE              = metrics.MetricRMSE
	ScoreMAE               = metrics.MetricMAE
	ScoreExplainedVariance = metrics.MetricExplainedVariance
)

var lowerIsBetter = map[string]bool{
	metrics.MetricFPR:     true,
	metrics.MetricFNR:     true,
	metrics.MetricFDR:     true,
	metrics.MetricLogLoss: true,
	ScoreMSE:              true,
	ScoreRMSE:             true,
	ScoreMAE:              true,
}

var regressionScores = map[string]bool{
	ScoreR2: true, ScoreMSE: true, ScoreRMSE: true, ScoreMAE: true, ScoreExplainedVariance: true,
}

// Config holds the evolutionary search settings. Zero durations and a zero
// EarlyStop disable the corresponding limit.
type Config struct {
	Task Task `yaml:"task"`

	Generations    int `yaml:"generations"`
	PopulationSize int `yaml:"population_size"`
	// OffspringSize defaults to PopulationSize when zero.
	OffspringSize int     `yaml:"offspring_size"`
	MutationRate  float64 `yaml:"mutation_rate"`
	CrossoverRate float64 `yaml:"crossover_rate"`
	CV            int     `yaml:"cv"`

	MaxTime     time.Duration `yaml:"max_time"`
	MaxEvalTime time.Duration `yaml:"max_eval_time"`
	EarlyStop   int           `yaml:"early_stop"`

	CheckpointFolder string `yaml:"periodic_checkpoint_folder"`
	Verbosity        int    `yaml:"verbosity"`
	// NJobs <= 0 uses every CPU.
	NJobs       int    `yaml:"n_jobs"`
	RandomState int64  `yaml:"random_state"`
	Scoring     string `yaml:"scoring"`

	// SearchSpace nil means the default space for Task.
	SearchSpace *SearchSpace `yaml:"search_space,omitempty"`
}

// DefaultConfig returns the settings used when no option overrides them.
func DefaultConfig() Config {
	return Config{
		Task:           Classification,
		Generations:    DefaultGenerations,
		PopulationSize: DefaultPopulationSize,
		MutationRate:   DefaultMutationRate,
		CrossoverRate:  DefaultCrossoverRate,
		CV:             DefaultCV,
		MaxEvalTime:    DefaultMaxEvalTime,
		RandomState:    DefaultRandomState,
		Scoring:        metrics.MetricAccuracy,
	}
}

// Validate checks ranges and that Scoring fits Task.
func (c Config) Validate() error {
	if c.Task != Classification && c.Task != Regression {
		return errors.NewValidationError("task", "must be classification or regression", c.Task)
	}
	if c.Generations < 1 {
		return errors.NewValidationError("generations", "must be at least 1", c.Generations)
	}
	if c.PopulationSize < 1 {
		return errors.NewValidationError("population_size", "must be at least 1", c.PopulationSize)
	}
	if c.OffspringSize < 0 {
		return errors.NewValidationError("offspring_size", "must not be negative", c.OffspringSize)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return errors.NewValidationError("mutation_rate", "must be in [0, 1]", c.MutationRate)
	}
	if c.CrossoverRate < 0 || c.CrossoverRate > 1 {
		return errors.NewValidationError("crossover_rate", "must be in [0, 1]", c.CrossoverRate)
	}
	if c.MutationRate+c.CrossoverRate > 1 {
		return errors.NewValidationError("crossover_rate", "mutation_rate + crossover_rate must not exceed 1", c.CrossoverRate)
	}
	if c.CV < 2 {
		return errors.NewValidationError("cv", "must be at least 2", c.CV)
	}
	if c.MaxTime < 0 {
		return errors.NewValidationError("max_time", "must not be negative", c.MaxTime)
	}
	if c.MaxEvalTime < 0 {
		return errors.NewValidationError("max_eval_time", "must not be negative", c.MaxEvalTime)
	}
	if c.EarlyStop < 0 {
		return errors.NewValidationError("early_stop", "must not be negative", c.EarlyStop)
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if c.SearchSpace != nil {
		return c.SearchSpace.Validate(c.Task)
	}
	return nil
}

func (c Config) validateScoring() error {
	name := c.scoring()
	if c.Task == Regression {
		if !regressionScores[name] {
			return errors.NewValidationError("scoring", "unknown regression metric", name)
		}
		return nil
	}
	if name == metrics.MetricConfusionMatrix {
		return errors.NewValidationError("scoring", "confusion_matrix is not a scalar", name)
	}
	for _, m := range metrics.BinaryMetricNames {
		if m == name {
			return nil
		}
	}
	return errors.NewValidationError("scoring", "unknown classification metric", name)
}

func (c Config) scoring() string {
	if c.Scoring != "" {
		return c.Scoring
	}
	if c.Task == Regression {
		return ScoreR2
	}
	return metrics.MetricAccuracy
}

func (c Config) offspring() int {
	if c.OffspringSize > 0 {
		return c.OffspringSize
	}
	return c.PopulationSize
}

func (c Config) jobs() int {
	if c.NJobs > 0 {
		return c.NJobs
	}
	return runtime.NumCPU()
}

func (c Config) space() *SearchSpace {
	if c.SearchSpace != nil {
		return c.SearchSpace
	}
	if c.Task == Regression {
		return DefaultRegressionSpace()
	}
	return DefaultClassificationSpace()
}

// Params renders the settings as run parameters. Disabled limits are logged
// as "None".
func (c Config) Params() map[string]string {
	space := "default"
	if c.SearchSpace != nil {
		space = "custom"
	}
	return map[string]string{
		"task":                       string(c.Task),
		"generations":                strconv.Itoa(c.Generations),
		"population_size":            strconv.Itoa(c.PopulationSize),
		"offspring_size":             strconv.Itoa(c.offspring()),
		"mutation_rate":              formatFloat(c.MutationRate),
		"crossover_rate":             formatFloat(c.CrossoverRate),
		"cv":                         strconv.Itoa(c.CV),
		"max_time_mins":              formatMinutes(c.MaxTime),
		"max_eval_time_mins":         formatMinutes(c.MaxEvalTime),
		"early_stop":                 noneIfZero(c.EarlyStop),
		"periodic_checkpoint_folder": noneIfEmpty(c.CheckpointFolder),
		"verbosity":                  strconv.Itoa(c.Verbosity),
		"n_jobs":                     strconv.Itoa(c.jobs()),
		"random_state":               strconv.FormatInt(c.RandomState, 10),
		"scoring":                    c.scoring(),
		"config_dict":                space,
	}
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func formatMinutes(d time.Duration) string {
	if d == 0 {
		return "None"
	}
	return formatFloat(d.Minutes())
}

func noneIfZero(v int) string {
	if v == 0 {
		return "None"
	}
	return strconv.Itoa(v)
}

func noneIfEmpty(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
