// Package automl searches for a preprocessing + estimator pipeline with an
// evolutionary algorithm and records the search in a tracking run.
package automl

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/afero"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mltrack/dataset"
	"github.com/YuminosukeSato/mltrack/experiment"
	"github.com/YuminosukeSato/mltrack/metrics"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
	"github.com/YuminosukeSato/mltrack/run"
	"github.com/YuminosukeSato/mltrack/tracking"
)

// Metric names logged by the wrapper.
const (
	ScoreMetric   = "automl_score"
	CVScoreMetric = "automl_cv_score"
	PipelineTag   = "automl.pipeline"

	runTimeLayout = "02012006150405"
)

// AutoML couples a pipeline search with an experiment. Fit starts a run
// that stays active until Close so later scores land in the same run.
type AutoML struct {
	cfg      Config
	logger   log.Logger
	now      func() time.Time
	progress chan<- Progress
	runOpts  []run.Option

	client     *tracking.Client
	experiment *experiment.Experiment
	run        *run.Run

	training, trainingTarget     *dataset.Frame
	validation, validationTarget *dataset.Frame

	result   *SearchResult
	pipeline *Pipeline
}

// Option configures an AutoML.
type Option func(*AutoML)

// WithConfig replaces the whole search configuration.
func WithConfig(cfg Config) Option { return func(a *AutoML) { a.cfg = cfg } }

// WithTask selects classification or regression. The scoring metric
// follows the task unless WithScoring is also given.
func WithTask(task Task) Option {
	return func(a *AutoML) {
		a.cfg.Task = task
		if task == Regression && a.cfg.Scoring == metrics.MetricAccuracy {
			a.cfg.Scoring = ScoreR2
		}
	}
}

func WithGenerations(n int) Option       { return func(a *AutoML) { a.cfg.Generations = n } }
func WithPopulationSize(n int) Option    { return func(a *AutoML) { a.cfg.PopulationSize = n } }
func WithOffspringSize(n int) Option     { return func(a *AutoML) { a.cfg.OffspringSize = n } }
func WithMutationRate(r float64) Option  { return func(a *AutoML) { a.cfg.MutationRate = r } }
func WithCrossoverRate(r float64) Option { return func(a *AutoML) { a.cfg.CrossoverRate = r } }
func WithCV(folds int) Option            { return func(a *AutoML) { a.cfg.CV = folds } }
func WithMaxTime(d time.Duration) Option { return func(a *AutoML) { a.cfg.MaxTime = d } }
func WithMaxEvalTime(d time.Duration) Option {
	return func(a *AutoML) { a.cfg.MaxEvalTime = d }
}
func WithEarlyStop(generations int) Option { return func(a *AutoML) { a.cfg.EarlyStop = generations } }
func WithCheckpointFolder(dir string) Option {
	return func(a *AutoML) { a.cfg.CheckpointFolder = dir }
}
func WithVerbosity(v int) Option            { return func(a *AutoML) { a.cfg.Verbosity = v } }
func WithNJobs(n int) Option                { return func(a *AutoML) { a.cfg.NJobs = n } }
func WithRandomState(seed int64) Option     { return func(a *AutoML) { a.cfg.RandomState = seed } }
func WithScoring(metric string) Option      { return func(a *AutoML) { a.cfg.Scoring = metric } }
func WithSearchSpace(s *SearchSpace) Option { return func(a *AutoML) { a.cfg.SearchSpace = s } }

// WithLogger replaces the package logger.
func WithLogger(l log.Logger) Option { return func(a *AutoML) { a.logger = l } }

// WithClock overrides the clock used for run names and elapsed time.
func WithClock(now func() time.Time) Option { return func(a *AutoML) { a.now = now } }

// WithProgress receives one update per generation. Sends never block; a
// full channel drops the update.
func WithProgress(ch chan<- Progress) Option { return func(a *AutoML) { a.progress = ch } }

// WithRunOptions configures the run started by Fit.
func WithRunOptions(opts ...run.Option) Option {
	return func(a *AutoML) { a.runOpts = append(a.runOpts, opts...) }
}

// New validates the data and selects (or creates) the experiment name.
// The validation frames are optional; without them Predict, PredictProba
// and GetAllScores need explicit inputs.
func New(ctx context.Context, client *tracking.Client, name string,
	training, trainingTarget, validation, validationTarget *dataset.Frame, opts ...Option) (*AutoML, error) {
	if client == nil {
		return nil, errors.NewValidationError("client", "a tracking client is required", nil)
	}
	if err := checkPair("training", training, trainingTarget); err != nil {
		return nil, err
	}
	if validation != nil || validationTarget != nil {
		if err := checkPair("validation", validation, validationTarget); err != nil {
			return nil, err
		}
		if !slices.Equal(validation.Columns, training.Columns) {
			return nil, errors.NewValidationError("validation", "columns differ from the training data", validation.Columns)
		}
	}

	a := &AutoML{
		cfg:              DefaultConfig(),
		logger:           log.GetLoggerWithName("automl"),
		now:              time.Now,
		client:           client,
		training:         training,
		trainingTarget:   trainingTarget,
		validation:       validation,
		validationTarget: validationTarget,
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	exp, err := experiment.New(ctx, client, name, append([]run.Option{run.WithClock(a.now)}, a.runOpts...)...)
	if err != nil {
		return nil, err
	}
	a.experiment = exp
	return a, nil
}

func checkPair(name string, X, y *dataset.Frame) error {
	if X == nil || y == nil {
		return errors.NewValidationError(name, "data and target are both required", nil)
	}
	n, _ := X.Dims()
	if n == 0 {
		return errors.NewModelError("automl.New", name+" data is empty", errors.ErrEmptyData)
	}
	yRows, yCols := y.Dims()
	if yCols != 1 {
		return errors.NewDimensionError("automl.New", 1, yCols, 1)
	}
	if yRows != n {
		return errors.NewDimensionError("automl.New", n, yRows, 0)
	}
	return nil
}

// Config returns the search configuration.
func (a *AutoML) Config() Config { return a.cfg }

// Experiment returns the experiment the runs are logged to.
func (a *AutoML) Experiment() *experiment.Experiment { return a.experiment }

// Run returns the run started by Fit, or nil before Fit.
func (a *AutoML) Run() *run.Run { return a.run }

// FittedPipeline returns the refitted best pipeline, or nil before Fit.
func (a *AutoML) FittedPipeline() *Pipeline { return a.pipeline }

// Result returns the search summary, or nil before Fit.
func (a *AutoML) Result() *SearchResult { return a.result }

// Fit starts a run named <experiment>_run_automl_<ddmmyyyyHHMMSS>, logs the
// search settings and the training data, searches and refits the best
// pipeline on the whole training set. The run is marked FAILED when the
// search fails. Calling Fit again first ends the previous run as FINISHED.
func (a *AutoML) Fit(ctx context.Context) error {
	if err := a.Close(ctx); err != nil {
		return errors.Wrap(err, "end previous run")
	}
	runName := fmt.Sprintf("%s_run_automl_%s", a.experiment.Name(), a.now().Format(runTimeLayout))
	r, err := a.experiment.StartLogging(ctx, runName, false)
	if err != nil {
		return err
	}
	a.run = r

	if err := a.fit(ctx); err != nil {
		if endErr := r.EndRunWithStatus(context.WithoutCancel(ctx), tracking.RunStatusFailed); endErr != nil {
			a.logger.Warn("could not mark run failed", endErr)
		}
		return err
	}
	return nil
}

func (a *AutoML) fit(ctx context.Context) error {
	if err := a.run.LogParams(ctx, a.cfg.Params()); err != nil {
		return err
	}
	if err := a.run.LogData(ctx, "training_data", a.training); err != nil {
		return err
	}
	if err := a.run.LogData(ctx, "training_target", a.trainingTarget); err != nil {
		return err
	}

	y, err := a.trainingTarget.Vector()
	if err != nil {
		return err
	}
	s, err := newSearcher(a.cfg, a.training.Data, y)
	if err != nil {
		return err
	}
	s.fs = a.client.Fs()
	s.logger = a.logger
	s.now = a.now
	s.progress = a.progress

	a.logger.Info("search started",
		log.SamplesKey, y.Len(),
		log.FeaturesKey, len(a.training.Columns),
		"generations", a.cfg.Generations,
		"population_size", a.cfg.PopulationSize,
	)
	result, err := s.run(ctx)
	if err != nil {
		return err
	}

	p, err := NewPipeline(result.Best.Genome, a.cfg.Task, a.cfg.RandomState)
	if err != nil {
		return err
	}
	if err := errors.SafeExecute("automl.Fit", func() error { return p.Fit(a.training.Data, y) }); err != nil {
		return errors.Wrap(err, "refit best pipeline")
	}
	a.result, a.pipeline = result, p

	spec := newPipelineSpec(a.cfg, result.Best, result.Evaluated)
	if err := a.run.LogMetric(ctx, CVScoreMetric, spec.CVScore); err != nil {
		return err
	}
	if err := a.run.SetTag(ctx, PipelineTag, p.String()); err != nil {
		return err
	}
	a.logger.Info("search finished",
		log.PipelineKey, p.String(),
		log.ScoreKey, spec.CVScore,
		log.EvaluatedKey, result.Evaluated,
		log.GenerationKey, result.Generations,
		"stop_reason", result.StopReason,
	)
	return nil
}

func (a *AutoML) fitted(op string) error {
	if !a.pipeline.IsFitted() {
		return errors.NewNotFittedError("AutoML", op)
	}
	return nil
}

// Score evaluates the fitted pipeline with the configured metric and logs
// it as automl_score. Nil inputs default to the training data.
func (a *AutoML) Score(ctx context.Context, X, y *dataset.Frame) (float64, error) {
	if err := a.fitted("Score"); err != nil {
		return 0, err
	}
	if X == nil {
		X = a.training
	}
	if y == nil {
		y = a.trainingTarget
	}
	if err := checkPair("score", X, y); err != nil {
		return 0, err
	}
	yv, err := y.Vector()
	if err != nil {
		return 0, err
	}
	score, err := a.pipeline.Score(X.Data, yv, a.cfg.scoring())
	if err != nil {
		return 0, err
	}
	if err := a.run.LogMetric(ctx, ScoreMetric, score); err != nil {
		return 0, err
	}
	return score, nil
}

func (a *AutoML) input(op string, X *dataset.Frame) (*dataset.Frame, error) {
	if err := a.fitted(op); err != nil {
		return nil, err
	}
	if X == nil {
		X = a.validation
	}
	if X == nil {
		return nil, errors.NewValidationError("X", "no data given and no validation data set", nil)
	}
	return X, nil
}

// Predict returns predictions for X, defaulting to the validation data.
func (a *AutoML) Predict(X *dataset.Frame) (*mat.VecDense, error) {
	X, err := a.input("Predict", X)
	if err != nil {
		return nil, err
	}
	return a.pipeline.Predict(X.Data)
}

// PredictProba returns positive-class probabilities for X, defaulting to
// the validation data.
func (a *AutoML) PredictProba(X *dataset.Frame) (*mat.VecDense, error) {
	X, err := a.input("PredictProba", X)
	if err != nil {
		return nil, err
	}
	return a.pipeline.PredictProba(X.Data)
}

// GetAllScores computes the binary metric battery of the validation
// predictions at threshold and logs each entry as automl_score_<metric>.
// A nil y uses the validation target. Logging failures are reported as
// warnings and do not fail the call.
func (a *AutoML) GetAllScores(ctx context.Context, y *dataset.Frame, threshold float64) (*metrics.BinaryReport, error) {
	if a.cfg.Task != Classification {
		return nil, errors.NewValueError("AutoML.GetAllScores", "the binary metric battery needs a classification task")
	}
	proba, err := a.PredictProba(nil)
	if err != nil {
		return nil, err
	}
	if y == nil {
		y = a.validationTarget
	}
	if y == nil {
		return nil, errors.NewValidationError("y", "no target given and no validation target set", nil)
	}
	yv, err := y.Vector()
	if err != nil {
		return nil, err
	}
	report, err := metrics.BinaryClassificationReport(yv, proba, threshold)
	if err != nil {
		return nil, err
	}

	scores := report.AsMap()
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		key := ScoreMetric + "_" + name
		if err := a.run.LogMetric(ctx, key, scores[name]); err != nil {
			errors.Warn(errors.NewTrackingWarning("AutoML.GetAllScores", key, err))
		}
	}
	a.logger.Info("scores logged", log.ThresholdKey, threshold, log.SamplesKey, yv.Len())
	return report, nil
}

// PipelineSpec describes the fitted pipeline.
func (a *AutoML) PipelineSpec() (PipelineSpec, error) {
	if err := a.fitted("PipelineSpec"); err != nil {
		return PipelineSpec{}, err
	}
	return newPipelineSpec(a.cfg, a.result.Best, a.result.Evaluated), nil
}

// Export writes the fitted pipeline as YAML to fileName on the client's
// filesystem and logs it as an artifact at the run's root.
func (a *AutoML) Export(ctx context.Context, fileName string) error {
	spec, err := a.PipelineSpec()
	if err != nil {
		return err
	}
	if fileName == "" {
		return errors.NewValidationError("file_name", "must not be empty", fileName)
	}
	if err := writeSpecFile(a.client.Fs(), fileName, spec); err != nil {
		return err
	}
	return a.run.LogArtifact(ctx, fileName, "")
}

// LoadPipelineSpec reads a pipeline exported by Export.
func LoadPipelineSpec(fs afero.Fs, path string) (*PipelineSpec, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return ReadPipelineSpec(f)
}

// Close ends the run started by Fit.
func (a *AutoML) Close(ctx context.Context) error {
	if a.run == nil {
		return nil
	}
	return a.run.EndRun(ctx)
}
