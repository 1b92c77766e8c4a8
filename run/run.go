// Package run wraps a tracking run: start and end it, log metrics, params
// and tags against it, and stage objects and data samples as artifacts.
package run

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/YuminosukeSato/mltrack/datautil"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
	"github.com/YuminosukeSato/mltrack/tracking"
)

// Run tracks the active run of one experiment. Nested runs are kept on a
// stack; the innermost one is active. Safe for concurrent use.
type Run struct {
	client       *tracking.Client
	experimentID string
	artefactRoot string
	logger       log.Logger
	now          func() time.Time

	mu    sync.Mutex
	stack []string
}

// Option configures a Run.
type Option func(*Run)

// WithArtefactRoot sets the local staging directory (default run_custom_artefacts).
func WithArtefactRoot(root string) Option {
	return func(r *Run) { r.artefactRoot = root }
}

// WithLogger replaces the package logger.
func WithLogger(l log.Logger) Option {
	return func(r *Run) { r.logger = l }
}

// WithClock overrides the clock used for serialized file names.
func WithClock(now func() time.Time) Option {
	return func(r *Run) { r.now = now }
}

// New returns a Run bound to experimentID. Files are staged on the
// client's filesystem so the client can upload them.
func New(client *tracking.Client, experimentID string, opts ...Option) (*Run, error) {
	if client == nil {
		return nil, errors.NewValidationError("client", "a tracking client is required", nil)
	}
	if experimentID == "" {
		return nil, errors.NewValidationError("experiment_id", "must not be empty", experimentID)
	}
	r := &Run{
		client:       client,
		experimentID: experimentID,
		artefactRoot: client.Config().ArtefactRoot,
		logger:       log.GetLoggerWithName("run"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.artefactRoot == "" {
		r.artefactRoot = datautil.DefaultArtefactRoot
	}
	r.logger = r.logger.With(log.ExperimentIDKey, experimentID)
	return r, nil
}

// ExperimentID returns the experiment the runs belong to.
func (r *Run) ExperimentID() string { return r.experimentID }

// Client returns the tracking client.
func (r *Run) Client() *tracking.Client { return r.client }

func (r *Run) fs() afero.Fs { return r.client.Fs() }

// StartRun starts a run named runName, or the configured user name when
// empty. Starting a second run requires nested, in which case the new run
// is tagged with its parent.
func (r *Run) StartRun(ctx context.Context, runName string, nested bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if runName == "" {
		runName = r.client.Config().UserName()
	}
	var tags []tracking.RunTag
	if len(r.stack) > 0 {
		parent := r.stack[len(r.stack)-1]
		if !nested {
			return "", errors.NewValueError("Run.StartRun",
				"run "+parent+" is already active, end it first or start a nested run")
		}
		tags = append(tags, tracking.RunTag{Key: tracking.TagParentRunID, Value: parent})
	}
	run, err := r.client.CreateRun(ctx, r.experimentID, runName, tags)
	if err != nil {
		return "", err
	}
	r.stack = append(r.stack, run.Info.RunID)
	r.logger.Info("run started", log.RunIDKey, run.Info.RunID, log.RunNameKey, runName, "nested", len(r.stack) > 1)
	return run.Info.RunID, nil
}

// EndRun finishes the active run. It is a no-op when no run is active.
func (r *Run) EndRun(ctx context.Context) error {
	return r.EndRunWithStatus(ctx, tracking.RunStatusFinished)
}

// EndRunWithStatus ends the active run with a terminal status and makes
// its parent, if any, active again.
func (r *Run) EndRunWithStatus(ctx context.Context, status tracking.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stack) == 0 {
		return nil
	}
	runID := r.stack[len(r.stack)-1]
	if err := r.client.TerminateRun(ctx, runID, status); err != nil {
		return err
	}
	r.stack = r.stack[:len(r.stack)-1]
	return nil
}

// ActiveRunID returns the id of the innermost active run.
func (r *Run) ActiveRunID() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stack) == 0 {
		return "", errors.NewNoActiveRunError("Run.ActiveRunID")
	}
	return r.stack[len(r.stack)-1], nil
}

// LogMetric logs a metric at step 0 against the active run.
func (r *Run) LogMetric(ctx context.Context, key string, value float64) error {
	return r.LogMetricStep(ctx, key, value, 0)
}

// LogMetricStep logs a metric at step against the active run.
func (r *Run) LogMetricStep(ctx context.Context, key string, value float64, step int64) error {
	runID, err := r.ActiveRunID()
	if err != nil {
		return err
	}
	return r.client.LogMetric(ctx, runID, key, value, step)
}

// LogParam logs a string parameter against the active run.
func (r *Run) LogParam(ctx context.Context, key, value string) error {
	runID, err := r.ActiveRunID()
	if err != nil {
		return err
	}
	return r.client.LogParam(ctx, runID, key, value)
}

// LogParams logs several parameters in one batch, in key order.
func (r *Run) LogParams(ctx context.Context, params map[string]string) error {
	runID, err := r.ActiveRunID()
	if err != nil {
		return err
	}
	batch := make([]tracking.Param, 0, len(params))
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		batch = append(batch, tracking.Param{Key: k, Value: params[k]})
	}
	return r.client.LogBatch(ctx, runID, nil, batch, nil)
}

// SetTag sets a tag on the active run.
func (r *Run) SetTag(ctx context.Context, key, value string) error {
	runID, err := r.ActiveRunID()
	if err != nil {
		return err
	}
	return r.client.SetTag(ctx, runID, key, value)
}

// LogArtifact uploads a local file or directory to the active run under
// artifactPath.
func (r *Run) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	runID, err := r.ActiveRunID()
	if err != nil {
		return err
	}
	return r.client.LogArtifact(ctx, runID, localPath, artifactPath)
}

// ActiveRunAttributes returns the metrics, params and tags of the active run.
func (r *Run) ActiveRunAttributes(ctx context.Context) (*tracking.RunData, error) {
	runID, err := r.ActiveRunID()
	if err != nil {
		return nil, err
	}
	run, err := r.client.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &run.Data, nil
}

// ArtefactFolder creates and returns the staging folder of kind for the
// active run.
func (r *Run) ArtefactFolder(kind datautil.ArtefactKind) (string, error) {
	runID, err := r.ActiveRunID()
	if err != nil {
		return "", err
	}
	return datautil.CustomArtefactFolder(r.fs(), r.artefactRoot, runID, kind)
}
