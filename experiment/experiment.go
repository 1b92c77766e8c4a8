// Package experiment selects (creating if needed) a named tracking
// experiment and starts runs in it.
package experiment

import (
	"context"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
	"github.com/YuminosukeSato/mltrack/run"
	"github.com/YuminosukeSato/mltrack/tracking"
)

// DefaultName is used when no experiment name is given.
const DefaultName = "Default"

// Experiment is a named experiment on the tracking server.
type Experiment struct {
	client  *tracking.Client
	name    string
	id      string
	runOpts []run.Option
	logger  log.Logger
}

// New selects the experiment called name, creating it when missing. An
// empty name selects "Default". runOpts are applied to every Run started
// from the experiment.
func New(ctx context.Context, client *tracking.Client, name string, runOpts ...run.Option) (*Experiment, error) {
	if client == nil {
		return nil, errors.NewValidationError("client", "a tracking client is required", nil)
	}
	if name == "" {
		name = DefaultName
	}
	id, err := setExperiment(ctx, client, name)
	if err != nil {
		return nil, err
	}
	e := &Experiment{
		client:  client,
		name:    name,
		id:      id,
		runOpts: runOpts,
		logger:  log.GetLoggerWithName("experiment").With(log.ExperimentNameKey, name, log.ExperimentIDKey, id),
	}
	e.logger.Debug("experiment selected")
	return e, nil
}

// setExperiment returns the id of name, creating the experiment if it does
// not exist. A concurrent creation is resolved by reading it back.
func setExperiment(ctx context.Context, client *tracking.Client, name string) (string, error) {
	exp, err := client.GetExperimentByName(ctx, name)
	if err == nil {
		if exp.LifecycleStage == "deleted" {
			return "", errors.NewValueError("experiment.New", "experiment "+name+" is deleted, restore it or pick another name")
		}
		return exp.ExperimentID, nil
	}
	if !errors.IsNotFound(err) {
		return "", err
	}
	id, err := client.CreateExperiment(ctx, name, nil)
	if err == nil {
		return id, nil
	}
	if !errors.IsAlreadyExists(err) {
		return "", err
	}
	exp, err = client.GetExperimentByName(ctx, name)
	if err != nil {
		return "", err
	}
	return exp.ExperimentID, nil
}

// Name returns the experiment name.
func (e *Experiment) Name() string { return e.name }

// ID returns the experiment id resolved when the experiment was selected.
func (e *Experiment) ID() string { return e.id }

// Client returns the tracking client.
func (e *Experiment) Client() *tracking.Client { return e.client }

// NewRun returns a Run bound to the experiment without starting it.
func (e *Experiment) NewRun() (*run.Run, error) {
	return run.New(e.client, e.id, e.runOpts...)
}

// StartLogging starts a run and returns it.
func (e *Experiment) StartLogging(ctx context.Context, runName string, nested bool) (*run.Run, error) {
	r, err := e.NewRun()
	if err != nil {
		return nil, err
	}
	if _, err := r.StartRun(ctx, runName, nested); err != nil {
		return nil, err
	}
	return r, nil
}

// LatestRunID returns the most recently started run of the experiment.
func (e *Experiment) LatestRunID(ctx context.Context) (string, error) {
	return run.LatestRunID(ctx, e.client, e.id)
}

// Experiments maps every experiment name on the server to its id.
func (e *Experiment) Experiments(ctx context.Context) (map[string]string, error) {
	exps, err := e.client.SearchExperiments(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(exps))
	for _, exp := range exps {
		out[exp.Name] = exp.ExperimentID
	}
	return out, nil
}

// ExperimentID looks the experiment up by name on the server.
func (e *Experiment) ExperimentID(ctx context.Context) (string, error) {
	all, err := e.Experiments(ctx)
	if err != nil {
		return "", err
	}
	id, ok := all[e.name]
	if !ok {
		return "", errors.NewValueError("Experiment.ExperimentID", "experiment "+e.name+" no longer exists")
	}
	return id, nil
}

// GetRunContext selects the experiment name and starts a run in it.
func GetRunContext(ctx context.Context, client *tracking.Client, name string, runOpts ...run.Option) (*run.Run, error) {
	e, err := New(ctx, client, name, runOpts...)
	if err != nil {
		return nil, err
	}
	return e.StartLogging(ctx, "", false)
}
