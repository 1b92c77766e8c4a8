package tracking

import (
	"context"
	"net/url"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
)

// CreateExperiment registers a new experiment and returns its id.
func (c *Client) CreateExperiment(ctx context.Context, name string, tags []ExperimentTag) (string, error) {
	if name == "" {
		return "", errors.NewValidationError("name", "experiment name must not be empty", name)
	}
	var resp createExperimentResponse
	err := c.call(ctx, "CreateExperiment", "POST", "experiments/create", nil,
		createExperimentRequest{Name: name, Tags: tags}, &resp)
	if err != nil {
		return "", err
	}
	c.logger.Info("experiment created", log.ExperimentNameKey, name, log.ExperimentIDKey, resp.ExperimentID)
	return resp.ExperimentID, nil
}

// GetExperiment fetches an experiment by id.
func (c *Client) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	var resp experimentResponse
	err := c.call(ctx, "GetExperiment", "GET", "experiments/get",
		url.Values{"experiment_id": {id}}, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Experiment, nil
}

// GetExperimentByName fetches an experiment by name. A missing experiment
// is reported as a TrackingError for which errors.IsNotFound holds.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var resp experimentResponse
	err := c.call(ctx, "GetExperimentByName", "GET", "experiments/get-by-name",
		url.Values{"experiment_name": {name}}, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Experiment, nil
}

// SearchExperiments lists every active experiment, following page tokens.
func (c *Client) SearchExperiments(ctx context.Context) ([]Experiment, error) {
	var (
		experiments []Experiment
		token       string
	)
	for {
		var resp searchExperimentsResponse
		err := c.call(ctx, "SearchExperiments", "POST", "experiments/search", nil,
			searchExperimentsRequest{MaxResults: 1000, PageToken: token}, &resp)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, resp.Experiments...)
		if resp.NextPageToken == "" {
			return experiments, nil
		}
		token = resp.NextPageToken
	}
}
