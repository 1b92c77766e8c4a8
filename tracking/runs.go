package tracking

import (
	"context"
	"net/url"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
)

// CreateRun starts a run in experimentID. The run name is also stored as
// the mlflow.runName tag so older servers display it.
func (c *Client) CreateRun(ctx context.Context, experimentID, runName string, tags []RunTag) (*Run, error) {
	if experimentID == "" {
		return nil, errors.NewValidationError("experiment_id", "must not be empty", experimentID)
	}
	if runName != "" {
		tags = append(append([]RunTag(nil), tags...), RunTag{Key: TagRunName, Value: runName})
	}
	var resp runResponse
	err := c.call(ctx, "CreateRun", "POST", "runs/create", nil, createRunRequest{
		ExperimentID: experimentID,
		UserID:       c.cfg.UserName(),
		RunName:      runName,
		StartTime:    c.millis(),
		Tags:         tags,
	}, &resp)
	if err != nil {
		return nil, err
	}
	c.logger.Info("run created",
		log.ExperimentIDKey, experimentID,
		log.RunIDKey, resp.Run.Info.RunID,
		log.RunNameKey, runName,
	)
	return &resp.Run, nil
}

// UpdateRun sets the run status. A zero endTime leaves the end time unset.
func (c *Client) UpdateRun(ctx context.Context, runID string, status RunStatus, endTime int64) (*RunInfo, error) {
	var resp updateRunResponse
	err := c.call(ctx, "UpdateRun", "POST", "runs/update", nil,
		updateRunRequest{RunID: runID, Status: status, EndTime: endTime}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.RunInfo, nil
}

// TerminateRun marks the run with a terminal status ending now.
func (c *Client) TerminateRun(ctx context.Context, runID string, status RunStatus) error {
	if !status.Terminal() {
		return errors.NewValidationError("status", "not a terminal run status", status)
	}
	_, err := c.UpdateRun(ctx, runID, status, c.millis())
	if err == nil {
		c.logger.Info("run terminated", log.RunIDKey, runID, log.RunStatusKey, string(status))
	}
	return err
}

// GetRun fetches a run with its metrics, params and tags.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	if runID == "" {
		return nil, errors.NewValidationError("run_id", "must not be empty", runID)
	}
	var resp runResponse
	err := c.call(ctx, "GetRun", "GET", "runs/get", url.Values{"run_id": {runID}}, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Run, nil
}

// DeleteRun marks a run as deleted.
func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	return c.call(ctx, "DeleteRun", "POST", "runs/delete", nil, runIDRequest{RunID: runID}, nil)
}

// SearchRuns lists the runs of the given experiments, following page
// tokens. Without an explicit order the newest run comes first.
func (c *Client) SearchRuns(ctx context.Context, experimentIDs []string, opts SearchRunsOptions) ([]Run, error) {
	if len(experimentIDs) == 0 {
		return nil, errors.NewValidationError("experiment_ids", "at least one experiment is required", experimentIDs)
	}
	orderBy := opts.OrderBy
	if len(orderBy) == 0 {
		orderBy = []string{DefaultRunOrder}
	}
	var (
		runs  []Run
		token string
	)
	for {
		var resp searchRunsResponse
		err := c.call(ctx, "SearchRuns", "POST", "runs/search", nil, searchRunsRequest{
			ExperimentIDs: experimentIDs,
			Filter:        opts.Filter,
			MaxResults:    opts.MaxResults,
			OrderBy:       orderBy,
			PageToken:     token,
		}, &resp)
		if err != nil {
			return nil, err
		}
		runs = append(runs, resp.Runs...)
		if resp.NextPageToken == "" || (opts.MaxResults > 0 && len(runs) >= opts.MaxResults) {
			return runs, nil
		}
		token = resp.NextPageToken
	}
}

// LogMetric records one metric value at step.
func (c *Client) LogMetric(ctx context.Context, runID, key string, value float64, step int64) error {
	if key == "" {
		return errors.NewValidationError("key", "metric key must not be empty", key)
	}
	err := c.call(ctx, "LogMetric", "POST", "runs/log-metric", nil, logMetricRequest{
		RunID: runID, Key: key, Value: value, Timestamp: c.millis(), Step: step,
	}, nil)
	if err != nil {
		return err
	}
	c.logger.Debug("metric logged", log.RunIDKey, runID, log.MetricKeyKey, key, log.MetricValueKey, value)
	return nil
}

// LogParam records a string parameter. Params are immutable on the server.
func (c *Client) LogParam(ctx context.Context, runID, key, value string) error {
	if key == "" {
		return errors.NewValidationError("key", "param key must not be empty", key)
	}
	err := c.call(ctx, "LogParam", "POST", "runs/log-parameter", nil,
		keyValueRequest{RunID: runID, Key: key, Value: value}, nil)
	if err != nil {
		return err
	}
	c.logger.Debug("param logged", log.RunIDKey, runID, log.ParamKeyKey, key)
	return nil
}

// SetTag sets a tag on the run, overwriting any previous value.
func (c *Client) SetTag(ctx context.Context, runID, key, value string) error {
	return c.call(ctx, "SetTag", "POST", "runs/set-tag", nil,
		keyValueRequest{RunID: runID, Key: key, Value: value}, nil)
}

// LogBatch records metrics, params and tags in one request. Metrics
// without a timestamp get the current time.
func (c *Client) LogBatch(ctx context.Context, runID string, metrics []Metric, params []Param, tags []RunTag) error {
	if len(metrics)+len(params)+len(tags) == 0 {
		return nil
	}
	now := c.millis()
	stamped := make([]Metric, len(metrics))
	for i, m := range metrics {
		if m.Timestamp == 0 {
			m.Timestamp = now
		}
		stamped[i] = m
	}
	return c.call(ctx, "LogBatch", "POST", "runs/log-batch", nil,
		logBatchRequest{RunID: runID, Metrics: stamped, Params: params, Tags: tags}, nil)
}
