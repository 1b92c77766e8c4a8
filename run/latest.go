package run

import (
	"context"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/tracking"
)

// LatestRunID returns the most recently started run of the experiment.
func (r *Run) LatestRunID(ctx context.Context) (string, error) {
	return LatestRunID(ctx, r.client, r.experimentID)
}

// LatestRunID returns the most recently started run of experimentID.
func LatestRunID(ctx context.Context, client *tracking.Client, experimentID string) (string, error) {
	runs, err := client.SearchRuns(ctx, []string{experimentID}, tracking.SearchRunsOptions{MaxResults: 1})
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.NewValueError("LatestRunID", "experiment "+experimentID+" has no runs")
	}
	return runs[0].Info.RunID, nil
}

func (r *Run) latest(ctx context.Context) (*tracking.Run, error) {
	id, err := r.LatestRunID(ctx)
	if err != nil {
		return nil, err
	}
	return r.client.GetRun(ctx, id)
}

// LatestArtifacts lists every file logged to the latest run, descending
// into artifact directories such as log_data/v0.
func (r *Run) LatestArtifacts(ctx context.Context) ([]tracking.Artifact, error) {
	id, err := r.LatestRunID(ctx)
	if err != nil {
		return nil, err
	}
	return r.listFiles(ctx, id, "")
}

func (r *Run) listFiles(ctx context.Context, runID, dir string) ([]tracking.Artifact, error) {
	entries, err := r.client.ListArtifacts(ctx, runID, dir)
	if err != nil {
		return nil, err
	}
	var files []tracking.Artifact
	for _, a := range entries {
		if !a.IsDir {
			files = append(files, a)
			continue
		}
		nested, err := r.listFiles(ctx, runID, a.Path)
		if err != nil {
			return nil, err
		}
		files = append(files, nested...)
	}
	return files, nil
}

// LatestMetrics returns the metrics of the latest run.
func (r *Run) LatestMetrics(ctx context.Context) (map[string]float64, error) {
	run, err := r.latest(ctx)
	if err != nil {
		return nil, err
	}
	return run.Data.MetricMap(), nil
}

// LatestParams returns the params of the latest run.
func (r *Run) LatestParams(ctx context.Context) (map[string]string, error) {
	run, err := r.latest(ctx)
	if err != nil {
		return nil, err
	}
	return run.Data.ParamMap(), nil
}
