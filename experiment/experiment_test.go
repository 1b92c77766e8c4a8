package experiment

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/mltrack/tracking/trackingtest"
)

func TestNewCreatesOrSelects(t *testing.T) {
	srv := trackingtest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	e, err := New(ctx, client, "diabetes")
	require.NoError(t, err)
	assert.Equal(t, "diabetes", e.Name())
	assert.Equal(t, "1", e.ID())
	assert.Equal(t, 1, srv.Calls("experiments/create"))

	again, err := New(ctx, client, "diabetes")
	require.NoError(t, err)
	assert.Equal(t, e.ID(), again.ID())
	assert.Equal(t, 1, srv.Calls("experiments/create"), "existing experiments are reused")
}

func TestNewRereadsConcurrentlyCreatedExperiment(t *testing.T) {
	srv := trackingtest.NewServer(t)
	ctx := context.Background()

	other, err := New(ctx, srv.Client(t), "diabetes")
	require.NoError(t, err)

	// the lookup misses, so creation races with the other client and loses
	srv.FailNext("experiments/get-by-name", http.StatusNotFound)
	e, err := New(ctx, srv.Client(t), "diabetes")
	require.NoError(t, err)
	assert.Equal(t, other.ID(), e.ID())
	assert.Equal(t, 2, srv.Calls("experiments/create"))
	assert.Equal(t, 3, srv.Calls("experiments/get-by-name"))
}

func TestNewDefaultsName(t *testing.T) {
	srv := trackingtest.NewServer(t)
	e, err := New(context.Background(), srv.Client(t), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, e.Name())
	assert.Equal(t, "0", e.ID())
}

func TestNewErrors(t *testing.T) {
	_, err := New(context.Background(), nil, "x")
	assert.Error(t, err)

	srv := trackingtest.NewServer(t)
	srv.FailNext("experiments/get-by-name", http.StatusForbidden)
	_, err = New(context.Background(), srv.Client(t), "x")
	assert.Error(t, err)
	assert.Equal(t, 0, srv.Calls("experiments/create"))
}

func TestExperimentsAndID(t *testing.T) {
	srv := trackingtest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	e, err := New(ctx, client, "diabetes")
	require.NoError(t, err)
	_, err = New(ctx, client, "churn")
	require.NoError(t, err)

	all, err := e.Experiments(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Default": "0", "diabetes": "1", "churn": "2"}, all)

	id, err := e.ExperimentID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", id)
}

func TestStartLoggingAndLatestRun(t *testing.T) {
	srv := trackingtest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	e, err := New(ctx, client, "diabetes")
	require.NoError(t, err)

	_, err = e.LatestRunID(ctx)
	assert.Error(t, err)

	r, err := e.StartLogging(ctx, "baseline", false)
	require.NoError(t, err)
	runID, err := r.ActiveRunID()
	require.NoError(t, err)

	stored, ok := srv.Run(runID)
	require.True(t, ok)
	assert.Equal(t, "baseline", stored.Info.RunName)
	assert.Equal(t, "1", stored.Info.ExperimentID)

	latest, err := e.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, latest)
}

func TestGetRunContext(t *testing.T) {
	srv := trackingtest.NewServer(t)
	ctx := context.Background()

	r, err := GetRunContext(ctx, srv.Client(t), "model_train")
	require.NoError(t, err)
	runID, err := r.ActiveRunID()
	require.NoError(t, err)

	stored, _ := srv.Run(runID)
	assert.Equal(t, "tester", stored.Info.RunName)
	assert.Equal(t, "1", r.ExperimentID())
}
