package run

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mltrack/dataset"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/tracking"
	"github.com/YuminosukeSato/mltrack/tracking/trackingtest"
)

var clock = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC) }

type fixture struct {
	srv *trackingtest.Server
	fs  afero.Fs
	run *Run
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	srv := trackingtest.NewServer(t)
	fs := afero.NewMemMapFs()
	client := srv.Client(t, tracking.WithFs(fs), tracking.WithClock(clock))
	r, err := New(client, "0", WithClock(clock))
	require.NoError(t, err)
	return fixture{srv: srv, fs: fs, run: r}
}

type trainedModel struct {
	Name string
	Coef []float64
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, "0")
	assert.Error(t, err)

	srv := trackingtest.NewServer(t)
	_, err = New(srv.Client(t), "")
	assert.Error(t, err)
}

func TestStartRunDefaultsName(t *testing.T) {
	srv := trackingtest.NewServer(t)
	cfg := srv.Config()
	cfg.User, cfg.SystemUser = "", ""
	client, err := tracking.NewClient(cfg, tracking.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	r, err := New(client, "0")
	require.NoError(t, err)

	id, err := r.StartRun(context.Background(), "", false)
	require.NoError(t, err)
	stored, ok := srv.Run(id)
	require.True(t, ok)
	assert.Equal(t, "user_name", stored.Info.RunName)
}

func TestRunLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.run.ActiveRunID()
	var noRun *errors.NoActiveRunError
	require.True(t, errors.As(err, &noRun))
	require.NoError(t, f.run.EndRun(ctx), "ending without an active run is a no-op")

	parent, err := f.run.StartRun(ctx, "training", false)
	require.NoError(t, err)

	_, err = f.run.StartRun(ctx, "again", false)
	assert.Error(t, err, "a second top-level run needs nested")

	child, err := f.run.StartRun(ctx, "fold-1", true)
	require.NoError(t, err)
	active, err := f.run.ActiveRunID()
	require.NoError(t, err)
	assert.Equal(t, child, active)

	stored, _ := f.srv.Run(child)
	assert.Equal(t, parent, stored.Data.TagMap()[tracking.TagParentRunID])

	require.NoError(t, f.run.EndRunWithStatus(ctx, tracking.RunStatusFailed))
	active, err = f.run.ActiveRunID()
	require.NoError(t, err)
	assert.Equal(t, parent, active)

	require.NoError(t, f.run.EndRun(ctx))
	_, err = f.run.ActiveRunID()
	assert.Error(t, err)

	stored, _ = f.srv.Run(child)
	assert.Equal(t, tracking.RunStatusFailed, stored.Info.Status)
	stored, _ = f.srv.Run(parent)
	assert.Equal(t, tracking.RunStatusFinished, stored.Info.Status)
}

func TestLoggingNeedsActiveRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var noRun *errors.NoActiveRunError
	assert.True(t, errors.As(f.run.LogMetric(ctx, "Accuracy", 0.7), &noRun))
	assert.True(t, errors.As(f.run.LogParam(ctx, "C", "1"), &noRun))
	_, err := f.run.LogObject(ctx, trainedModel{}, "model")
	assert.True(t, errors.As(err, &noRun))
	assert.True(t, errors.As(f.run.LogData(ctx, "data", smallFrame(t, 5)), &noRun))
}

func TestLogMetricsParamsAndTags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.run.StartRun(ctx, "", false)
	require.NoError(t, err)

	require.NoError(t, f.run.LogMetric(ctx, "Accuracy", 0.78))
	require.NoError(t, f.run.LogMetricStep(ctx, "loss", 0.4, 3))
	require.NoError(t, f.run.LogParam(ctx, "Regularization Rate", "0.01"))
	require.NoError(t, f.run.LogParams(ctx, map[string]string{"solver": "lbfgs", "max_iter": "100"}))
	require.NoError(t, f.run.SetTag(ctx, "stage", "dev"))

	data, err := f.run.ActiveRunAttributes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"Accuracy": 0.78, "loss": 0.4}, data.MetricMap())
	assert.Equal(t, map[string]string{
		"Regularization Rate": "0.01",
		"solver":              "lbfgs",
		"max_iter":            "100",
	}, data.ParamMap())
	assert.Equal(t, "dev", data.TagMap()["stage"])
}

func TestSerializeForLogging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.run.StartRun(ctx, "", false)
	require.NoError(t, err)

	model := trainedModel{Name: "logreg", Coef: []float64{0.5, -1.25}}
	path, err := f.run.SerializeForLogging(model, "model_trained")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("run_custom_artefacts", id, "log_object", "v0", "01032024123045model_trained.gob"), path)

	var decoded trainedModel
	require.NoError(t, f.run.LoadObject(path, &decoded))
	assert.Equal(t, model, decoded)

	_, err = f.run.SerializeForLogging(make(chan int), "channel")
	var serr *errors.SerializationError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "channel", serr.Name)

	_, err = f.run.SerializeForLogging(model, "")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(f.fs, "corrupt.gob", []byte("not gob"), 0o644))
	err = f.run.LoadObject("corrupt.gob", &decoded)
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "corrupt.gob", serr.Name)
}

func TestLogObjectUploads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.run.StartRun(ctx, "", false)
	require.NoError(t, err)

	_, err = f.run.LogObject(ctx, trainedModel{Name: "m"}, "model_trained")
	require.NoError(t, err)
	_, ok := f.srv.Artifact(id, "log_object/v0/01032024123045model_trained.gob")
	assert.True(t, ok)
}

func smallFrame(t *testing.T, rows int) *dataset.Frame {
	t.Helper()
	data := mat.NewDense(rows, 2, nil)
	for i := 0; i < rows; i++ {
		data.Set(i, 0, float64(i))
		data.Set(i, 1, float64(i%2))
	}
	f, err := dataset.NewFrame([]string{"PlasmaGlucose", "Diabetic"}, data)
	require.NoError(t, err)
	return f
}

func TestLogData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.run.StartRun(ctx, "", false)
	require.NoError(t, err)

	require.NoError(t, f.run.LogData(ctx, "training_data", smallFrame(t, 20)))

	assert.Equal(t, []string{
		"log_data/v0/training_data.html",
		"log_data/v0/training_data_profiling_report.html",
	}, f.srv.ArtifactPaths(id))

	html, ok := f.srv.Artifact(id, "log_data/v0/training_data.html")
	require.True(t, ok)
	assert.Equal(t, 4, strings.Count(string(html), "<tr>"), "20% of 20 rows")

	local := filepath.Join("run_custom_artefacts", id, "log_data", "v0", "training_data_profiling_report.html")
	exists, err := afero.Exists(f.fs, local)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLogDataWithoutReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.run.StartRun(ctx, "", false)
	require.NoError(t, err)

	require.NoError(t, f.run.LogData(ctx, "target", smallFrame(t, 10), WithReport(false), WithSample(0.5)))
	assert.Equal(t, []string{"log_data/v0/target.html"}, f.srv.ArtifactPaths(id))

	assert.Error(t, f.run.LogData(ctx, "bad", smallFrame(t, 10), WithSample(0)))
	assert.Error(t, f.run.LogData(ctx, "", smallFrame(t, 10)))
	assert.Error(t, f.run.LogData(ctx, "nil", nil))
}

func TestLogDataRejectsEmptySample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.run.StartRun(ctx, "", false)
	require.NoError(t, err)

	// 20% of 2 rows rounds to nothing
	err = f.run.LogData(ctx, "training_target", smallFrame(t, 2))
	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "frac", verr.ParamName)
	assert.Empty(t, f.srv.ArtifactPaths(id))

	local := filepath.Join("run_custom_artefacts", id, "log_data", "v0", "training_target.html")
	exists, err := afero.Exists(f.fs, local)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLatestRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.run.LatestRunID(ctx)
	assert.Error(t, err, "no runs yet")

	_, err = f.run.StartRun(ctx, "first", false)
	require.NoError(t, err)
	require.NoError(t, f.run.EndRun(ctx))

	second, err := f.run.StartRun(ctx, "second", false)
	require.NoError(t, err)
	require.NoError(t, f.run.LogMetric(ctx, "AUC", 0.84))
	require.NoError(t, f.run.LogParam(ctx, "C", "100"))
	_, err = f.run.LogObject(ctx, trainedModel{}, "model")
	require.NoError(t, err)
	require.NoError(t, f.run.LogData(ctx, "training_data", smallFrame(t, 20)))
	require.NoError(t, f.run.EndRun(ctx))

	latest, err := f.run.LatestRunID(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, latest)

	metrics, err := f.run.LatestMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"AUC": 0.84}, metrics)

	params, err := f.run.LatestParams(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"C": "100"}, params)

	artifacts, err := f.run.LatestArtifacts(ctx)
	require.NoError(t, err)
	var paths []string
	for _, a := range artifacts {
		assert.False(t, a.IsDir, a.Path)
		paths = append(paths, a.Path)
	}
	assert.Equal(t, []string{
		"log_data/v0/training_data.html",
		"log_data/v0/training_data_profiling_report.html",
		"log_object/v0/01032024123045model.gob",
	}, paths)
}
