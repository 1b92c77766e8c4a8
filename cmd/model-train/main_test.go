package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/mltrack/tracking"
	"github.com/YuminosukeSato/mltrack/tracking/trackingtest"
)

// writeDiabetes writes n synthetic patients whose label follows glucose and BMI.
func writeDiabetes(t *testing.T, fs afero.Fs, path string, n int) {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	var b strings.Builder
	b.WriteString("PatientID,Pregnancies,PlasmaGlucose,DiastolicBloodPressure,TricepsThickness,SerumInsulin,BMI,DiabetesPedigree,Age,Diabetic\n")
	for i := 0; i < n; i++ {
		glucose := 70 + rng.Float64()*110
		bmi := 18 + rng.Float64()*25
		label := 0
		if glucose/180+bmi/45 > 1.37 {
			label = 1
		}
		fmt.Fprintf(&b, "%d,%d,%.1f,%.1f,%.1f,%.1f,%.2f,%.3f,%d,%d\n",
			1000+i, rng.Intn(8), glucose, 60+rng.Float64()*30, 10+rng.Float64()*30,
			20+rng.Float64()*200, bmi, rng.Float64(), 21+rng.Intn(50), label)
	}
	require.NoError(t, afero.WriteFile(fs, path, []byte(b.String()), 0o644))
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, 0.01, opts.regRate)
	assert.Equal(t, "data/diabetes.csv", opts.dataPath)

	opts, err = parseFlags([]string{"--reg_rate", "0.1", "--data=other.csv", "--log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, 0.1, opts.regRate)
	assert.Equal(t, "other.csv", opts.dataPath)
	assert.Equal(t, "debug", opts.logLevel)

	_, err = parseFlags([]string{"--reg_rate", "0"})
	assert.Error(t, err)
	_, err = parseFlags([]string{"--reg_rate", "abc"})
	assert.Error(t, err)
}

func TestTrain(t *testing.T) {
	srv := trackingtest.NewServer(t)
	fs := afero.NewMemMapFs()
	writeDiabetes(t, fs, "data/diabetes.csv", 200)
	client := srv.Client(t, tracking.WithFs(fs))

	opts, err := parseFlags([]string{"--reg_rate", "0.05"})
	require.NoError(t, err)

	var out bytes.Buffer
	res, err := train(context.Background(), client, opts, &out)
	require.NoError(t, err)
	assert.Greater(t, res.Accuracy, 0.7)
	assert.Greater(t, res.AUC, 0.7)
	assert.Contains(t, out.String(), "Loading Data...")
	assert.Contains(t, out.String(), "Accuracy:")

	stored, ok := srv.Run(res.RunID)
	require.True(t, ok)
	assert.Equal(t, tracking.RunStatusFinished, stored.Info.Status)
	m := stored.Data.MetricMap()
	assert.Equal(t, 0.05, m["Regularization Rate"])
	assert.InDelta(t, res.Accuracy, m["Accuracy"], 1e-12)
	assert.InDelta(t, res.AUC, m["AUC"], 1e-12)
	assert.Contains(t, stored.Data.ParamMap()["input_script"], "reg=0.05")

	paths := srv.ArtifactPaths(res.RunID)
	require.Len(t, paths, 1)
	assert.True(t, strings.HasPrefix(paths[0], "log_object/v0/"))
	assert.True(t, strings.HasSuffix(paths[0], "model_trained.gob"))
}

func TestTrainMissingData(t *testing.T) {
	srv := trackingtest.NewServer(t)
	client := srv.Client(t, tracking.WithFs(afero.NewMemMapFs()))
	opts, err := parseFlags(nil)
	require.NoError(t, err)

	_, err = train(context.Background(), client, opts, &bytes.Buffer{})
	require.Error(t, err)

	runs := srv.Runs()
	require.Len(t, runs, 1)
	stored, _ := srv.Run(runs[0])
	assert.Equal(t, tracking.RunStatusFailed, stored.Info.Status)
}
