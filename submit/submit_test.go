package submit

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/mltrack/run"
	"github.com/YuminosukeSato/mltrack/tracking"
	"github.com/YuminosukeSato/mltrack/tracking/trackingtest"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecute(t *testing.T) {
	requireShell(t)
	ctx := context.Background()

	res, err := Execute(ctx, Script{
		Name:    "train",
		Command: "sh",
		Args:    []string{"-c", "echo reg=$REG_RATE; echo oops >&2"},
		Env:     []string{"REG_RATE=0.01"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, string(res.Output), "reg=0.01")
	assert.Contains(t, string(res.Output), "oops", "stderr is captured too")
	assert.Positive(t, res.Duration)
}

func TestExecuteFailures(t *testing.T) {
	requireShell(t)
	ctx := context.Background()

	res, err := Execute(ctx, Script{Name: "fail", Command: "sh", Args: []string{"-c", "echo partial; exit 3"}})
	assert.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "partial\n", string(res.Output))

	res, err = Execute(ctx, Script{Name: "missing", Command: "definitely-not-a-command-xyz"})
	assert.Error(t, err)
	assert.Nil(t, res)

	_, err = Execute(ctx, Script{Name: "empty"})
	assert.Error(t, err)
}

func TestExecuteAndLog(t *testing.T) {
	requireShell(t)
	srv := trackingtest.NewServer(t)
	fs := afero.NewMemMapFs()
	client := srv.Client(t, tracking.WithFs(fs))
	r, err := run.New(client, "0")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = ExecuteAndLog(ctx, r, Script{Name: "train", Command: "sh", Args: []string{"-c", "echo ok"}})
	assert.Error(t, err, "needs an active run")

	id, err := r.StartRun(ctx, "submit", false)
	require.NoError(t, err)

	res, err := ExecuteAndLog(ctx, r, Script{Name: "train", Command: "sh", Args: []string{"-c", "echo accuracy 0.78"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	body, ok := srv.Artifact(id, "log_data/v0/train_output.txt")
	require.True(t, ok)
	assert.Equal(t, "accuracy 0.78", strings.TrimSpace(string(body)))

	stored, _ := srv.Run(id)
	metrics := stored.Data.MetricMap()
	assert.Equal(t, 0.0, metrics[ExitCodeMetric])
	assert.Contains(t, metrics, DurationMetric)

	res, err = ExecuteAndLog(ctx, r, Script{Name: "broken", Command: "sh", Args: []string{"-c", "exit 2"}})
	assert.Error(t, err)
	require.NotNil(t, res)
	stored, _ = srv.Run(id)
	assert.Equal(t, 2.0, stored.Data.MetricMap()[ExitCodeMetric], "failures are logged before returning")
	_, ok = srv.Artifact(id, "log_data/v0/broken_output.txt")
	assert.True(t, ok)
}
