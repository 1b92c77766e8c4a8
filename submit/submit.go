// Package submit runs an external training script and records its output
// in a tracking run.
package submit

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/YuminosukeSato/mltrack/datautil"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
	"github.com/YuminosukeSato/mltrack/run"
)

// Metrics logged by ExecuteAndLog.
const (
	ExitCodeMetric = "exit_code"
	DurationMetric = "duration_seconds"
	outputSuffix   = "_output.txt"
)

// Script describes one command line. Env entries are KEY=VALUE pairs added
// to the current environment.
type Script struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Result is the outcome of a finished script.
type Result struct {
	Output   []byte
	ExitCode int
	Duration time.Duration
}

// Execute runs the script to completion and captures stdout and stderr
// together. A non-zero exit returns the Result and an error; a script that
// cannot start returns no Result.
func Execute(ctx context.Context, s Script) (*Result, error) {
	if s.Command == "" {
		return nil, errors.NewValidationError("command", "must not be empty", s.Command)
	}
	logger := log.GetLoggerWithName("submit")

	cmd := exec.CommandContext(ctx, s.Command, s.Args...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res := &Result{Output: out.Bytes(), Duration: time.Since(start)}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		logger.Warn("script failed", err, "script", s.Name, "exit_code", res.ExitCode)
		return res, errors.Wrapf(err, "script %s", s.Name)
	default:
		return nil, errors.Wrapf(err, "start script %s", s.Name)
	}
	logger.Info("script finished", "script", s.Name, log.DurationMsKey, res.Duration.Milliseconds())
	return res, nil
}

// ExecuteAndLog runs the script against the active run of r. The output is
// written to log_data/v0/<name>_output.txt and uploaded; exit_code and
// duration_seconds are logged as metrics. A failing script is still logged
// before its error is returned.
func ExecuteAndLog(ctx context.Context, r *run.Run, s Script) (*Result, error) {
	if r == nil {
		return nil, errors.NewValidationError("run", "a run is required", nil)
	}
	if s.Name == "" {
		return nil, errors.NewValidationError("name", "must not be empty", s.Name)
	}
	dir, err := r.ArtefactFolder(datautil.LogData)
	if err != nil {
		return nil, err
	}

	res, runErr := Execute(ctx, s)
	if res == nil {
		return nil, runErr
	}

	path := filepath.Join(dir, s.Name+outputSuffix)
	if err := afero.WriteFile(r.Client().Fs(), path, res.Output, 0o644); err != nil {
		return res, errors.Wrapf(err, "write %s", path)
	}
	if err := r.LogArtifact(ctx, path, datautil.LogData.ArtifactPath()); err != nil {
		return res, err
	}
	if err := r.LogMetric(ctx, ExitCodeMetric, float64(res.ExitCode)); err != nil {
		return res, err
	}
	if err := r.LogMetric(ctx, DurationMetric, res.Duration.Seconds()); err != nil {
		return res, err
	}
	return res, runErr
}
