package run

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/YuminosukeSato/mltrack/core/model"
	"github.com/YuminosukeSato/mltrack/dataset"
	"github.com/YuminosukeSato/mltrack/datautil"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
	"github.com/YuminosukeSato/mltrack/profiling"
)

// Log data defaults.
const (
	DefaultSampleFraction = 0.2
	DefaultSampleSeed     = 42
	serializedTimeLayout  = "02012006150405"
	serializedExt         = ".gob"
	reportSuffix          = "_profiling_report.html"
)

// SerializeForLogging gob-encodes obj into the active run's log_object
// folder as <ddmmyyyyHHMMSS><name>.gob and returns the file path. Types
// stored behind interfaces must be registered with gob.Register.
func (r *Run) SerializeForLogging(obj interface{}, name string) (string, error) {
	if name == "" {
		return "", errors.NewValidationError("name", "must not be empty", name)
	}
	dir, err := r.ArtefactFolder(datautil.LogObject)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, r.now().Format(serializedTimeLayout)+name+serializedExt)

	file, err := r.fs().Create(path)
	if err != nil {
		return "", errors.NewSerializationError(name, err)
	}
	if err := model.SaveModelToWriter(obj, file); err != nil {
		file.Close()
		_ = r.fs().Remove(path)
		return "", errors.NewSerializationError(name, err)
	}
	if err := file.Close(); err != nil {
		return "", errors.NewSerializationError(name, err)
	}
	return path, nil
}

// LogObject serializes obj and uploads it to log_object/v0 of the active run.
func (r *Run) LogObject(ctx context.Context, obj interface{}, name string) (string, error) {
	path, err := r.SerializeForLogging(obj, name)
	if err != nil {
		return "", err
	}
	if err := r.LogArtifact(ctx, path, datautil.LogObject.ArtifactPath()); err != nil {
		return "", err
	}
	r.logger.Info("object logged", log.ArtifactPathKey, path)
	return path, nil
}

// LoadObject decodes a file written by SerializeForLogging into out.
func (r *Run) LoadObject(path string, out interface{}) error {
	file, err := r.fs().Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()
	if err := model.LoadModelFromReader(out, file); err != nil {
		return errors.NewSerializationError(filepath.Base(path), err)
	}
	return nil
}

type logDataOptions struct {
	frac   float64
	seed   int64
	report bool
}

// LogDataOption configures LogData.
type LogDataOption func(*logDataOptions)

// WithSample sets the fraction of rows kept (default 0.2).
func WithSample(frac float64) LogDataOption {
	return func(o *logDataOptions) { o.frac = frac }
}

// WithSeed sets the sampling seed (default 42).
func WithSeed(seed int64) LogDataOption {
	return func(o *logDataOptions) { o.seed = seed }
}

// WithReport toggles the profiling report (default on).
func WithReport(report bool) LogDataOption {
	return func(o *logDataOptions) { o.report = report }
}

// LogData samples frame, writes the sample as <name>.html and, unless
// disabled, a profile of the sample as <name>_profiling_report.html. Both
// are uploaded to log_data/v0 of the active run.
func (r *Run) LogData(ctx context.Context, name string, frame *dataset.Frame, opts ...LogDataOption) error {
	if name == "" {
		return errors.NewValidationError("name", "must not be empty", name)
	}
	if frame == nil {
		return errors.NewValueError("Run.LogData", "nil frame")
	}
	o := logDataOptions{frac: DefaultSampleFraction, seed: DefaultSampleSeed, report: true}
	for _, opt := range opts {
		opt(&o)
	}

	dir, err := r.ArtefactFolder(datautil.LogData)
	if err != nil {
		return err
	}
	sample, err := frame.Sample(o.frac, o.seed)
	if err != nil {
		return err
	}
	rows, _ := sample.Dims()
	if rows == 0 {
		total, _ := frame.Dims()
		return errors.NewValidationError("frac",
			fmt.Sprintf("keeps no rows of %s (%d rows)", name, total), o.frac)
	}

	htmlPath := filepath.Join(dir, name+".html")
	if err := r.writeHTML(htmlPath, sample.WriteHTML); err != nil {
		return err
	}
	if err := r.LogArtifact(ctx, htmlPath, datautil.LogData.ArtifactPath()); err != nil {
		return err
	}
	r.logger.Info("data sample logged",
		log.ArtifactPathKey, htmlPath,
		log.SamplesKey, rows,
		log.FractionKey, o.frac,
	)

	if !o.report {
		return nil
	}
	return r.logReport(ctx, dir, name, sample)
}

func (r *Run) logReport(ctx context.Context, dir, name string, sample *dataset.Frame) error {
	reportName := name + reportSuffix
	report, err := profiling.NewReport(sample, reportName)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, reportName)
	if err := report.ToFile(r.fs(), path); err != nil {
		return err
	}
	if err := r.LogArtifact(ctx, path, datautil.LogData.ArtifactPath()); err != nil {
		return err
	}
	r.logger.Info("profiling report logged", log.ArtifactPathKey, path)
	return nil
}

func (r *Run) writeHTML(path string, write func(w io.Writer) error) error {
	file, err := r.fs().Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return errors.Wrapf(file.Close(), "close %s", path)
}
