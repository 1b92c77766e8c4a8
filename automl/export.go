package automl

import (
	"io"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

// PipelineSpec is the exported description of a pipeline. Reading it back
// with ReadPipelineSpec and calling Pipeline rebuilds the unfitted pipeline.
type PipelineSpec struct {
	Task         Task                   `yaml:"task"`
	Preprocessor string                 `yaml:"preprocessor"`
	Estimator    string                 `yaml:"estimator"`
	Params       map[string]interface{} `yaml:"params,omitempty"`
	Scoring      string                 `yaml:"scoring"`
	CVScore      float64                `yaml:"cv_score"`
	Generation   int                    `yaml:"generation"`
	Evaluated    int                    `yaml:"evaluated"`
	RandomState  int64                  `yaml:"random_state"`
}

func newPipelineSpec(cfg Config, best Individual, evaluated int) PipelineSpec {
	score := best.Fitness
	if lowerIsBetter[cfg.scoring()] {
		score = -score
	}
	return PipelineSpec{
		Task:         cfg.Task,
		Preprocessor: best.Genome.Preprocessor,
		Estimator:    best.Genome.Estimator,
		Params:       best.Genome.Clone().Params,
		Scoring:      cfg.scoring(),
		CVScore:      score,
		Generation:   best.Generation,
		Evaluated:    evaluated,
		RandomState:  cfg.RandomState,
	}
}

// Genome returns the pipeline description as a genome.
func (s PipelineSpec) Genome() Genome {
	return Genome{Preprocessor: s.Preprocessor, Estimator: s.Estimator, Params: s.Params}.Clone()
}

// Pipeline builds the unfitted pipeline described by s.
func (s PipelineSpec) Pipeline() (*Pipeline, error) {
	return NewPipeline(s.Genome(), s.Task, s.RandomState)
}

// WritePipelineSpec encodes s as YAML.
func WritePipelineSpec(w io.Writer, s PipelineSpec) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return errors.NewSerializationError("pipeline", err)
	}
	return enc.Close()
}

// ReadPipelineSpec decodes a YAML pipeline description.
func ReadPipelineSpec(r io.Reader) (*PipelineSpec, error) {
	var s PipelineSpec
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.NewSerializationError("pipeline", err)
	}
	if s.Estimator == "" {
		return nil, errors.NewValidationError("estimator", "missing from pipeline description", s)
	}
	return &s, nil
}

func writeSpecFile(fs afero.Fs, path string, s PipelineSpec) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	f, err := fs.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := WritePipelineSpec(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
