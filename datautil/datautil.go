// Package datautil holds helpers shared by the run wrapper and the automl
// search: the local artefact folder layout and single-metric scoring.
package datautil

import (
	"path/filepath"

	"github.com/spf13/afero"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mltrack/metrics"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

// DefaultArtefactRoot is the local directory artefacts are staged in.
const DefaultArtefactRoot = "run_custom_artefacts"

// ArtefactVersion is the version folder every artefact is written to.
const ArtefactVersion = "v0"

// ArtefactKind selects the folder an artefact is staged in.
type ArtefactKind int

const (
	LogData ArtefactKind = iota + 1
	LogObject
)

func (k ArtefactKind) String() string {
	switch k {
	case LogData:
		return "log_data"
	case LogObject:
		return "log_object"
	default:
		return "unknown"
	}
}

// ArtifactPath is the remote artifact path matching the local folder,
// e.g. "log_data/v0".
func (k ArtefactKind) ArtifactPath() string {
	return k.String() + "/" + ArtefactVersion
}

// CustomArtefactFolder creates <root>/<runID>/<kind>/v0 on fs and returns it.
// An existing folder is reused.
func CustomArtefactFolder(fs afero.Fs, root, runID string, kind ArtefactKind) (string, error) {
	if runID == "" {
		return "", errors.NewValidationError("run_id", "must not be empty", runID)
	}
	if kind != LogData && kind != LogObject {
		return "", errors.NewValidationError("kind", "must be LogData or LogObject", int(kind))
	}
	if root == "" {
		root = DefaultArtefactRoot
	}
	dir := filepath.Join(root, runID, kind.String(), ArtefactVersion)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create artefact folder %s", dir)
	}
	return dir, nil
}

// BinaryMetricNames lists the battery in reporting order.
var BinaryMetricNames = metrics.BinaryMetricNames

// ScoreResults computes one metric of the binary battery from true labels
// and positive-class probabilities at threshold.
func ScoreResults(yTrue, probas *mat.VecDense, threshold float64, metricName string) (float64, error) {
	return metrics.ScoreByName(yTrue, probas, threshold, metricName)
}

// ScoreAll computes the whole battery.
func ScoreAll(yTrue, probas *mat.VecDense, threshold float64) (*metrics.BinaryReport, error) {
	return metrics.BinaryClassificationReport(yTrue, probas, threshold)
}
