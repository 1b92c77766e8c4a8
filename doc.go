// Package mltrack provides experiment tracking helpers for Go training code
// that reports to an MLflow-compatible tracking server.
//
// mltrack wraps the tracking REST API in a small set of types that mirror a
// typical training script: select an experiment, start a run, log metrics and
// parameters, and attach artifacts such as serialized models, data samples
// and profiling reports. An evolutionary AutoML search built on the same
// tracking layer finds a preprocessing + estimator pipeline and logs it.
//
// # Installation
//
//	go get github.com/YuminosukeSato/mltrack
//
// # Quick Start
//
// Log a model trained on the diabetes data:
//
//	package main
//
//	import (
//	    "context"
//	    "log"
//
//	    "github.com/YuminosukeSato/mltrack/experiment"
//	    "github.com/YuminosukeSato/mltrack/tracking"
//	)
//
//	func main() {
//	    ctx := context.Background()
//	    cfg, err := tracking.NewConfigFromEnv() // MLFLOW_TRACKING_URI, ...
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    client, err := tracking.NewClient(cfg)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    run, err := experiment.GetRunContext(ctx, client, "model_train")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer run.EndRun(ctx)
//
//	    _ = run.LogParam(ctx, "Regularization Rate", "0.01")
//	    _ = run.LogMetric(ctx, "Accuracy", 0.78)
//	}
//
// # Packages
//
//   - tracking: REST client for experiments, runs, metrics and artifacts
//   - experiment: create-or-select an experiment and start runs in it
//   - run: active run wrapper, object and data-sample artifacts
//   - datautil: artefact folder layout and the binary metric battery
//   - automl: evolutionary pipeline search with tracked results
//   - submit: run an external training script and log its output
//   - dataset: CSV-backed frames with HTML rendering
//   - profiling: per-column statistics, correlations and alerts as HTML
//   - metrics: regression and binary classification metrics
//   - sklearn/...: estimators used by the search and the training script
//   - preprocessing: StandardScaler and MinMaxScaler
//   - core/model: estimator interfaces and persistence
//   - core/parallel: parallel processing utilities
//
// # Artefact Layout
//
// Files are staged under run_custom_artefacts/<run_id>/{log_data|log_object}/v0/
// before upload and appear under log_data/v0 or log_object/v0 in the run.
//
// # License
//
// mltrack is released under the MIT License.
package mltrack
