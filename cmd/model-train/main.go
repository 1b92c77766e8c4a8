// Command model-train fits a logistic regression on the diabetes data and
// records the run: the regularization rate, accuracy and AUC on a 30%
// hold-out, and the trained model as a serialized object.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mltrack/dataset"
	"github.com/YuminosukeSato/mltrack/experiment"
	"github.com/YuminosukeSato/mltrack/metrics"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/YuminosukeSato/mltrack/pkg/log"
	"github.com/YuminosukeSato/mltrack/sklearn/linear_model"
	"github.com/YuminosukeSato/mltrack/sklearn/model_selection"
	"github.com/YuminosukeSato/mltrack/tracking"
)

const (
	experimentName = "model_train"
	targetColumn   = "Diabetic"
	testSize       = 0.30
	splitSeed      = 0
)

var featureColumns = []string{
	"Pregnancies", "PlasmaGlucose", "DiastolicBloodPressure", "TricepsThickness",
	"SerumInsulin", "BMI", "DiabetesPedigree", "Age",
}

type options struct {
	regRate  float64
	dataPath string
	logLevel string
	args     []string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("model-train", pflag.ContinueOnError)
	fs.Float64Var(&opts.regRate, "reg_rate", 0.01, "regularization rate; the model uses C = 1/reg_rate")
	fs.StringVar(&opts.dataPath, "data", "data/diabetes.csv", "path of the diabetes CSV")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to MLTRACK_LOG_LEVEL")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.regRate <= 0 {
		return opts, errors.NewValidationError("reg_rate", "must be positive", opts.regRate)
	}
	opts.args = args
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := tracking.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	level := opts.logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	if err := log.SetupLogger(level); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := log.GetLoggerWithName("model-train")

	client, err := tracking.NewClient(cfg)
	if err != nil {
		logger.Error("could not create tracking client", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if _, err := train(ctx, client, opts, os.Stdout); err != nil {
		logger.Error("training failed", err)
		os.Exit(1)
	}
}

type trainResult struct {
	RunID    string
	Accuracy float64
	AUC      float64
}

// train runs the whole script against client. The run is ended FAILED when
// any step after it started fails.
func train(ctx context.Context, client *tracking.Client, opts options, out io.Writer) (res *trainResult, err error) {
	r, err := experiment.GetRunContext(ctx, client, experimentName)
	if err != nil {
		return nil, err
	}
	runID, err := r.ActiveRunID()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = r.EndRunWithStatus(context.WithoutCancel(ctx), tracking.RunStatusFailed)
		}
	}()

	fmt.Fprintln(out, opts.regRate)
	if err := r.LogMetric(ctx, "Regularization Rate", opts.regRate); err != nil {
		return nil, err
	}
	if err := r.LogParam(ctx, "input_script", inputScript(opts)); err != nil {
		return nil, err
	}

	fmt.Fprintln(out, "Loading Data...")
	diabetes, err := dataset.ReadCSVFile(client.Fs(), opts.dataPath)
	if err != nil {
		return nil, err
	}
	features, err := diabetes.Select(featureColumns...)
	if err != nil {
		return nil, err
	}
	target, err := diabetes.Select(targetColumn)
	if err != nil {
		return nil, err
	}
	XTrain, XTest, yTrain, yTest, err := model_selection.TrainTestSplit(features.Data, target.Data, testSize, splitSeed)
	if err != nil {
		return nil, err
	}

	fmt.Fprintln(out, "Training a logistic regression model with regularization rate of", opts.regRate)
	model := linear_model.NewLogisticRegression(
		linear_model.WithLRC(1/opts.regRate),
		linear_model.WithLRSolver("liblinear"),
	)
	if err := model.Fit(XTrain, yTrain); err != nil {
		return nil, err
	}

	yTestVec := mat.VecDenseCopyOf(yTest.ColView(0))
	pred, err := model.Predict(XTest)
	if err != nil {
		return nil, err
	}
	acc, err := metrics.AccuracyMatrix(yTest, pred)
	if err != nil {
		return nil, err
	}
	fmt.Fprintln(out, "Accuracy:", acc)
	if err := r.LogMetric(ctx, "Accuracy", acc); err != nil {
		return nil, err
	}

	proba, err := model.PredictProba(XTest)
	if err != nil {
		return nil, err
	}
	auc, err := metrics.AUC(yTestVec, positiveColumn(proba, model.Classes()))
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "AUC: %v\n", auc)
	if err := r.LogMetric(ctx, "AUC", auc); err != nil {
		return nil, err
	}

	if _, err := r.LogObject(ctx, model, "model_trained"); err != nil {
		return nil, err
	}
	if err := r.EndRun(ctx); err != nil {
		return nil, err
	}
	return &trainResult{RunID: runID, Accuracy: acc, AUC: auc}, nil
}

func inputScript(opts options) string {
	return fmt.Sprintf("Namespace(reg=%v, data=%s, args=[%s])", opts.regRate, opts.dataPath, strings.Join(opts.args, " "))
}

// positiveColumn extracts the probability of label 1.
func positiveColumn(proba mat.Matrix, classes []int) *mat.VecDense {
	n, _ := proba.Dims()
	out := mat.NewVecDense(n, nil)
	for j, c := range classes {
		if c != 1 {
			continue
		}
		for i := 0; i < n; i++ {
			out.SetVec(i, proba.At(i, j))
		}
	}
	return out
}
