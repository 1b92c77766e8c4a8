package errors

import (
	"bytes"
	"fmt"
	"math"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Fit",
			kind:    "invalid input",
			err:     fmt.Errorf("test error"),
			wantMsg: "mltrack: Fit: invalid input: test error",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not fitted",
			err:     nil,
			wantMsg: "mltrack: Predict: not fitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			if !strings.Contains(formatted, "errors_test.go") {
				t.Error("Expected stack trace to contain test file name")
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 10, 8, 1)

	want := "mltrack: Predict: dimension mismatch on axis 1 (features). Expected 10, got 8"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Fatal("Error should be castable to *DimensionError")
	}
	if dimErr.Expected != 10 || dimErr.Got != 8 {
		t.Errorf("unexpected fields: %+v", dimErr)
	}
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("AutoML", "PredictProba")

	want := "mltrack: AutoML: this model is not fitted yet. Call Fit() before using PredictProba()"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var notFittedErr *NotFittedError
	if !As(err, &notFittedErr) {
		t.Error("Error should be castable to *NotFittedError")
	}
}

func TestNoActiveRunError(t *testing.T) {
	err := Wrap(NewNoActiveRunError("LogMetric"), "log accuracy")

	var runErr *NoActiveRunError
	if !As(err, &runErr) {
		t.Fatal("Error should be castable to *NoActiveRunError")
	}
	if runErr.Op != "LogMetric" {
		t.Errorf("Op = %q, want LogMetric", runErr.Op)
	}
	if !strings.Contains(err.Error(), "no active run") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestTrackingError(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		code          string
		message       string
		wantMsg       string
		wantNotFound  bool
		wantExists    bool
		wantRetryable bool
	}{
		{
			name:         "missing experiment",
			status:       http.StatusNotFound,
			code:         CodeResourceDoesNotExist,
			message:      "Could not find experiment with name 'churn'",
			wantMsg:      "mltrack: GetExperimentByName: experiments/get-by-name returned 404 (RESOURCE_DOES_NOT_EXIST): Could not find experiment with name 'churn'",
			wantNotFound: true,
		},
		{
			name:       "duplicate experiment",
			status:     http.StatusBadRequest,
			code:       CodeResourceAlreadyExist,
			wantMsg:    "mltrack: GetExperimentByName: experiments/get-by-name returned 400 (RESOURCE_ALREADY_EXISTS)",
			wantExists: true,
		},
		{
			name:          "server error without body",
			status:        http.StatusBadGateway,
			wantMsg:       "mltrack: GetExperimentByName: experiments/get-by-name returned 502 (Bad Gateway)",
			wantRetryable: true,
		},
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			wantMsg:       "mltrack: GetExperimentByName: experiments/get-by-name returned 429 (Too Many Requests)",
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTrackingError("GetExperimentByName", "experiments/get-by-name", tt.status, tt.code, tt.message)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}
			if got := IsNotFound(Wrap(err, "context")); got != tt.wantNotFound {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.wantNotFound)
			}
			if got := IsAlreadyExists(err); got != tt.wantExists {
				t.Errorf("IsAlreadyExists() = %v, want %v", got, tt.wantExists)
			}

			var te *TrackingError
			if !As(err, &te) {
				t.Fatal("Error should be castable to *TrackingError")
			}
			if te.Retryable() != tt.wantRetryable {
				t.Errorf("Retryable() = %v, want %v", te.Retryable(), tt.wantRetryable)
			}
		})
	}

	if IsNotFound(fmt.Errorf("plain")) {
		t.Error("plain errors are never not-found")
	}
}

func TestSerializationError(t *testing.T) {
	cause := fmt.Errorf("gob: type not registered")
	err := NewSerializationError("model_trained", cause)

	if !Is(err, cause) {
		t.Error("SerializationError should unwrap to its cause")
	}
	want := `mltrack: cannot serialize "model_trained": gob: type not registered`
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestNewConvergenceWarning(t *testing.T) {
	warn := NewConvergenceWarning("GradientDescent", 1000, "loss did not decrease")

	want := "GradientDescent failed to converge after 1000 iterations: loss did not decrease"
	if warn.Error() != want {
		t.Errorf("Error() = %v, want %v", warn.Error(), want)
	}
}

func TestWarnRoutesToZerologFunc(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	SetZerologWarnFunc(func(w error) {
		if m, ok := w.(zerolog.LogObjectMarshaler); ok {
			logger.Warn().EmbedObject(m).Msg(w.Error())
			return
		}
		logger.Warn().Msg(w.Error())
	})
	defer SetZerologWarnFunc(nil)

	Warn(NewUndefinedMetricWarning("ppv", "no predicted positives", 0))

	out := buf.String()
	if !strings.Contains(out, `"metric":"ppv"`) {
		t.Errorf("expected structured metric field, got %s", out)
	}
	if !strings.Contains(out, `"type":"UndefinedMetricWarning"`) {
		t.Errorf("expected warning type field, got %s", out)
	}
}

func TestWarnFallsBackToHandler(t *testing.T) {
	var got error
	SetWarningHandler(func(w error) { got = w })
	defer SetWarningHandler(nil)

	w := NewTrackingWarning("GetAllScores", "automl_score_fpr", fmt.Errorf("boom"))
	Warn(w)

	if got != w {
		t.Errorf("handler received %v, want %v", got, w)
	}
	if !Is(got, w.Err) {
		t.Error("TrackingWarning should unwrap to its cause")
	}
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrap(ErrNoRuns, "latest run of experiment 0")

	if !Is(wrapped, ErrNoRuns) {
		t.Error("Expected Is(wrapped, ErrNoRuns) to be true")
	}
	if !strings.Contains(wrapped.Error(), "latest run of experiment 0") {
		t.Error("Expected wrapped error to contain wrapping message")
	}
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d, got %d", "Predict", 10, 5)

	if !Is(wrapped, ErrEmptyData) {
		t.Error("Expected Is(wrapped, ErrEmptyData) to be true")
	}
	expectedMsg := "in Predict: expected 10, got 5"
	if !strings.Contains(wrapped.Error(), expectedMsg) {
		t.Errorf("Expected wrapped error to contain %q", expectedMsg)
	}
}

func TestNumericalHelpers(t *testing.T) {
	if got := LogSumExp([]float64{math.Log(1), math.Log(3)}); math.Abs(got-math.Log(4)) > 1e-12 {
		t.Errorf("LogSumExp = %v, want log(4)", got)
	}
	if !math.IsInf(LogSumExp(nil), -1) {
		t.Error("LogSumExp(nil) should be -Inf")
	}
	if ClipValue(2, 0, 1) != 1 || ClipValue(-1, 0, 1) != 0 {
		t.Error("ClipValue did not clip")
	}
	if err := CheckScalar("fitness", 0.5, 1); err != nil {
		t.Errorf("finite scalar flagged: %v", err)
	}
	var nie *NumericalInstabilityError
	if err := CheckNumericalStability("fitness", []float64{1, zeroDiv()}, 3); !As(err, &nie) {
		t.Errorf("expected NumericalInstabilityError, got %v", err)
	}
}

func zeroDiv() float64 {
	zero := 0.0
	return 1 / zero
}
