package metrics

import (
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
	"pgregory.net/rapid"
)

func batteryFixture() (*mat.VecDense, *mat.VecDense) {
	yTrue := mat.NewVecDense(8, []float64{0, 0, 0, 0, 1, 1, 1, 1})
	yProb := mat.NewVecDense(8, []float64{0.1, 0.4, 0.6, 0.2, 0.8, 0.3, 0.9, 0.7})
	return yTrue, yProb
}

func TestBinaryClassificationReport(t *testing.T) {
	yTrue, yProb := batteryFixture()

	report, err := BinaryClassificationReport(yTrue, yProb, 0.5)
	if err != nil {
		t.Fatalf("BinaryClassificationReport() error = %v", err)
	}

	wantCM := ConfusionMatrix{TN: 3, FP: 1, FN: 1, TP: 3}
	if report.ConfusionMatrix != wantCM {
		t.Errorf("ConfusionMatrix = %+v, want %+v", report.ConfusionMatrix, wantCM)
	}

	want := map[string]float64{
		MetricFPR:        0.25,
		MetricFNR:        0.25,
		MetricTNR:        0.75,
		MetricNPV:        0.75,
		MetricFDR:        0.25,
		MetricTPR:        0.75,
		MetricPPV:        0.75,
		MetricAccuracy:   0.75,
		MetricF1:         0.75,
		MetricF2:         0.75,
		MetricCohenKappa: 0.5,
		MetricROCAUC:     0.875,
		MetricLogLoss:    0.455595,
	}
	for name, w := range want {
		got, ok := report.Get(name)
		if !ok {
			t.Errorf("Get(%q) missing", name)
			continue
		}
		if math.Abs(got-w) > 1e-5 {
			t.Errorf("%s = %v, want %v", name, got, w)
		}
	}
}

func TestBinaryClassificationReportThresholdIsInclusive(t *testing.T) {
	yTrue, yProb := batteryFixture()

	report, err := BinaryClassificationReport(yTrue, yProb, 0.7)
	if err != nil {
		t.Fatalf("BinaryClassificationReport() error = %v", err)
	}
	wantCM := ConfusionMatrix{TN: 4, FP: 0, FN: 1, TP: 3}
	if report.ConfusionMatrix != wantCM {
		t.Errorf("ConfusionMatrix = %+v, want %+v", report.ConfusionMatrix, wantCM)
	}
	if report.PPV != 1 {
		t.Errorf("PPV = %v, want 1", report.PPV)
	}
	// AUC と対数損失は閾値に依存しない
	if math.Abs(report.ROCAUC-0.875) > 1e-9 {
		t.Errorf("ROCAUC = %v, want 0.875", report.ROCAUC)
	}
}

func TestBinaryClassificationReportErrors(t *testing.T) {
	yTrue, yProb := batteryFixture()

	tests := []struct {
		name      string
		yTrue     *mat.VecDense
		yProb     *mat.VecDense
		threshold float64
	}{
		{"nil labels", nil, yProb, 0.5},
		{"length mismatch", mat.NewVecDense(2, []float64{0, 1}), yProb, 0.5},
		{"threshold above one", yTrue, yProb, 1.5},
		{"negative threshold", yTrue, yProb, -0.1},
		{"non-binary labels", mat.NewVecDense(8, []float64{0, 2, 0, 0, 1, 1, 1, 1}), yProb, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BinaryClassificationReport(tt.yTrue, tt.yProb, tt.threshold); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestUndefinedRatesAreZero(t *testing.T) {
	// 陽性予測がないため PPV と FDR は定義できない
	yTrue := mat.NewVecDense(4, []float64{0, 1, 0, 1})
	yProb := mat.NewVecDense(4, []float64{0.1, 0.2, 0.3, 0.4})

	report, err := BinaryClassificationReport(yTrue, yProb, 0.5)
	if err != nil {
		t.Fatalf("BinaryClassificationReport() error = %v", err)
	}
	if report.PPV != 0 || report.FDR != 0 || report.F1 != 0 {
		t.Errorf("undefined metrics should be 0, got ppv=%v fdr=%v f1=%v", report.PPV, report.FDR, report.F1)
	}
	if report.TNR != 1 {
		t.Errorf("TNR = %v, want 1", report.TNR)
	}
}

func TestAsMapExpandsConfusionMatrix(t *testing.T) {
	yTrue, yProb := batteryFixture()
	report, err := BinaryClassificationReport(yTrue, yProb, 0.5)
	if err != nil {
		t.Fatal(err)
	}

	m := report.AsMap()
	if len(m) != len(BinaryMetricNames)-1+4 {
		t.Errorf("AsMap() has %d entries, want %d", len(m), len(BinaryMetricNames)+3)
	}
	if m["confusion_matrix_tp"] != 3 || m["confusion_matrix_fp"] != 1 {
		t.Errorf("confusion matrix not expanded: %v", m)
	}
	if _, ok := m[MetricConfusionMatrix]; ok {
		t.Error("the non-scalar confusion_matrix key should not be present")
	}
}

func TestScoreByName(t *testing.T) {
	yTrue, yProb := batteryFixture()

	got, err := ScoreByName(yTrue, yProb, 0.5, MetricROCAUC)
	if err != nil || math.Abs(got-0.875) > 1e-9 {
		t.Errorf("ScoreByName(roc_auc) = %v, %v", got, err)
	}
	if _, err := ScoreByName(yTrue, yProb, 0.5, "balanced_accuracy"); err == nil {
		t.Error("unknown metric should fail")
	}
	if _, err := ScoreByName(yTrue, yProb, 0.5, MetricConfusionMatrix); err == nil {
		t.Error("confusion_matrix is not a scalar")
	}
}

func TestConfusionMatrixDense(t *testing.T) {
	cm := ConfusionMatrix{TN: 5, FP: 2, FN: 1, TP: 7}
	d := cm.Dense()
	if d.At(0, 0) != 5 || d.At(0, 1) != 2 || d.At(1, 0) != 1 || d.At(1, 1) != 7 {
		t.Errorf("unexpected layout: %v", mat.Formatted(d))
	}
	if cm.Total() != 15 {
		t.Errorf("Total() = %d, want 15", cm.Total())
	}
}

func TestFBetaScoreAndKappa(t *testing.T) {
	yTrue := mat.NewVecDense(6, []float64{1, 1, 1, 0, 0, 0})
	yPred := mat.NewVecDense(6, []float64{1, 1, 0, 1, 0, 0})

	// P = 2/3, R = 2/3
	f1, err := FBetaScore(yTrue, yPred, 1)
	if err != nil || math.Abs(f1-2.0/3.0) > 1e-9 {
		t.Errorf("F1 = %v, %v", f1, err)
	}
	if _, err := FBetaScore(yTrue, yPred, 0); err == nil {
		t.Error("beta must be positive")
	}

	// po = 4/6, pe = 0.5
	kappa, err := CohenKappa(yTrue, yPred)
	if err != nil || math.Abs(kappa-1.0/3.0) > 1e-9 {
		t.Errorf("kappa = %v, %v", kappa, err)
	}
}

func TestBinaryClassificationReportProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 50).Draw(rt, "n")
		labels := rapid.SliceOfN(rapid.SampledFrom([]float64{0, 1}), n, n).Draw(rt, "labels")
		probs := rapid.SliceOfN(rapid.Float64Range(0, 1), n, n).Draw(rt, "probs")
		threshold := rapid.Float64Range(0, 1).Draw(rt, "threshold")

		report, err := BinaryClassificationReport(mat.NewVecDense(n, labels), mat.NewVecDense(n, probs), threshold)
		if err != nil {
			rt.Fatalf("BinaryClassificationReport() error = %v", err)
		}
		cm := report.ConfusionMatrix
		if cm.Total() != n {
			rt.Fatalf("Total() = %d, want %d", cm.Total(), n)
		}
		for name, v := range report.AsMap() {
			if name == MetricCohenKappa || name == MetricLogLoss || strings.HasPrefix(name, MetricConfusionMatrix) {
				continue
			}
			if v < 0 || v > 1 || math.IsNaN(v) {
				rt.Errorf("%s = %v, want within [0, 1]", name, v)
			}
		}
		if cm.TN+cm.FP > 0 && math.Abs(report.FPR+report.TNR-1) > 1e-12 {
			rt.Errorf("FPR + TNR = %v", report.FPR+report.TNR)
		}
		if cm.TP+cm.FN > 0 && math.Abs(report.TPR+report.FNR-1) > 1e-12 {
			rt.Errorf("TPR + FNR = %v", report.TPR+report.FNR)
		}
		if report.LogLoss < 0 {
			rt.Errorf("LogLoss = %v", report.LogLoss)
		}
	})
}
