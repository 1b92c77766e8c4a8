package metrics

import (
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// 二値分類メトリクス名（レポート・ログ出力の順序）
const (
	MetricConfusionMatrix = "confusion_matrix"
	MetricFPR             = "fpr"
	MetricFNR             = "fnr"
	MetricTNR             = "tnr"
	MetricNPV             = "npv"
	MetricFDR             = "fdr"
	MetricTPR             = "tpr"
	MetricPPV             = "ppv"
	MetricAccuracy        = "accuracy"
	MetricF1              = "f1score"
	MetricF2              = "f2score"
	MetricCohenKappa      = "cks"
	MetricROCAUC          = "roc_auc"
	MetricLogLoss         = "log_loss"
)

// BinaryMetricNames は BinaryReport に含まれる全メトリクス名
var BinaryMetricNames = []string{
	MetricConfusionMatrix,
	MetricFPR,
	MetricFNR,
	MetricTNR,
	MetricNPV,
	MetricFDR,
	MetricTPR,
	MetricPPV,
	MetricAccuracy,
	MetricF1,
	MetricF2,
	MetricCohenKappa,
	MetricROCAUC,
	MetricLogLoss,
}

// BinaryReport は1つの閾値で計算した二値分類メトリクス一式を保持する
type BinaryReport struct {
	Threshold       float64         `json:"threshold" yaml:"threshold"`
	ConfusionMatrix ConfusionMatrix `json:"confusion_matrix" yaml:"confusion_matrix"`
	FPR             float64         `json:"fpr" yaml:"fpr"`
	FNR             float64         `json:"fnr" yaml:"fnr"`
	TNR             float64         `json:"tnr" yaml:"tnr"`
	NPV             float64         `json:"npv" yaml:"npv"`
	FDR             float64         `json:"fdr" yaml:"fdr"`
	TPR             float64         `json:"tpr" yaml:"tpr"`
	PPV             float64         `json:"ppv" yaml:"ppv"`
	Accuracy        float64         `json:"accuracy" yaml:"accuracy"`
	F1              float64         `json:"f1score" yaml:"f1score"`
	F2              float64         `json:"f2score" yaml:"f2score"`
	CohenKappa      float64         `json:"cks" yaml:"cks"`
	ROCAUC          float64         `json:"roc_auc" yaml:"roc_auc"`
	LogLoss         float64         `json:"log_loss" yaml:"log_loss"`
}

// BinaryClassificationReport は 0/1 の正解ラベルと陽性クラス確率からメトリクス一式を計算する
// 閾値に依存するメトリクスは p >= threshold を陽性とする
func BinaryClassificationReport(yTrue, yProb *mat.VecDense, threshold float64) (*BinaryReport, error) {
	if _, err := checkPair("BinaryClassificationReport", yTrue, yProb); err != nil {
		return nil, err
	}
	yPred, err := Binarize(yProb, threshold)
	if err != nil {
		return nil, err
	}
	cm, err := BinaryConfusionMatrix(yTrue, yPred)
	if err != nil {
		return nil, err
	}
	auc, err := AUC(yTrue, yProb)
	if err != nil {
		return nil, err
	}
	logLoss, err := BinaryLogLoss(yTrue, yProb)
	if err != nil {
		return nil, err
	}

	return &BinaryReport{
		Threshold:       threshold,
		ConfusionMatrix: cm,
		FPR:             cm.FPR(),
		FNR:             cm.FNR(),
		TNR:             cm.TNR(),
		NPV:             cm.NPV(),
		FDR:             cm.FDR(),
		TPR:             cm.TPR(),
		PPV:             cm.PPV(),
		Accuracy:        cm.Accuracy(),
		F1:              cm.FBeta(1),
		F2:              cm.FBeta(2),
		CohenKappa:      cm.CohenKappa(),
		ROCAUC:          auc,
		LogLoss:         logLoss,
	}, nil
}

// Get は名前でスカラーメトリクスを返す
// 混同行列はスカラーではないため存在しないものとして扱う
func (r *BinaryReport) Get(name string) (float64, bool) {
	switch name {
	case MetricFPR:
		return r.FPR, true
	case MetricFNR:
		return r.FNR, true
	case MetricTNR:
		return r.TNR, true
	case MetricNPV:
		return r.NPV, true
	case MetricFDR:
		return r.FDR, true
	case MetricTPR:
		return r.TPR, true
	case MetricPPV:
		return r.PPV, true
	case MetricAccuracy:
		return r.Accuracy, true
	case MetricF1:
		return r.F1, true
	case MetricF2:
		return r.F2, true
	case MetricCohenKappa:
		return r.CohenKappa, true
	case MetricROCAUC:
		return r.ROCAUC, true
	case MetricLogLoss:
		return r.LogLoss, true
	}
	return 0, false
}

// AsMap はレポートを平坦化する
// 混同行列は confusion_matrix_tn, _fp, _fn, _tp に展開される
func (r *BinaryReport) AsMap() map[string]float64 {
	out := make(map[string]float64, len(BinaryMetricNames)+3)
	for _, name := range BinaryMetricNames {
		if name == MetricConfusionMatrix {
			cm := r.ConfusionMatrix
			out[name+"_tn"] = float64(cm.TN)
			out[name+"_fp"] = float64(cm.FP)
			out[name+"_fn"] = float64(cm.FN)
			out[name+"_tp"] = float64(cm.TP)
			continue
		}
		v, _ := r.Get(name)
		out[name] = v
	}
	return out
}

// ScoreByName はメトリクスを1つだけ計算する
// 混同行列はスカラーではないためエラーとする
func ScoreByName(yTrue, yProb *mat.VecDense, threshold float64, name string) (float64, error) {
	if name == MetricConfusionMatrix {
		return 0, errors.NewValueError("ScoreByName", "confusion_matrix is not a scalar metric, use BinaryConfusionMatrix")
	}
	report, err := BinaryClassificationReport(yTrue, yProb, threshold)
	if err != nil {
		return 0, err
	}
	v, ok := report.Get(name)
	if !ok {
		return 0, errors.NewValueError("ScoreByName", "unknown metric "+name)
	}
	return v, nil
}
