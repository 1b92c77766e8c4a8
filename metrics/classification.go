package metrics

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// logLossEps は log(0) を避けるための確率のクリップ幅
const logLossEps = 1e-15

// checkPair は入力ベクトルの共通検証を行い、要素数を返す
func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError(op, "empty vector")
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// checkBinaryLabels はラベルが 0/1 のみであることを検証する
func checkBinaryLabels(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		if v := y.AtVec(i); v != 0 && v != 1 {
			return errors.NewValueError(op, "labels must be binary (0 or 1)")
		}
	}
	return nil
}

// Accuracy は正解率を計算する（多クラス可）
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}

	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// AccuracyMatrix は列ベクトル形式の入力に対して正解率を計算する
func AccuracyMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	t, p, err := columnPair("AccuracyMatrix", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return Accuracy(t, p)
}

// ClassificationError は誤分類率 (1 - accuracy) を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// AUC は ROC 曲線下面積を Mann-Whitney U 統計量として計算する
//
// 同順位のスコアには平均順位を割り当てる。正例または負例しか存在しない場合は
// 定義できないため 0.5 を返す。
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinaryLabels("AUC", yTrue); err != nil {
		return 0, err
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return yScore.AtVec(idx[a]) < yScore.AtVec(idx[b])
	})

	// 同順位をまとめて平均順位を付与
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && yScore.AtVec(idx[j+1]) == yScore.AtVec(idx[i]) {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var nPos, nNeg, rankSum float64
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == 1 {
			nPos++
			rankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("roc_auc", "only one class present in y_true", 0.5))
		return 0.5, nil
	}

	u := rankSum - nPos*(nPos+1)/2
	return u / (nPos * nNeg), nil
}

// AUCMatrix は行列形式の入力に対して AUC を計算する（先頭列を使用）
func AUCMatrix(yTrue, yScore mat.Matrix) (float64, error) {
	t, s, err := columnPair("AUCMatrix", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	return AUC(t, s)
}

// columnPair は2つの行列の先頭列をベクトルとして取り出す
func columnPair(op string, yTrue, yPred mat.Matrix) (*mat.VecDense, *mat.VecDense, error) {
	if yTrue == nil || yPred == nil {
		return nil, nil, errors.NewValueError(op, "nil matrix")
	}
	t, err := firstColumn(op, yTrue)
	if err != nil {
		return nil, nil, err
	}
	p, err := firstColumn(op, yPred)
	if err != nil {
		return nil, nil, err
	}
	return t, p, nil
}

func firstColumn(op string, m mat.Matrix) (*mat.VecDense, error) {
	if v, ok := m.(*mat.VecDense); ok && v.Len() > 0 {
		return v, nil
	}
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewValueError(op, "empty matrix")
	}
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v, nil
}

// BinaryLogLoss は二値分類の対数損失（交差エントロピー）を計算する
// yProb は陽性クラスの確率で、[eps, 1-eps] にクリップされる
func BinaryLogLoss(yTrue, yProb *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yProb)
	if err != nil {
		return 0, err
	}
	if err := checkBinaryLabels("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		p := errors.ClipValue(yProb.AtVec(i), logLossEps, 1-logLossEps)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// Binarize は確率を閾値で 0/1 に変換する（p >= threshold を陽性とする）
func Binarize(yProb *mat.VecDense, threshold float64) (*mat.VecDense, error) {
	if yProb == nil || yProb.Len() == 0 {
		return nil, errors.NewValueError("Binarize", "empty vector")
	}
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, errors.NewValidationError("threshold", "must be within [0, 1]", threshold)
	}
	out := mat.NewVecDense(yProb.Len(), nil)
	for i := 0; i < yProb.Len(); i++ {
		if yProb.AtVec(i) >= threshold {
			out.SetVec(i, 1)
		}
	}
	return out, nil
}

// ConfusionMatrix は二値分類の混同行列
type ConfusionMatrix struct {
	TN int `json:"tn" yaml:"tn"`
	FP int `json:"fp" yaml:"fp"`
	FN int `json:"fn" yaml:"fn"`
	TP int `json:"tp" yaml:"tp"`
}

// Total はサンプル数を返す
func (c ConfusionMatrix) Total() int { return c.TN + c.FP + c.FN + c.TP }

// Dense は sklearn と同じ [[TN, FP], [FN, TP]] の配置で返す
func (c ConfusionMatrix) Dense() *mat.Dense {
	return mat.NewDense(2, 2, []float64{
		float64(c.TN), float64(c.FP),
		float64(c.FN), float64(c.TP),
	})
}

// BinaryConfusionMatrix は 0/1 の予測ラベルから混同行列を計算する
func BinaryConfusionMatrix(yTrue, yPred *mat.VecDense) (ConfusionMatrix, error) {
	var cm ConfusionMatrix
	n, err := checkPair("BinaryConfusionMatrix", yTrue, yPred)
	if err != nil {
		return cm, err
	}
	if err := checkBinaryLabels("BinaryConfusionMatrix", yTrue); err != nil {
		return cm, err
	}
	if err := checkBinaryLabels("BinaryConfusionMatrix", yPred); err != nil {
		return cm, err
	}

	for i := 0; i < n; i++ {
		switch t, p := yTrue.AtVec(i), yPred.AtVec(i); {
		case t == 1 && p == 1:
			cm.TP++
		case t == 0 && p == 1:
			cm.FP++
		case t == 1 && p == 0:
			cm.FN++
		default:
			cm.TN++
		}
	}
	return cm, nil
}

// ratio は分母が 0 の場合に UndefinedMetricWarning を出して 0 を返す
func ratio(metric, condition string, num, den int) float64 {
	if den == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(metric, condition, 0))
		return 0
	}
	return float64(num) / float64(den)
}

// FPR は偽陽性率 FP / (FP + TN)
func (c ConfusionMatrix) FPR() float64 { return ratio("fpr", "no negative samples", c.FP, c.FP+c.TN) }

// FNR は偽陰性率 FN / (TP + FN)
func (c ConfusionMatrix) FNR() float64 { return ratio("fnr", "no positive samples", c.FN, c.TP+c.FN) }

// TNR は特異度 TN / (TN + FP)
func (c ConfusionMatrix) TNR() float64 { return ratio("tnr", "no negative samples", c.TN, c.TN+c.FP) }

// NPV は陰性的中率 TN / (TN + FN)
func (c ConfusionMatrix) NPV() float64 { return ratio("npv", "no predicted negatives", c.TN, c.TN+c.FN) }

// FDR は偽発見率 FP / (TP + FP)
func (c ConfusionMatrix) FDR() float64 { return ratio("fdr", "no predicted positives", c.FP, c.TP+c.FP) }

// TPR は再現率 TP / (TP + FN)
func (c ConfusionMatrix) TPR() float64 { return ratio("tpr", "no positive samples", c.TP, c.TP+c.FN) }

// PPV は適合率 TP / (TP + FP)
func (c ConfusionMatrix) PPV() float64 { return ratio("ppv", "no predicted positives", c.TP, c.TP+c.FP) }

// Accuracy は (TP + TN) / N
func (c ConfusionMatrix) Accuracy() float64 {
	return ratio("accuracy", "no samples", c.TP+c.TN, c.Total())
}

// FBeta は適合率と再現率の重み付き調和平均
func (c ConfusionMatrix) FBeta(beta float64) float64 {
	b2 := beta * beta
	num := (1 + b2) * float64(c.TP)
	den := (1+b2)*float64(c.TP) + b2*float64(c.FN) + float64(c.FP)
	if den == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("fbeta", "no true or predicted positives", 0))
		return 0
	}
	return num / den
}

// CohenKappa は偶然の一致を補正した一致率
func (c ConfusionMatrix) CohenKappa() float64 {
	n := float64(c.Total())
	if n == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("cks", "no samples", 0))
		return 0
	}
	po := float64(c.TP+c.TN) / n
	pYes := float64(c.TP+c.FN) / n * float64(c.TP+c.FP) / n
	pNo := float64(c.TN+c.FP) / n * float64(c.TN+c.FN) / n
	pe := pYes + pNo
	if pe == 1 {
		errors.Warn(errors.NewUndefinedMetricWarning("cks", "expected agreement is 1", 0))
		return 0
	}
	return (po - pe) / (1 - pe)
}

// FBetaScore は 0/1 ラベルから F-beta スコアを計算する
func FBetaScore(yTrue, yPred *mat.VecDense, beta float64) (float64, error) {
	if beta <= 0 {
		return 0, errors.NewValidationError("beta", "must be positive", beta)
	}
	cm, err := BinaryConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return cm.FBeta(beta), nil
}

// CohenKappa は 0/1 ラベルから Cohen's kappa を計算する
func CohenKappa(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := BinaryConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return cm.CohenKappa(), nil
}
