package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

// 回帰指標の名前（AutoML の scoring に使用）
const (
	MetricR2                = "r2"
	MetricMSE               = "mse"
	MetricRMSE              = "rmse"
	MetricMAE               = "mae"
	MetricExplainedVariance = "explained_variance"
)

// RegressionMetricNames は RegressionScoreByName が受け付ける名前
var RegressionMetricNames = []string{MetricR2, MetricMSE, MetricRMSE, MetricMAE, MetricExplainedVariance}

// residuals は yTrue - yPred を返す
func residuals(op string, yTrue, yPred *mat.VecDense) ([]float64, error) {
	if _, err := checkPair(op, yTrue, yPred); err != nil {
		return nil, err
	}
	r := make([]float64, yTrue.Len())
	floats.SubTo(r, mat.Col(nil, 0, yTrue), mat.Col(nil, 0, yPred))
	return r, nil
}

// MSE は平均二乗誤差 (1/n)Σ(yTrue - yPred)²
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	r, err := residuals("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return floats.Dot(r, r) / float64(len(r)), nil
}

// MSEMatrix は n×1 行列どうしの MSE
func MSEMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	t, p, err := columnPair("MSEMatrix", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if _, c := yTrue.Dims(); c != 1 {
		return 0, errors.NewValueError("MSEMatrix", "must be a column vector (n×1 matrix)")
	}
	return MSE(t, p)
}

// RMSE は MSE の平方根
func RMSE(yTrue, yPred *mat.VecDense) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE は平均絶対誤差
func MAE(yTrue, yPred *mat.VecDense) (float64, error) {
	r, err := residuals("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return floats.Norm(r, 1) / float64(len(r)), nil
}

// R2Score は決定係数 1 - RSS/TSS
// yTrue が定数の場合 TSS = 0 となりエラーを返す
func R2Score(yTrue, yPred *mat.VecDense) (float64, error) {
	r, err := residuals("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	y := mat.Col(nil, 0, yTrue)
	mean := stat.Mean(y, nil)
	var tss float64
	for _, v := range y {
		tss += (v - mean) * (v - mean)
	}
	if tss == 0 {
		return 0, errors.NewValueError("R2Score", "total sum of squares is zero (no variance in yTrue)")
	}
	return 1 - floats.Dot(r, r)/tss, nil
}

// R2ScoreMatrix は列ベクトル形式の入力に対する決定係数
func R2ScoreMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	t, p, err := columnPair("R2ScoreMatrix", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return R2Score(t, p)
}

// MAPE は平均絶対パーセンテージ誤差（%）
// yTrue が 0 の要素は除外する
func MAPE(yTrue, yPred *mat.VecDense) (float64, error) {
	r, err := residuals("MAPE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	var sum float64
	valid := 0
	for i, d := range r {
		if t := yTrue.AtVec(i); t != 0 {
			sum += math.Abs(d / t)
			valid++
		}
	}
	if valid == 0 {
		return 0, errors.NewValueError("MAPE", "all yTrue values are zero")
	}
	return sum / float64(valid) * 100, nil
}

// ExplainedVarianceScore は 1 - Var(yTrue - yPred) / Var(yTrue)
func ExplainedVarianceScore(yTrue, yPred *mat.VecDense) (float64, error) {
	r, err := residuals("ExplainedVarianceScore", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	y := mat.Col(nil, 0, yTrue)
	_, varTrue := stat.PopMeanVariance(y, nil)
	if varTrue == 0 {
		return 0, errors.NewValueError("ExplainedVarianceScore", "no variance in yTrue")
	}
	_, varRes := stat.PopMeanVariance(r, nil)
	return 1 - varRes/varTrue, nil
}

// RegressionScoreByName は名前で回帰指標を計算する
func RegressionScoreByName(yTrue, yPred *mat.VecDense, name string) (float64, error) {
	switch name {
	case MetricR2:
		return R2Score(yTrue, yPred)
	case MetricMSE:
		return MSE(yTrue, yPred)
	case MetricRMSE:
		return RMSE(yTrue, yPred)
	case MetricMAE:
		return MAE(yTrue, yPred)
	case MetricExplainedVariance:
		return ExplainedVarianceScore(yTrue, yPred)
	}
	return 0, errors.NewValueError("RegressionScoreByName", "unknown regression metric "+name)
}
