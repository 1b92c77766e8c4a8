package errors

import "math"

// finite は NaN と ±Inf を除外する
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CheckNumericalStability は values に非有限値が含まれていれば
// NumericalInstabilityError を返します。iteration は反復回数やフォールド番号です。
func CheckNumericalStability(operation string, values []float64, iteration int) error {
	for _, v := range values {
		if !finite(v) {
			return NewNumericalInstabilityError(operation, values, iteration)
		}
	}
	return nil
}

// CheckScalar はスコアや損失など単一の値を検査します。
func CheckScalar(operation string, value float64, iteration int) error {
	if finite(value) {
		return nil
	}
	return NewNumericalInstabilityError(operation, []float64{value}, iteration)
}

// ClipValue は value を [lo, hi] に収めます（確率のクリップに使用）。
func ClipValue(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

// LogSumExp は log(Σ exp(v)) を最大値シフトで安定に計算します。
// 空スライスや全要素 -Inf の場合は -Inf を返します。
func LogSumExp(values []float64) float64 {
	shift := math.Inf(-1)
	for _, v := range values {
		shift = math.Max(shift, v)
	}
	if math.IsInf(shift, -1) {
		return shift
	}
	var sum float64
	for _, v := range values {
		sum += math.Exp(v - shift)
	}
	return shift + math.Log(sum)
}
