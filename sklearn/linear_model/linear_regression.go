package linear_model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/YuminosukeSato/mltrack/core/model"
	"github.com/YuminosukeSato/mltrack/metrics"
	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LinearRegression is a linear regression model using ordinary least squares
// Fully compatible with scikit-learn's LinearRegression
type LinearRegression struct {
	State *model.StateManager

	// Hyperparameters
	FitIntercept bool // Whether to learn the intercept
	CopyX        bool // Whether to copy input data

	// Learned parameters
	CoefVec      []float64 // Weight coefficients
	InterceptVal float64   // Intercept
	NFeatures    int
	NSamples     int
}

// NewLinearRegression は新しいLinearRegressionモデルを作成
func NewLinearRegression(options ...LinearRegressionOption) *LinearRegression {
	lr := &LinearRegression{
		State:        model.NewStateManager(),
		FitIntercept: true,
		CopyX:        true,
	}
	for _, opt := range options {
		opt(lr)
	}
	return lr
}

// LinearRegressionOption は設定オプション
type LinearRegressionOption func(*LinearRegression)

// WithLRFitIntercept は切片の学習有無を設定（LinearRegression用）
func WithLRFitIntercept(fit bool) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.FitIntercept = fit
	}
}

// WithCopyX はデータコピーの有無を設定
func WithCopyX(copy bool) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.CopyX = copy
	}
}

// Fit はモデルを訓練データで学習
func (lr *LinearRegression) Fit(X, y mat.Matrix) error {
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()

	// 入力検証
	if rows == 0 {
		return errors.NewValueError("LinearRegression.Fit", "empty training data")
	}
	if rows != yRows {
		return errors.NewDimensionError("LinearRegression.Fit", rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("LinearRegression.Fit", 1, yCols, 1)
	}

	var XWork mat.Matrix = X
	if lr.CopyX {
		XWork = mat.DenseCopyOf(X)
	}

	// 切片の処理: [ones | X]
	XFit := XWork
	if lr.FitIntercept {
		XWithIntercept := mat.NewDense(rows, cols+1, nil)
		for i := 0; i < rows; i++ {
			XWithIntercept.Set(i, 0, 1.0)
			for j := 0; j < cols; j++ {
				XWithIntercept.Set(i, j+1, XWork.At(i, j))
			}
		}
		XFit = XWithIntercept
	}
	_, fitCols := XFit.Dims()
	if rows < fitCols {
		return errors.NewValueError("LinearRegression.Fit",
			fmt.Sprintf("needs at least %d samples for %d coefficients, got %d", fitCols, fitCols, rows))
	}

	// 正規方程式より数値的に安定なQR分解を使用
	var qr mat.QR
	qr.Factorize(XFit)

	coefficients := mat.NewDense(fitCols, 1, nil)
	if err := qr.SolveTo(coefficients, false, y); err != nil {
		return errors.NewModelError("LinearRegression.Fit", "singular matrix", errors.ErrSingularMatrix)
	}

	offset := 0
	lr.InterceptVal = 0
	if lr.FitIntercept {
		lr.InterceptVal = coefficients.At(0, 0)
		offset = 1
	}
	lr.CoefVec = make([]float64, cols)
	for i := 0; i < cols; i++ {
		lr.CoefVec[i] = coefficients.At(i+offset, 0)
	}
	if err := errors.CheckNumericalStability("LinearRegression.Fit", lr.CoefVec, 0); err != nil {
		return err
	}

	lr.NFeatures, lr.NSamples = cols, rows
	lr.State.SetDimensions(cols, rows)
	lr.State.SetFitted()
	return nil
}

// Predict は入力データに対する予測を行う
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.State.RequireFitted("LinearRegression", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := lr.State.CheckFeatures("LinearRegression.Predict", cols); err != nil {
		return nil, err
	}

	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		pred := lr.InterceptVal
		for j := 0; j < cols; j++ {
			pred += X.At(i, j) * lr.CoefVec[j]
		}
		predictions.Set(i, 0, pred)
	}
	return predictions, nil
}

// Score はモデルの決定係数（R²）を計算
func (lr *LinearRegression) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2ScoreMatrix(y, predictions)
}

// Coef は学習された重み係数を返す
func (lr *LinearRegression) Coef() []float64 {
	if lr.CoefVec == nil {
		return nil
	}
	return append([]float64(nil), lr.CoefVec...)
}

// Intercept は学習された切片を返す
func (lr *LinearRegression) Intercept() float64 {
	return lr.InterceptVal
}

// GetParams returns the model's hyperparameters
func (lr *LinearRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"fit_intercept": lr.FitIntercept,
		"copy_X":        lr.CopyX,
	}
}

// SetParams sets the model's hyperparameters
func (lr *LinearRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "fit_intercept":
			lr.FitIntercept, err = model.ParamBool(key, value)
		case "copy_X":
			lr.CopyX, err = model.ParamBool(key, value)
		default:
			return errors.NewValidationError(key, "unknown parameter for LinearRegression", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// WeightHash は重みのハッシュ値を返す（再現性の検証用）
func (lr *LinearRegression) WeightHash() string {
	if !lr.State.IsFitted() {
		return ""
	}
	data := append(lr.Coef(), lr.InterceptVal)
	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// IsFitted returns whether the model has been fitted
func (lr *LinearRegression) IsFitted() bool {
	return lr.State.IsFitted()
}

// Clone は同じハイパーパラメータを持つ未学習のモデルを返す
func (lr *LinearRegression) Clone() *LinearRegression {
	return NewLinearRegression(
		WithLRFitIntercept(lr.FitIntercept),
		WithCopyX(lr.CopyX),
	)
}

// String returns the string representation of the model
func (lr *LinearRegression) String() string {
	if !lr.State.IsFitted() {
		return fmt.Sprintf("LinearRegression(fit_intercept=%t, copy_X=%t)", lr.FitIntercept, lr.CopyX)
	}
	return fmt.Sprintf("LinearRegression(fit_intercept=%t, n_features=%d, fitted=true)",
		lr.FitIntercept, lr.NFeatures)
}
