// Package model defines the estimator contracts shared by the sklearn-style
// packages and the automl pipelines built from them.
package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Scorer はスコアを計算できるモデルのインターフェース
// 分類器は正解率、回帰器は決定係数（R²）を返す
type Scorer interface {
	Score(X, y mat.Matrix) (float64, error)
}

// ParameterGetter はハイパーパラメータを公開するモデルのインターフェース
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter はハイパーパラメータを変更できるモデルのインターフェース
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// Estimator は学習・予測・パラメータ操作ができるモデル
type Estimator interface {
	Fitter
	Predictor
	Scorer
	ParameterGetter
	ParameterSetter
	IsFitted() bool
}

// Classifier は分類モデルのインターフェース
type Classifier interface {
	Estimator

	// PredictProba は各クラスの確率を (n_samples, n_classes) で返す
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes は学習時に観測したクラスラベルを返す
	Classes() []int
}

// Regressor は回帰モデルのインターフェース
type Regressor interface {
	Estimator
}

// IncrementalEstimator はミニバッチで逐次学習できるモデルのインターフェース
type IncrementalEstimator interface {
	Estimator

	// PartialFit はミニバッチでモデルを更新する
	// classes は分類問題で全クラスラベルを指定する（最初の呼び出し時のみ必須）
	PartialFit(X, y mat.Matrix, classes []int) error
}
