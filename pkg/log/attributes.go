package log

// Standard attribute keys. Keys follow a hierarchical naming convention
// ("model.name", "tracking.run_id") so that log lines can be filtered by
// prefix.

// Model and Operation Context
const (
	// ModelNameKey identifies the type of machine learning model.
	// Examples: "LogisticRegression", "StandardScaler", "AutoML"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ColumnsKey  = "data.columns"
	FractionKey = "data.fraction"
)

// Performance Metrics
const (
	DurationMsKey = "perf.duration_ms"
	AccuracyKey   = "metrics.accuracy"
	ScoreKey      = "metrics.score"
	LossKey       = "metrics.loss"
	IterationKey  = "training.iteration"
)

// Prediction and Output Context
const (
	PredsKey     = "preds.count"
	ThresholdKey = "preds.threshold"
)

// Tracking server context
const (
	// TrackingURIKey is the base URI of the tracking server.
	TrackingURIKey = "tracking.uri"

	// ExperimentIDKey and ExperimentNameKey identify the experiment.
	ExperimentIDKey   = "tracking.experiment_id"
	ExperimentNameKey = "tracking.experiment_name"

	// RunIDKey identifies the run a record belongs to.
	RunIDKey      = "tracking.run_id"
	RunNameKey    = "tracking.run_name"
	ParentRunKey  = "tracking.parent_run_id"
	RunStatusKey  = "tracking.run_status"
	EndpointKey   = "tracking.endpoint"
	StatusCodeKey = "tracking.status_code"
	AttemptKey    = "tracking.attempt"

	// MetricKeyKey / MetricValueKey describe a logged metric or parameter.
	MetricKeyKey   = "tracking.metric_key"
	MetricValueKey = "tracking.metric_value"
	ParamKeyKey    = "tracking.param_key"

	// ArtifactPathKey is the local or remote path of an artifact.
	ArtifactPathKey = "tracking.artifact_path"
)

// Automated search context
const (
	GenerationKey = "automl.generation"
	PipelineKey   = "automl.pipeline"
	EvaluatedKey  = "automl.evaluated"
)

// Error and Warning Context
const (
	ErrorCodeKey  = "error.code"
	ErrorTypeKey  = "error.type"
	SuggestionKey = "error.suggestion"
)

// Standard attribute value constants.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"
	OperationSearch       = "search"
	OperationLogData      = "log_data"
	OperationLogObject    = "log_object"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseInference  = "inference"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorNoActiveRun       = "NO_ACTIVE_RUN"
	ErrorConvergence       = "CONVERGENCE_FAILURE"
)
