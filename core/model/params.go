package model

import (
	"fmt"
	"strconv"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

// ParamFloat converts a hyperparameter value to float64. Search spaces and
// YAML configs hand over ints, floats and numeric strings interchangeably.
func ParamFloat(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, errors.NewValidationError(name, "not a number", v)
		}
		return f, nil
	}
	return 0, errors.NewValidationError(name, fmt.Sprintf("unsupported type %T", v), v)
}

// ParamInt converts a hyperparameter value to int.
func ParamInt(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, errors.NewValidationError(name, "must be an integer", v)
		}
		return int(x), nil
	case string:
		i, err := strconv.Atoi(x)
		if err != nil {
			return 0, errors.NewValidationError(name, "not an integer", v)
		}
		return i, nil
	}
	return 0, errors.NewValidationError(name, fmt.Sprintf("unsupported type %T", v), v)
}

// ParamBool converts a hyperparameter value to bool.
func ParamBool(name string, v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, errors.NewValidationError(name, "not a boolean", v)
		}
		return b, nil
	}
	return false, errors.NewValidationError(name, fmt.Sprintf("unsupported type %T", v), v)
}

// ParamString converts a hyperparameter value to string.
func ParamString(name string, v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.NewValidationError(name, fmt.Sprintf("unsupported type %T", v), v)
}
