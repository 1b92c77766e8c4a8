// Package config loads settings from the environment, optionally overlaid by
// a directory holding one file per variable (CONFIG_DIR).
package config

import (
	"encoding/json"
	"os"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/spf13/afero"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

// ConfigDirEnv names the variable pointing at the overlay directory.
const ConfigDirEnv = "CONFIG_DIR"

var parseFuncs = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(map[string]string{}): env.ParserFunc(func(v string) (interface{}, error) {
		ret := make(map[string]string)
		err := json.Unmarshal([]byte(v), &ret)
		return ret, err
	}),
}

// Parse fills v from the process environment. Variables already set in the
// environment win over files in CONFIG_DIR.
func Parse(v interface{}) error {
	return ParseFs(afero.NewOsFs(), v)
}

// ParseFs is Parse with the CONFIG_DIR overlay read from fs.
func ParseFs(fs afero.Fs, v interface{}) error {
	opts := env.Options{}
	if configDirPath := os.Getenv(ConfigDirEnv); configDirPath != "" {
		configDir, err := NewConfigDir(fs, configDirPath)
		if err != nil {
			return err
		}
		opts.Environment, err = configDir.EnvironmentMap()
		if err != nil {
			return err
		}
		for _, existingEnv := range os.Environ() {
			key, value, _ := strings.Cut(existingEnv, "=")
			opts.Environment[key] = value
		}
	}
	if err := env.ParseWithFuncs(v, parseFuncs, opts); err != nil {
		return errors.Wrap(err, "parse environment")
	}
	return nil
}

// MustParse panics when Parse fails.
func MustParse(v interface{}) {
	if err := Parse(v); err != nil {
		panic(err)
	}
}
