package config

import (
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/afero"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

// ConfigDir exposes each regular file of a directory as an environment variable.
type ConfigDir struct {
	dirPath string
	fs      afero.Fs
}

func NewConfigDir(base afero.Fs, dirPath string) (*ConfigDir, error) {
	if dirPath == "" {
		return nil, errors.NewValidationError(ConfigDirEnv, "empty config dir path", dirPath)
	}
	configDir := &ConfigDir{
		dirPath: dirPath,
		fs:      afero.NewBasePathFs(base, dirPath),
	}

	stat, err := configDir.fs.Stat("/")
	if err != nil {
		return nil, errors.Wrapf(err, "stat config dir %s", dirPath)
	}
	if !stat.IsDir() {
		return nil, errors.NewValidationError(ConfigDirEnv, "config dir path is not a directory", dirPath)
	}
	return configDir, nil
}

func (config *ConfigDir) EnvironmentMap() (map[string]string, error) {
	envMap := make(map[string]string)

	err := afero.Walk(config.fs, "/", func(path string, fileInfo fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fileInfo.IsDir() {
			return nil
		}
		name := fileInfo.Name()
		if _, alreadyExists := envMap[name]; alreadyExists {
			return errors.Newf("duplicate configuration value %s", name)
		}
		file, err := config.fs.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		contents, err := io.ReadAll(file)
		if err != nil {
			return err
		}
		envMap[name] = strings.TrimSpace(string(contents))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read config dir %s", config.dirPath)
	}
	return envMap, nil
}
