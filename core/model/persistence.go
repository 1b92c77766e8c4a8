package model

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
)

// SaveModel はモデルをファイルに gob 形式で保存する
//
// 使用例:
//
//	lr := linear_model.NewLogisticRegression()
//	// ... モデルの学習 ...
//	err := model.SaveModel(afero.NewOsFs(), lr, "model.gob")
func SaveModel(fs afero.Fs, model interface{}, filename string) error {
	file, err := fs.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create %s", filename)
	}
	defer file.Close()

	return SaveModelToWriter(model, file)
}

// LoadModel はファイルからモデルを読み込む
func LoadModel(fs afero.Fs, model interface{}, filename string) error {
	file, err := fs.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "open %s", filename)
	}
	defer file.Close()

	return LoadModelFromReader(model, file)
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(model interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(model); err != nil {
		return errors.Wrap(err, "encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(model interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(model); err != nil {
		return errors.Wrap(err, "decode model")
	}
	return nil
}
