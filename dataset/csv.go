package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/mltrack/pkg/errors"
	"github.com/spf13/afero"
	"gonum.org/v1/gonum/mat"
)

// missing values recognised in CSV cells, compared case-insensitively.
var missingTokens = map[string]bool{"": true, "na": true, "nan": true, "null": true, "n/a": true}

// ReadCSV parses a headed CSV of numeric columns. Missing cells become NaN.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.NewValueError("dataset.ReadCSV", "empty input")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var values []float64
	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read csv row %d", rows+1)
		}
		for j, cell := range record {
			cell = strings.TrimSpace(cell)
			if missingTokens[strings.ToLower(cell)] {
				values = append(values, math.NaN())
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, errors.NewValueError("dataset.ReadCSV",
					fmt.Sprintf("row %d column %q: %q is not numeric", rows+1, header[j], cell))
			}
			values = append(values, v)
		}
		rows++
	}
	if rows == 0 {
		return nil, errors.NewValueError("dataset.ReadCSV", "no data rows")
	}
	return NewFrame(header, mat.NewDense(rows, len(header), values))
}

// ReadCSVFile reads path from fs with ReadCSV.
func ReadCSVFile(fs afero.Fs, path string) (*Frame, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()
	return ReadCSV(file)
}
