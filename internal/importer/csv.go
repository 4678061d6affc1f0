package importer

import (
	"encoding/csv"
	"errors"
	"io"
	"slices"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/fingerprint"
	"github.com/JonMunkholm/contacthub/internal/mapping"
)

// ParseCSV reads a CSV file laid out as m describes and applies m's rules to
// every data row. The file's header row must hash to m.HeaderHash. Columns
// without a rule are ignored. maxRows <= 0 disables the row limit.
func ParseCSV(r io.Reader, m *mapping.Mapping, maxRows int) ([]ImportRow, error) {
	reader := newCSVReader(r)
	header, err := readHeader(reader)
	if err != nil {
		return nil, err
	}

	normalized := fingerprint.NormalizeHeaders(header)
	if got := fingerprint.Headers(normalized); got != m.HeaderHash {
		return nil, apperror.Validation("header mismatch: file headers hash to %s, mapping is %s", got, m.HeaderHash).WithCode("FILE005")
	}
	if len(m.Rules) == 0 {
		return nil, apperror.Validation("invalid rules: mapping %s has no rules", m.HeaderHash).WithCode("MAP003")
	}

	fields := make([]string, len(normalized))
	for i, col := range normalized {
		fields[i] = m.Rules[col]
	}

	var rows []ImportRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalidCSV(err)
		}
		if maxRows > 0 && len(rows) >= maxRows {
			return nil, apperror.Validation("file has more than %d rows", maxRows)
		}

		var row ImportRow
		for i, value := range record {
			if i < len(fields) && fields[i] != "" {
				row.Set(fields[i], value)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadHeader returns the raw header row of a CSV file.
func ReadHeader(r io.Reader) ([]string, error) {
	header, err := readHeader(newCSVReader(r))
	if err != nil {
		return nil, err
	}
	return slices.Clone(header), nil
}

func newCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(wrapCSV(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true
	return reader
}

func readHeader(reader *csv.Reader) ([]string, error) {
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperror.Validation("empty file: no header row").WithCode("FILE004")
	}
	if err != nil {
		return nil, invalidCSV(err)
	}
	return header, nil
}

func invalidCSV(err error) error {
	return &apperror.Error{Kind: apperror.KindValidation, Code: "FILE002", Msg: "invalid csv", Err: err}
}
