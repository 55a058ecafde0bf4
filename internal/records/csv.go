package records

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// CSVParser reads a header row followed by one employee per row.
type CSVParser struct{}

func (CSVParser) Parse(data []byte, _ FileMeta) ([]Record, error) {
	body, base := stripBOM(data)
	out, perr := parseCSV(body)
	return withBase(out, perr, base)
}

func parseCSV(data []byte) ([]Record, *ParseError) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Reason: "empty file"}
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, csvError(err, 1)
	}
	columns := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, name := range header {
		key := normalizeKey(name)
		if _, dup := seen[key]; dup && key != "" {
			return nil, newParseError(1, 0, "duplicate column %q", key)
		}
		seen[key] = struct{}{}
		columns[i] = key
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := seen[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, newParseError(1, 0, "header missing columns: %s", strings.Join(missing, ", "))
	}

	var out []Record
	ids := dedupe{}
	for {
		offset := reader.InputOffset()
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(err, 0)
		}
		line, _ := reader.FieldPos(0)

		entry := make(fields, len(columns))
		for i, value := range row {
			entry[columns[i]] = value
		}
		rec, perr := entry.build(line, offset)
		if perr != nil {
			return nil, perr
		}
		if perr := ids.check(rec); perr != nil {
			return nil, perr
		}
		out = append(out, rec)
	}
	return out, nil
}

func csvError(err error, fallbackLine int) *ParseError {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return &ParseError{Reason: perr.Err.Error(), Line: perr.Line}
	}
	return &ParseError{Reason: err.Error(), Line: fallbackLine}
}
