package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// JSONParser reads a top-level array of employee objects.
type JSONParser struct{}

func (JSONParser) Parse(data []byte, _ FileMeta) ([]Record, error) {
	body, base := stripBOM(data)
	out, perr := parseJSON(body)
	return withBase(out, perr, base)
}

func parseJSON(data []byte) ([]Record, *ParseError) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ParseError{Reason: "empty file"}
	}

	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, jsonError(data, err, 0)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, newParseError(1, 0, "expected a top-level array of employee objects")
	}

	var out []Record
	ids := dedupe{}
	for dec.More() {
		offset := skipSeparators(data, dec.InputOffset())
		line := lineAt(data, offset)

		var raw map[string]json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, jsonError(data, err, offset)
		}
		entry, perr := jsonFields(raw, line, offset)
		if perr != nil {
			return nil, perr
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
	if _, err := dec.Token(); err != nil {
		return nil, jsonError(data, err, dec.InputOffset())
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		offset := dec.InputOffset()
		return nil, newParseError(lineAt(data, offset), offset, "unexpected data after top-level array")
	}
	return out, nil
}

// jsonFields flattens an object into string values. Strings and numbers are
// accepted for every field; null is treated as absent. Two keys that
// normalize to the same column are rejected, as in a CSV header.
func jsonFields(raw map[string]json.RawMessage, line int, offset int64) (fields, *ParseError) {
	entry := make(fields, len(raw))
	seen := make(map[string]string, len(raw))
	for key, value := range raw {
		name := normalizeKey(key)
		if other, dup := seen[name]; dup && name != "" {
			first, second := other, key
			if second < first {
				first, second = second, first
			}
			return nil, newParseError(line, offset, "duplicate field %q (keys %q and %q)", name, first, second)
		}
		seen[name] = key
		trimmed := bytes.TrimSpace(value)
		switch {
		case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
			continue
		case trimmed[0] == '"':
			var s string
			if err := json.Unmarshal(trimmed, &s); err != nil {
				return nil, newParseError(line, offset, "field %s: %v", name, err)
			}
			entry[name] = s
		case trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9'):
			entry[name] = string(trimmed)
		default:
			return nil, newParseError(line, offset, "field %s: expected string or number", name)
		}
	}
	return entry, nil
}

func jsonError(data []byte, err error, fallback int64) *ParseError {
	var syntax *json.SyntaxError
	if errors.As(err, &syntax) {
		return newParseError(lineAt(data, syntax.Offset), syntax.Offset, "malformed JSON: %s", syntax.Error())
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return newParseError(lineAt(data, typeErr.Offset), typeErr.Offset, "expected an employee object, got %s", typeErr.Value)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return newParseError(lineAt(data, int64(len(data))), int64(len(data)), "truncated JSON document")
	}
	return newParseError(lineAt(data, fallback), fallback, "%s", strings.TrimSpace(fmt.Sprint(err)))
}

func skipSeparators(data []byte, offset int64) int64 {
	for offset < int64(len(data)) {
		switch data[offset] {
		case ' ', '\t', '\r', '\n', ',':
			offset++
		default:
			return offset
		}
	}
	return offset
}

// lineAt returns the 1-based line containing byte offset.
func lineAt(data []byte, offset int64) int {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	if offset < 0 {
		offset = 0
	}
	return bytes.Count(data[:offset], []byte("\n")) + 1
}
