// Package records turns the bytes of one dropped file into validated employee
// records.
//
// Parsing is pure: parsers see only the provided bytes and metadata, never the
// filesystem. A file either yields all of its records or a single *ParseError
// describing the first malformed entry.
package records

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"folderwatch/internal/services"
)

// HireDateLayout is the accepted hire_date format.
const HireDateLayout = "2006-01-02"

// Column names shared by the CSV header and JSON object keys.
const (
	ColumnEmployeeID = "employee_id"
	ColumnFirstName  = "first_name"
	ColumnLastName   = "last_name"
	ColumnEmail      = "email"
	ColumnDepartment = "department"
	ColumnPosition   = "position"
	ColumnSalary     = "salary"
	ColumnHireDate   = "hire_date"
)

var requiredColumns = []string{ColumnEmployeeID, ColumnFirstName, ColumnLastName, ColumnEmail}

// Record is one employee row.
type Record struct {
	EmployeeID string
	FirstName  string
	LastName   string
	Email      string
	Department string
	Position   string
	Salary     *float64
	HireDate   string

	// Line and Offset locate the entry in its source file (1-based line,
	// 0-based byte offset).
	Line   int
	Offset int64
}

// FileMeta describes the file whose bytes are being parsed.
type FileMeta struct {
	Path        string
	Size        int64
	ModTime     time.Time
	Fingerprint string
}

// Parser converts file bytes into records.
type Parser interface {
	Parse(data []byte, meta FileMeta) ([]Record, error)
}

// ParseError reports why a file could not be parsed and where.
type ParseError struct {
	Reason string
	Line   int
	Offset int64
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return e.Reason
}

// Is lets errors.Is(err, services.ErrParse) classify parse failures.
func (e *ParseError) Is(target error) bool {
	return target == services.ErrParse
}

func newParseError(line int, offset int64, format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Line: line, Offset: offset}
}

var utf8BOM = []byte("\ufeff")

// stripBOM drops a leading UTF-8 byte order mark and reports its length.
func stripBOM(data []byte) ([]byte, int64) {
	if bytes.HasPrefix(data, utf8BOM) {
		return data[len(utf8BOM):], int64(len(utf8BOM))
	}
	return data, 0
}

// withBase shifts positions measured after a stripped BOM back onto the file
// as stored. Offset 0 marks the start of the file and is left alone.
func withBase(out []Record, perr *ParseError, base int64) ([]Record, error) {
	if perr != nil {
		if perr.Offset > 0 {
			perr.Offset += base
		}
		return nil, perr
	}
	for i := range out {
		out[i].Offset += base
	}
	return out, nil
}

// ErrUnsupportedFormat is returned by ForPath for extensions without a parser.
var ErrUnsupportedFormat = errors.New("unsupported record format")

// ForPath selects a parser by file extension.
func ForPath(path string) (Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return CSVParser{}, nil
	case ".json":
		return JSONParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Parse is a convenience wrapper that selects the parser from meta.Path. An
// unsupported extension is reported as a ParseError.
func Parse(data []byte, meta FileMeta) ([]Record, error) {
	parser, err := ForPath(meta.Path)
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	return parser.Parse(data, meta)
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(strings.TrimPrefix(key, "\ufeff"))
	key = strings.ToLower(key)
	return strings.Join(strings.FieldsFunc(key, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-'
	}), "_")
}

// fields holds the raw string values of one entry keyed by normalized column.
type fields map[string]string

// build validates raw values and produces a normalized Record.
func (f fields) build(line int, offset int64) (Record, *ParseError) {
	for _, col := range requiredColumns {
		if strings.TrimSpace(f[col]) == "" {
			return Record{}, newParseError(line, offset, "missing required field %s", col)
		}
	}

	rec := Record{
		EmployeeID: strings.TrimSpace(f[ColumnEmployeeID]),
		FirstName:  collapseSpaces(f[ColumnFirstName]),
		LastName:   collapseSpaces(f[ColumnLastName]),
		Department: titleCase(f[ColumnDepartment]),
		Position:   titleCase(f[ColumnPosition]),
		Line:       line,
		Offset:     offset,
	}

	email := strings.ToLower(strings.TrimSpace(f[ColumnEmail]))
	if !validEmail(email) {
		return Record{}, newParseError(line, offset, "invalid email %q", f[ColumnEmail])
	}
	rec.Email = email

	if raw := strings.TrimSpace(f[ColumnSalary]); raw != "" {
		salary, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(salary) || math.IsInf(salary, 0) {
			return Record{}, newParseError(line, offset, "invalid salary %q", raw)
		}
		if salary < 0 {
			return Record{}, newParseError(line, offset, "negative salary %s", raw)
		}
		rec.Salary = &salary
	}

	if raw := strings.TrimSpace(f[ColumnHireDate]); raw != "" {
		if _, err := time.Parse(HireDateLayout, raw); err != nil {
			return Record{}, newParseError(line, offset, "invalid hire_date %q (want YYYY-MM-DD)", raw)
		}
		rec.HireDate = raw
	}

	return rec, nil
}

// dedupe rejects a file that repeats an employee_id.
type dedupe map[string]int

func (d dedupe) check(rec Record) *ParseError {
	if first, ok := d[rec.EmployeeID]; ok {
		return newParseError(rec.Line, rec.Offset, "duplicate employee_id %q (first seen on line %d)", rec.EmployeeID, first)
	}
	d[rec.EmployeeID] = rec.Line
	return nil
}

func validEmail(email string) bool {
	if email == "" || strings.ContainsAny(email, " \t<>") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}

var titleCaser = cases.Title(language.English)

func titleCase(value string) string {
	value = collapseSpaces(value)
	if value == "" {
		return ""
	}
	return titleCaser.String(value)
}

func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
