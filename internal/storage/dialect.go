package storage

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"folderwatch/internal/config"
)

type dialect struct {
	name       string
	driverName string
	numbered   bool
	schemaSQL  string
}

func dialectFor(driver string) dialect {
	if driver == config.DriverPostgres {
		return dialect{name: config.DriverPostgres, driverName: "postgres", numbered: true, schemaSQL: postgresSchemaSQL}
	}
	return dialect{name: config.DriverSQLite, driverName: "sqlite", schemaSQL: sqliteSchemaSQL}
}

// rebind rewrites "?" placeholders as $1..$n for PostgreSQL. Statements in this
// package never contain literal question marks.
func (d dialect) rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const (
	sqliteBusyCode   = sqlite3.SQLITE_BUSY
	sqliteConstraint = sqlite3.SQLITE_CONSTRAINT
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) && serr.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsConstraintViolation reports whether err came from a unique, check, or
// not-null constraint in either dialect.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()&0xff == sqliteConstraint
	}
	return false
}
