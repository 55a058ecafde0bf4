package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"folderwatch/internal/logging"
	"folderwatch/internal/records"
	"folderwatch/internal/services"
)

const upsertEmployeeSQL = `INSERT INTO employees (
    employee_id, first_name, last_name, email, department, position, salary, hire_date,
    source_file, source_fingerprint, ingested_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (employee_id) DO UPDATE SET
    first_name = excluded.first_name,
    last_name = excluded.last_name,
    email = excluded.email,
    department = excluded.department,
    position = excluded.position,
    salary = excluded.salary,
    hire_date = excluded.hire_date,
    source_file = excluded.source_file,
    source_fingerprint = excluded.source_fingerprint,
    ingested_at = excluded.ingested_at`

const employeeColumns = "employee_id, first_name, last_name, email, department, position, salary, hire_date"

// UpsertRecords commits every record of the batch in one transaction keyed by
// employee_id. Either all records become visible or none do.
func (g *Gateway) UpsertRecords(ctx context.Context, batch Batch) error {
	ctx = ensureContext(ctx)
	db := g.handle()
	if db == nil {
		return services.Wrap(services.ErrPersistence, "storage", "upsert records", "not connected", nil)
	}
	if len(batch.Records) == 0 {
		return nil
	}

	now := formatTime(time.Now())
	query := g.dialect.rebind(upsertEmployeeSQL)
	err := g.withTx(ctx, db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()
		for _, rec := range batch.Records {
			if _, err := stmt.ExecContext(ctx,
				rec.EmployeeID,
				rec.FirstName,
				rec.LastName,
				rec.Email,
				rec.Department,
				rec.Position,
				nullFloat(rec.Salary),
				nullString(rec.HireDate),
				batch.SourcePath,
				batch.Fingerprint,
				now,
			); err != nil {
				return fmt.Errorf("employee %s (line %d): %w", rec.EmployeeID, rec.Line, err)
			}
		}
		return nil
	})
	if err != nil {
		msg := "transaction rolled back"
		if IsConstraintViolation(err) {
			msg = "constraint violation; transaction rolled back"
		}
		return services.Wrap(services.ErrPersistence, "storage", "upsert records", msg, err)
	}

	g.logger.Debug("records upserted",
		logging.String(logging.FieldEventType, "records_upserted"),
		logging.String(logging.FieldPath, batch.SourcePath),
		logging.Int("records", len(batch.Records)),
	)
	return nil
}

// CountRecords returns the number of employee rows.
func (g *Gateway) CountRecords(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	db := g.handle()
	if db == nil {
		return 0, services.Wrap(services.ErrPersistence, "storage", "count records", "not connected", nil)
	}
	var count int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(1) FROM employees").Scan(&count); err != nil {
		return 0, services.Wrap(services.ErrPersistence, "storage", "count records", "", err)
	}
	return count, nil
}

// RecordsBySource returns the employees last written from sourcePath, ordered
// by employee_id.
func (g *Gateway) RecordsBySource(ctx context.Context, sourcePath string) ([]records.Record, error) {
	ctx = ensureContext(ctx)
	db := g.handle()
	if db == nil {
		return nil, services.Wrap(services.ErrPersistence, "storage", "records by source", "not connected", nil)
	}
	rows, err := db.QueryContext(ctx,
		g.dialect.rebind("SELECT "+employeeColumns+" FROM employees WHERE source_file = ? ORDER BY employee_id"),
		sourcePath,
	)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "storage", "records by source", "", err)
	}
	defer rows.Close()

	var out []records.Record
	for rows.Next() {
		var (
			rec      records.Record
			salary   sql.NullFloat64
			hireDate sql.NullString
		)
		if err := rows.Scan(&rec.EmployeeID, &rec.FirstName, &rec.LastName, &rec.Email,
			&rec.Department, &rec.Position, &salary, &hireDate); err != nil {
			return nil, services.Wrap(services.ErrPersistence, "storage", "records by source", "scan", err)
		}
		if salary.Valid {
			v := salary.Float64
			rec.Salary = &v
		}
		rec.HireDate = hireDate.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "storage", "records by source", "", err)
	}
	return out, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
