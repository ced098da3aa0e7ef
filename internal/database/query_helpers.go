package database

import (
	"database/sql"
	"errors"
)

// queryRowSingle runs a single-row query inside tx. It returns nil, nil when
// no row matches.
func queryRowSingle[T any](
	tx *Tx,
	query string,
	scanFunc func(*sql.Row) (*T, error),
	args ...interface{},
) (*T, error) {
	result, err := scanFunc(tx.queryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// queryRows runs a multi-row query inside tx. A scan failure aborts the
// whole query rather than silently dropping rows.
func queryRows[T any](
	tx *Tx,
	query string,
	scanFunc func(*sql.Rows) (*T, error),
	args ...interface{},
) ([]*T, error) {
	rows, err := tx.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*T
	for rows.Next() {
		result, err := scanFunc(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// execAffected runs a statement and returns the number of affected rows
func execAffected(tx *Tx, query string, args ...interface{}) (int64, error) {
	result, err := tx.exec(query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// nullString maps "" to NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanNullableString converts sql.NullString to string.
func scanNullableString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
