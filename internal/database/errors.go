// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"errors"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// MSSQL error numbers for the constraint classes below, from sys.messages.
const (
	mssqlUniqueViolation     int32 = 2627
	mssqlUniqueIndexConflict int32 = 2601
	mssqlConstraintViolation int32 = 547 // covers FK and CHECK; disambiguated by message text
)

// MySQL error numbers (errno), from the server's error manual.
const (
	mysqlDuplicateEntry  uint16 = 1062
	mysqlNoReferencedRow uint16 = 1452
	mysqlRowIsReferenced uint16 = 1451
	mysqlCheckConstraint uint16 = 3819
)

// IsUniqueConstraintError reports whether err came from violating a UNIQUE
// or PRIMARY KEY constraint, across all four supported dialects.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || sqlErr.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == mssqlUniqueViolation || msErr.Number == mssqlUniqueIndexConflict
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}

	return false
}

// IsCheckConstraintError reports whether err came from violating a CHECK
// constraint.
func IsCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code() == sqlitelib.SQLITE_CONSTRAINT_CHECK
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlCheckConstraint
	}

	// MS SQL reports CHECK violations under the same 547 number as FK
	// violations; the caller must disambiguate via the statement it ran.
	return false
}

// IsForeignKeyConstraintError reports whether err came from violating a
// FOREIGN KEY constraint.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code() == sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == mssqlConstraintViolation
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlNoReferencedRow || myErr.Number == mysqlRowIsReferenced
	}

	return false
}
