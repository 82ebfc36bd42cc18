// Package repository persists batches, campaigns, user settings and the
// dispatch history in SQLite or PostgreSQL.
package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a row does not exist or is not owned by the caller
	ErrNotFound = errors.New("not found")

	// ErrCampaignInUse is returned when deleting a campaign that still has batches
	ErrCampaignInUse = errors.New("campaign has batches and can only be archived")

	// ErrDuplicate is returned on unique constraint violations
	ErrDuplicate = errors.New("duplicate record")
)

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func now() time.Time {
	return time.Now().UTC()
}
