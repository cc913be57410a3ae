package postgres

import "github.com/jackc/pgx/v5"

// tx implements guild.Tx on one pgx transaction.
type tx struct {
	q pgx.Tx
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}
