package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/internal/guild"
)

func (t *tx) AppendTransaction(ctx context.Context, row *progression.Transaction) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO xp_transactions (id, user_id, amount, source, source_id, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		row.ID, row.UserID, row.Amount, string(row.Source), row.SourceID, row.Description, row.CreatedAt,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: user %s", guild.ErrCharacterNotFound, row.UserID)
		}
		return fmt.Errorf("inserting xp transaction: %w", err)
	}
	return nil
}

func listTransactions(ctx context.Context, q querier, userID uuid.UUID) ([]*progression.Transaction, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, amount, source, source_id, description, created_at
		FROM xp_transactions
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing xp transactions: %w", err)
	}
	defer rows.Close()

	out := make([]*progression.Transaction, 0)
	for rows.Next() {
		var (
			row    progression.Transaction
			source string
		)
		if err := rows.Scan(&row.ID, &row.UserID, &row.Amount, &source, &row.SourceID, &row.Description, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning xp transaction: %w", err)
		}
		row.Source = progression.Source(source)
		out = append(out, &row)
	}
	return out, rows.Err()
}
