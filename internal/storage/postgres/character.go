package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gymguild/internal/game/character"
	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/internal/guild"
)

const characterColumns = `id, user_id, name, race, class,
	strength, agility, constitution, wisdom,
	xp, level, created_at, updated_at`

func scanCharacter(row rowScanner) (*character.Character, error) {
	var c character.Character
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Race, &c.Class,
		&c.Attributes.Strength, &c.Attributes.Agility,
		&c.Attributes.Constitution, &c.Attributes.Wisdom,
		&c.XP, &c.Level, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func getCharacter(ctx context.Context, q querier, userID uuid.UUID, lock bool) (*character.Character, error) {
	c, err := scanCharacter(q.QueryRow(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE user_id = $1`+forUpdate(lock), userID))
	if err != nil {
		return nil, notFound(err, guild.ErrCharacterNotFound, "character of user "+userID.String())
	}
	return c, nil
}

func leaderboard(ctx context.Context, q querier, limit int) ([]*character.Character, error) {
	rows, err := q.Query(ctx, `
		SELECT `+characterColumns+`
		FROM characters
		ORDER BY xp DESC, created_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer rows.Close()

	var out []*character.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning character row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *tx) InsertCharacter(ctx context.Context, c *character.Character) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO characters (`+characterColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.UserID, c.Name, c.Race, c.Class,
		c.Attributes.Strength, c.Attributes.Agility,
		c.Attributes.Constitution, c.Attributes.Wisdom,
		c.XP, c.Level, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: user %s", guild.ErrCharacterExists, c.UserID)
		}
		return fmt.Errorf("inserting character: %w", err)
	}
	return nil
}

func (t *tx) LockCharacter(ctx context.Context, userID uuid.UUID) (*character.Character, error) {
	return getCharacter(ctx, t.q, userID, true)
}

func (t *tx) LockStanding(ctx context.Context, userID uuid.UUID) (progression.Standing, error) {
	var s progression.Standing
	err := t.q.QueryRow(ctx,
		`SELECT xp, level FROM characters WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&s.XP, &s.Level)
	if err != nil {
		return progression.Standing{}, notFound(err, guild.ErrCharacterNotFound, "character of user "+userID.String())
	}
	return s, nil
}

func (t *tx) SaveStanding(ctx context.Context, userID uuid.UUID, s progression.Standing) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE characters SET xp = $2, level = $3, updated_at = NOW() WHERE user_id = $1`,
		userID, s.XP, s.Level,
	)
	if err != nil {
		return fmt.Errorf("saving standing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", guild.ErrCharacterNotFound, userID)
	}
	return nil
}
