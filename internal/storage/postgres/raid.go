package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cory-johannsen/gymguild/internal/game/raid"
	"github.com/cory-johannsen/gymguild/internal/guild"
)

const raidColumns = `id, title, description, boss_name, boss_image_url,
	boss_max_health, boss_current_health, xp_per_contribution, completion_bonus_xp,
	starts_at, ends_at, status, created_at`

func scanRaid(row rowScanner) (*raid.Raid, error) {
	var (
		r      raid.Raid
		status string
	)
	err := row.Scan(
		&r.ID, &r.Title, &r.Description, &r.BossName, &r.BossImageURL,
		&r.BossMaxHealth, &r.BossCurrentHealth, &r.XPPerContribution, &r.CompletionBonusXP,
		&r.StartsAt, &r.EndsAt, &status, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = raid.Status(status)
	if !r.Status.Valid() {
		return nil, fmt.Errorf("raid %s has unknown status %q", r.ID, status)
	}
	return &r, nil
}

func getRaid(ctx context.Context, q querier, id uuid.UUID, lock bool) (*raid.Raid, error) {
	r, err := scanRaid(q.QueryRow(ctx,
		`SELECT `+raidColumns+` FROM raids WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		return nil, notFound(err, guild.ErrRaidNotFound, "raid "+id.String())
	}
	return r, nil
}

func listOpenRaids(ctx context.Context, q querier) ([]*raid.Raid, error) {
	rows, err := q.Query(ctx, `
		SELECT `+raidColumns+`
		FROM raids
		WHERE status IN ('upcoming', 'active')
		ORDER BY starts_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing open raids: %w", err)
	}
	defer rows.Close()

	out := make([]*raid.Raid, 0)
	for rows.Next() {
		r, err := scanRaid(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning raid row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const participantColumns = `id, raid_id, user_id, damage_dealt, contribution_count, joined_at`

func scanParticipant(row rowScanner) (*raid.Participant, error) {
	var p raid.Participant
	if err := row.Scan(&p.ID, &p.RaidID, &p.UserID, &p.DamageDealt, &p.ContributionCount, &p.JoinedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func listParticipants(ctx context.Context, q querier, raidID uuid.UUID) ([]*raid.Participant, error) {
	rows, err := q.Query(ctx, `
		SELECT `+participantColumns+`
		FROM raid_participants
		WHERE raid_id = $1
		ORDER BY joined_at ASC, id ASC`, raidID)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	defer rows.Close()

	out := make([]*raid.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning participant row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func listContributions(ctx context.Context, q querier, raidID uuid.UUID) ([]*raid.Contribution, error) {
	rows, err := q.Query(ctx, `
		SELECT id, raid_id, participant_id, description, damage_amount, proof_image_url, created_at
		FROM raid_contributions
		WHERE raid_id = $1
		ORDER BY created_at ASC, id ASC`, raidID)
	if err != nil {
		return nil, fmt.Errorf("listing contributions: %w", err)
	}
	defer rows.Close()

	out := make([]*raid.Contribution, 0)
	for rows.Next() {
		var c raid.Contribution
		if err := rows.Scan(&c.ID, &c.RaidID, &c.ParticipantID, &c.Description, &c.DamageAmount, &c.ProofImageURL, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning contribution row: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (t *tx) InsertRaid(ctx context.Context, r *raid.Raid) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO raids (`+raidColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.Title, r.Description, r.BossName, r.BossImageURL,
		r.BossMaxHealth, r.BossCurrentHealth, r.XPPerContribution, r.CompletionBonusXP,
		r.StartsAt, r.EndsAt, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting raid: %w", err)
	}
	return nil
}

func (t *tx) LockRaid(ctx context.Context, id uuid.UUID) (*raid.Raid, error) {
	return getRaid(ctx, t.q, id, true)
}

func (t *tx) SetRaidStatus(ctx context.Context, id uuid.UUID, from, to raid.Status) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE raids SET status = $2 WHERE id = $1 AND status = $3`,
		id, string(to), string(from),
	)
	if err != nil {
		return fmt.Errorf("updating raid status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: raid %s is no longer %s", guild.ErrConcurrencyConflict, id, from)
	}
	return nil
}

// ApplyBossDamage decrements health in one guarded statement. A boss already
// at 0 yields guild.ErrConcurrencyConflict.
func (t *tx) ApplyBossDamage(ctx context.Context, raidID uuid.UUID, amount int) (int, int, error) {
	var before, after int
	err := t.q.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, boss_current_health AS health
			FROM raids WHERE id = $1 FOR UPDATE
		)
		UPDATE raids r
		SET boss_current_health = GREATEST(prev.health - $2, 0)
		FROM prev
		WHERE r.id = prev.id AND prev.health > 0
		RETURNING prev.health, r.boss_current_health`,
		raidID, amount,
	).Scan(&before, &after)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: boss of raid %s already at 0", guild.ErrConcurrencyConflict, raidID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("applying boss damage: %w", err)
	}
	return before, after, nil
}

func (t *tx) FindParticipant(ctx context.Context, raidID, userID uuid.UUID) (*raid.Participant, error) {
	p, err := scanParticipant(t.q.QueryRow(ctx, `
		SELECT `+participantColumns+`
		FROM raid_participants
		WHERE raid_id = $1 AND user_id = $2
		FOR UPDATE`, raidID, userID))
	if err != nil {
		return nil, notFound(err, raid.ErrNotAParticipant, fmt.Sprintf("user %s in raid %s", userID, raidID))
	}
	return p, nil
}

func (t *tx) InsertParticipant(ctx context.Context, p *raid.Participant) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO raid_participants (`+participantColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (raid_id, user_id) DO NOTHING`,
		p.ID, p.RaidID, p.UserID, p.DamageDealt, p.ContributionCount, p.JoinedAt,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return false, fmt.Errorf("%w: %s", guild.ErrRaidNotFound, p.RaidID)
		}
		return false, fmt.Errorf("inserting participant: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) InsertContribution(ctx context.Context, c *raid.Contribution) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO raid_contributions
			(id, raid_id, participant_id, description, damage_amount, proof_image_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.RaidID, c.ParticipantID, c.Description, c.DamageAmount, c.ProofImageURL, c.CreatedAt,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: participant %s", raid.ErrNotAParticipant, c.ParticipantID)
		}
		return fmt.Errorf("inserting contribution: %w", err)
	}
	return nil
}

func (t *tx) AddParticipantDamage(ctx context.Context, participantID uuid.UUID, damage int) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE raid_participants
		SET damage_dealt = damage_dealt + $2, contribution_count = contribution_count + 1
		WHERE id = $1`,
		participantID, damage,
	)
	if err != nil {
		return fmt.Errorf("updating participant totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: participant %s", raid.ErrNotAParticipant, participantID)
	}
	return nil
}

func (t *tx) ListParticipants(ctx context.Context, raidID uuid.UUID) ([]*raid.Participant, error) {
	return listParticipants(ctx, t.q, raidID)
}
