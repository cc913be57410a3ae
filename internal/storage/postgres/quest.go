package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cory-johannsen/gymguild/internal/game/quest"
	"github.com/cory-johannsen/gymguild/internal/guild"
)

const questColumns = `id, creator_id, title, description, quest_type, difficulty,
	is_public, xp_reward, status, proof_image_url, completed_at, created_at`

func scanQuest(row rowScanner) (*quest.Quest, error) {
	var (
		q      quest.Quest
		status string
	)
	err := row.Scan(
		&q.ID, &q.CreatorID, &q.Title, &q.Description, &q.QuestType, &q.Difficulty,
		&q.IsPublic, &q.XPReward, &status, &q.ProofImageURL, &q.CompletedAt, &q.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	q.Status = quest.Status(status)
	return &q, nil
}

func getQuest(ctx context.Context, q querier, id uuid.UUID, lock bool) (*quest.Quest, error) {
	out, err := scanQuest(q.QueryRow(ctx,
		`SELECT `+questColumns+` FROM quests WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		return nil, notFound(err, guild.ErrQuestNotFound, "quest "+id.String())
	}
	return out, nil
}

func listQuests(ctx context.Context, q querier, creatorID uuid.UUID) ([]*quest.Quest, error) {
	rows, err := q.Query(ctx, `
		SELECT `+questColumns+`
		FROM quests
		WHERE creator_id = $1
		ORDER BY created_at DESC, id ASC`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("listing quests: %w", err)
	}
	defer rows.Close()

	out := make([]*quest.Quest, 0)
	for rows.Next() {
		qu, err := scanQuest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning quest row: %w", err)
		}
		out = append(out, qu)
	}
	return out, rows.Err()
}

func listPublicQuests(ctx context.Context, q querier, viewer uuid.UUID, limit int) ([]*quest.Quest, error) {
	rows, err := q.Query(ctx, `
		SELECT `+questColumns+`
		FROM quests
		WHERE is_public AND creator_id <> $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2`, viewer, limit)
	if err != nil {
		return nil, fmt.Errorf("listing public quests: %w", err)
	}
	defer rows.Close()

	var out []*quest.Quest
	for rows.Next() {
		qu, err := scanQuest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning quest row: %w", err)
		}
		out = append(out, qu)
	}
	return out, rows.Err()
}

const supportColumns = `id, quest_id, supporter_id, emoji, created_at`

func listSupports(ctx context.Context, q querier, questID uuid.UUID) ([]*quest.Support, error) {
	rows, err := q.Query(ctx, `
		SELECT `+supportColumns+`
		FROM quest_supports
		WHERE quest_id = $1
		ORDER BY created_at ASC, id ASC`, questID)
	if err != nil {
		return nil, fmt.Errorf("listing quest supports: %w", err)
	}
	defer rows.Close()

	out := make([]*quest.Support, 0)
	for rows.Next() {
		var sp quest.Support
		if err := rows.Scan(&sp.ID, &sp.QuestID, &sp.SupporterID, &sp.Emoji, &sp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning support row: %w", err)
		}
		out = append(out, &sp)
	}
	return out, rows.Err()
}

func (t *tx) InsertQuest(ctx context.Context, q *quest.Quest) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO quests (`+questColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		q.ID, q.CreatorID, q.Title, q.Description, q.QuestType, q.Difficulty,
		q.IsPublic, q.XPReward, string(q.Status), q.ProofImageURL, q.CompletedAt, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting quest: %w", err)
	}
	return nil
}

func (t *tx) LockQuest(ctx context.Context, id uuid.UUID) (*quest.Quest, error) {
	return getQuest(ctx, t.q, id, true)
}

func (t *tx) UpdateQuest(ctx context.Context, q *quest.Quest, from quest.Status) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE quests
		SET status = $2, proof_image_url = $3, completed_at = $4
		WHERE id = $1 AND status = $5`,
		q.ID, string(q.Status), q.ProofImageURL, q.CompletedAt, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating quest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: quest %s is no longer %s", guild.ErrConcurrencyConflict, q.ID, from)
	}
	return nil
}

func (t *tx) UpsertSupport(ctx context.Context, s *quest.Support) (*quest.Support, bool, error) {
	var (
		out      quest.Support
		inserted bool
	)
	err := t.q.QueryRow(ctx, `
		INSERT INTO quest_supports (`+supportColumns+`)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (quest_id, supporter_id) DO UPDATE SET emoji = EXCLUDED.emoji
		RETURNING `+supportColumns+`, (xmax = 0)`,
		s.ID, s.QuestID, s.SupporterID, s.Emoji, s.CreatedAt,
	).Scan(&out.ID, &out.QuestID, &out.SupporterID, &out.Emoji, &out.CreatedAt, &inserted)
	if err != nil {
		if isForeignKeyError(err) {
			return nil, false, fmt.Errorf("%w: support for quest %s by %s", guild.ErrQuestNotFound, s.QuestID, s.SupporterID)
		}
		return nil, false, fmt.Errorf("upserting quest support: %w", err)
	}
	return &out, inserted, nil
}
