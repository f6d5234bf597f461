package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/frepi/frepi-core/internal/model"
)

const profileColumns = `entity_id, sessions_last_30d, total_corrections, corrections_with_reason, drip_answered, drip_skipped,
	configured_products, score, level, drip_per_session, updated_at`

// CreateProfile inserts an engagement profile.
func (tx *Tx) CreateProfile(ctx context.Context, p *model.EngagementProfile) error {
	_, err := tx.q.exec(ctx,
		`INSERT INTO engagement_profiles (`+profileColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.EntityID, p.SessionsLast30d, p.TotalCorrections, p.CorrectionsWithReason, p.DripAnswered, p.DripSkipped,
		p.ConfiguredProducts, p.Score, string(p.Level), p.DripPerSession, p.UpdatedAt)
	return eris.Wrapf(err, "store: insert engagement profile %d", p.EntityID)
}

// GetProfile returns an entity's engagement profile, or nil.
func (tx *Tx) GetProfile(ctx context.Context, entityID int64) (*model.EngagementProfile, error) {
	var p model.EngagementProfile
	var level string
	err := tx.q.queryRow(ctx, `SELECT `+profileColumns+` FROM engagement_profiles WHERE entity_id = $1`, entityID).
		Scan(&p.EntityID, &p.SessionsLast30d, &p.TotalCorrections, &p.CorrectionsWithReason, &p.DripAnswered,
			&p.DripSkipped, &p.ConfiguredProducts, &p.Score, &level, &p.DripPerSession, &p.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get engagement profile %d", entityID)
	}
	p.Level = model.EngagementLevel(level)
	return &p, nil
}

// SaveProfile overwrites counters and derived fields.
func (tx *Tx) SaveProfile(ctx context.Context, p *model.EngagementProfile) error {
	n, err := tx.q.exec(ctx,
		`UPDATE engagement_profiles SET sessions_last_30d = $1, total_corrections = $2, corrections_with_reason = $3,
		 drip_answered = $4, drip_skipped = $5, configured_products = $6, score = $7, level = $8,
		 drip_per_session = $9, updated_at = $10 WHERE entity_id = $11`,
		p.SessionsLast30d, p.TotalCorrections, p.CorrectionsWithReason, p.DripAnswered, p.DripSkipped,
		p.ConfiguredProducts, p.Score, string(p.Level), p.DripPerSession, p.UpdatedAt, p.EntityID)
	if err != nil {
		return eris.Wrapf(err, "store: save engagement profile %d", p.EntityID)
	}
	return checkAffected(n, "engagement profile", p.EntityID)
}

// RecordSessionEvent appends a conversation session for an entity.
func (tx *Tx) RecordSessionEvent(ctx context.Context, entityID int64, at time.Time) error {
	_, err := tx.q.exec(ctx, `INSERT INTO session_events (entity_id, occurred_at) VALUES ($1, $2)`, entityID, at)
	return eris.Wrapf(err, "store: record session event %d", entityID)
}

// CountSessionsSince counts an entity's sessions at or after since.
func (tx *Tx) CountSessionsSince(ctx context.Context, entityID int64, since time.Time) (int, error) {
	var n int
	err := tx.q.queryRow(ctx,
		`SELECT COUNT(*) FROM session_events WHERE entity_id = $1 AND occurred_at >= $2`, entityID, since).Scan(&n)
	return n, eris.Wrapf(err, "store: count sessions %d", entityID)
}
