package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/frepi/frepi-core/internal/model"
)

const entityColumns = `id, name, city, type, onboarding_session_id, is_active, halted_at, halt_reason, created_at`

func scanEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	if err := row.Scan(&e.ID, &e.Name, &e.City, &e.Type, &e.OnboardingSessionID,
		&e.IsActive, &e.HaltedAt, &e.HaltReason, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateEntity inserts e and sets its ID.
func (tx *Tx) CreateEntity(ctx context.Context, e *model.Entity) error {
	err := tx.q.queryRow(ctx,
		`INSERT INTO entities (name, city, type, onboarding_session_id, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		e.Name, e.City, e.Type, e.OnboardingSessionID, e.IsActive, e.CreatedAt,
	).Scan(&e.ID)
	return eris.Wrap(err, "store: insert entity")
}

// GetEntity returns the entity or nil when it does not exist.
func (tx *Tx) GetEntity(ctx context.Context, id int64) (*model.Entity, error) {
	e, err := scanEntity(tx.q.queryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get entity %d", id)
	}
	return e, nil
}

// RequireEntity loads an entity that must exist and must not be halted.
func (tx *Tx) RequireEntity(ctx context.Context, id int64) (*model.Entity, error) {
	e, err := tx.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, model.NewValidationError("entity_id", "entity %d does not exist", id)
	}
	if e.Halted() {
		return nil, model.NewConsistencyViolation(id, InvariantHalted, "processing halted since %s: %s",
			e.HaltedAt.Format("2006-01-02T15:04:05Z07:00"), e.HaltReason)
	}
	return e, nil
}

// HaltEntity suspends processing for an entity after an invariant breach.
func (tx *Tx) HaltEntity(ctx context.Context, id int64, reason string) error {
	n, err := tx.q.exec(ctx,
		`UPDATE entities SET halted_at = $1, halt_reason = $2 WHERE id = $3 AND halted_at IS NULL`,
		tx.at, reason, id)
	if err != nil {
		return eris.Wrapf(err, "store: halt entity %d", id)
	}
	if n == 0 {
		e, err := tx.GetEntity(ctx, id)
		if err != nil {
			return err
		}
		if e == nil {
			return eris.Errorf("store: entity %d not found", id)
		}
	}
	return nil
}

// ClearHalt resumes processing for an entity.
func (tx *Tx) ClearHalt(ctx context.Context, id int64) error {
	n, err := tx.q.exec(ctx, `UPDATE entities SET halted_at = NULL, halt_reason = '' WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "store: clear halt %d", id)
	}
	return checkAffected(n, "entity", id)
}

// --- contacts ---

const contactColumns = `id, entity_id, chat_id, full_name, is_primary, created_at`

// ContactByChat returns the contact linked to a chat id, or nil.
func (tx *Tx) ContactByChat(ctx context.Context, chatID int64) (*model.Contact, error) {
	var c model.Contact
	err := tx.q.queryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE chat_id = $1`, chatID).
		Scan(&c.ID, &c.EntityID, &c.ChatID, &c.FullName, &c.IsPrimary, &c.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: contact for chat %d", chatID)
	}
	return &c, nil
}

// CreateContact inserts c and sets its ID.
func (tx *Tx) CreateContact(ctx context.Context, c *model.Contact) error {
	err := tx.q.queryRow(ctx,
		`INSERT INTO contacts (entity_id, chat_id, full_name, is_primary, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		c.EntityID, c.ChatID, c.FullName, c.IsPrimary, c.CreatedAt,
	).Scan(&c.ID)
	return eris.Wrap(err, "store: insert contact")
}
