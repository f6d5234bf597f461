// Package staging holds onboarding sessions and the facts extracted from
// their invoices until the session is committed.
package staging

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/store"
)

// Config tunes staging.
type Config struct {
	// DefaultCurrency applies to invoices that do not state one.
	DefaultCurrency string `mapstructure:"default_currency"`
	// MinConfidence rejects extractions scored below it. Zero accepts all.
	MinConfidence float64 `mapstructure:"min_confidence"`
	// InferPreferences stages price ceilings and dominant brands derived
	// from the invoices when a session is marked ready.
	InferPreferences bool `mapstructure:"infer_preferences"`
}

// DefaultConfig returns the standard staging settings.
func DefaultConfig() Config {
	return Config{DefaultCurrency: "BRL", InferPreferences: true}
}

// Service manages sessions and their staged facts. Nothing it does touches
// production tables.
type Service struct {
	store store.Store
	cfg   Config
	log   *zap.Logger
}

// NewService creates a staging Service.
func NewService(st store.Store, cfg Config) *Service {
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = DefaultConfig().DefaultCurrency
	}
	return &Service{store: st, cfg: cfg, log: zap.L().With(zap.String("component", "staging"))}
}

// Create opens a new session for a chat.
func (s *Service) Create(ctx context.Context, chatID int64) (*model.Session, error) {
	var sess *model.Session
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if sess, err = newSession(ctx, tx, chatID); err != nil {
			return err
		}
		return tx.CreateSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("session created", zap.String("session_id", sess.ID), zap.Int64("chat_id", chatID))
	return sess, nil
}

// GetOrCreate returns the chat's open or ready session, creating one when
// there is none.
func (s *Service) GetOrCreate(ctx context.Context, chatID int64) (*model.Session, error) {
	var sess *model.Session
	created := false
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if sess, err = tx.ActiveSessionForChat(ctx, chatID); err != nil || sess != nil {
			return err
		}
		if sess, err = newSession(ctx, tx, chatID); err != nil {
			return err
		}
		created = true
		return tx.CreateSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.log.Info("session created", zap.String("session_id", sess.ID), zap.Int64("chat_id", chatID))
	}
	return sess, nil
}

// newSession builds an open session. A chat already linked to an entity
// onboards into that entity again.
func newSession(ctx context.Context, tx *store.Tx, chatID int64) (*model.Session, error) {
	sess := &model.Session{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Status:    model.SessionOpen,
		CreatedAt: tx.Now(),
		UpdatedAt: tx.Now(),
	}
	c, err := tx.ContactByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if c != nil {
		sess.EntityID, sess.ContactID = &c.EntityID, &c.ID
	}
	return sess, nil
}

// Get returns a session.
func (s *Service) Get(ctx context.Context, id string) (*model.Session, error) {
	var sess *model.Session
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		sess, err = requireSession(ctx, tx, id)
		return err
	})
	return sess, err
}

// SetBasicInfo records the restaurant and contact details.
func (s *Service) SetBasicInfo(ctx context.Context, id string, info model.BasicInfo) error {
	info.RestaurantName = strings.TrimSpace(info.RestaurantName)
	info.ContactName = strings.TrimSpace(info.ContactName)
	info.City = strings.TrimSpace(info.City)
	info.RestaurantType = strings.TrimSpace(info.RestaurantType)
	if err := model.Validate(info); err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := requireOpen(ctx, tx, id); err != nil {
			return err
		}
		return tx.UpdateSessionInfo(ctx, id, info)
	})
}

// MarkReady closes an open session for review. It needs basic info and at
// least one staged price. With InferPreferences set the invoices are
// analyzed first.
func (s *Service) MarkReady(ctx context.Context, id string) error {
	return s.transition(ctx, id, model.SessionReady, func(tx *store.Tx, sess *model.Session) error {
		if err := model.Validate(model.BasicInfo{
			RestaurantName: sess.RestaurantName,
			City:           sess.City,
			RestaurantType: sess.RestaurantType,
			ContactName:    sess.ContactName,
		}); err != nil {
			return model.NewValidationError("basic_info", "session %s is missing restaurant or contact details", id)
		}
		_, prices, _, err := tx.StagedCounts(ctx, id)
		if err != nil {
			return err
		}
		if prices == 0 {
			return model.NewValidationError("prices", "session %s has no staged invoice lines", id)
		}
		if !s.cfg.InferPreferences {
			return nil
		}
		_, err = s.analyze(ctx, tx, id)
		return err
	})
}

// Reopen moves a ready session back to open so more invoices can be added.
func (s *Service) Reopen(ctx context.Context, id string) error {
	return s.transition(ctx, id, model.SessionOpen, nil)
}

// Abandon discards a session. Its staged rows stay for inspection but can
// never be committed.
func (s *Service) Abandon(ctx context.Context, id string) error {
	return s.transition(ctx, id, model.SessionAbandoned, nil)
}

func (s *Service) transition(ctx context.Context, id string, to model.SessionStatus, check func(*store.Tx, *model.Session) error) error {
	var from model.SessionStatus
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		sess, err := requireSession(ctx, tx, id)
		if err != nil {
			return err
		}
		from = sess.Status
		if !from.CanTransition(to) || to == model.SessionCommitted {
			return model.NewConflictError("session", "session %s cannot move from %s to %s", id, from, to)
		}
		if check != nil {
			if err := check(tx, sess); err != nil {
				return err
			}
		}
		ok, err := tx.TransitionSession(ctx, id, from, to)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewConflictError("session", "session %s changed status concurrently", id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("session status changed", zap.String("session_id", id), zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

// Summary aggregates what a session has staged.
func (s *Service) Summary(ctx context.Context, id string) (*model.SessionSummary, error) {
	var sum *model.SessionSummary
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		sess, err := requireSession(ctx, tx, id)
		if err != nil {
			return err
		}
		suppliers, err := tx.ListStagedSuppliers(ctx, id)
		if err != nil {
			return err
		}
		products, prices, prefs, err := tx.StagedCounts(ctx, id)
		if err != nil {
			return err
		}
		sum = &model.SessionSummary{
			Session:     *sess,
			Suppliers:   suppliers,
			Products:    products,
			Prices:      prices,
			Preferences: prefs,
		}
		for _, sup := range suppliers {
			sum.TotalSpend = sum.TotalSpend.Add(sup.TotalSpend)
		}
		return nil
	})
	return sum, err
}

func requireSession(ctx context.Context, tx *store.Tx, id string) (*model.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewValidationError("session_id", "%q is not a session id", id)
	}
	sess, err := tx.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, model.NewValidationError("session_id", "session %s does not exist", id)
	}
	return sess, nil
}

func requireOpen(ctx context.Context, tx *store.Tx, id string) (*model.Session, error) {
	sess, err := requireSession(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != model.SessionOpen {
		return nil, model.NewConflictError("session", "session %s is %s, not open", id, sess.Status)
	}
	return sess, nil
}
