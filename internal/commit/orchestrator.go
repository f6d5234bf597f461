// Package commit turns a ready onboarding session into production rows in
// one all-or-nothing transaction.
package commit

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/catalog"
	"github.com/frepi/frepi-core/internal/drip"
	"github.com/frepi/frepi-core/internal/engagement"
	"github.com/frepi/frepi-core/internal/keylock"
	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/preference"
	"github.com/frepi/frepi-core/internal/pricing"
	"github.com/frepi/frepi-core/internal/resolve"
	"github.com/frepi/frepi-core/internal/store"
)

// Commit steps, in execution order.
const (
	StepLoadSession      = "load_session"
	StepCreateEntity     = "create_entity"
	StepLinkContact      = "link_contact"
	StepResolveSuppliers = "resolve_suppliers"
	StepEmbedProducts    = "embed_products"
	StepCreateProducts   = "create_products"
	StepMapSuppliers     = "map_suppliers"
	StepRecordPrices     = "record_prices"
	StepMergePreferences = "merge_preferences"
	StepSeedQueue        = "seed_queue"
	StepCreateEngagement = "create_engagement"
	StepFinalizeSession  = "finalize_session"
)

// Steps lists the production steps in order. StepLoadSession is a
// precondition check and is not part of it.
var Steps = []string{
	StepCreateEntity,
	StepLinkContact,
	StepResolveSuppliers,
	StepEmbedProducts,
	StepCreateProducts,
	StepMapSuppliers,
	StepRecordPrices,
	StepMergePreferences,
	StepSeedQueue,
	StepCreateEngagement,
	StepFinalizeSession,
}

// preferenceActor is recorded on preferences written at onboarding.
const preferenceActor = "onboarding"

// StepHook runs before each step. A non-nil error aborts the commit as if
// the step itself had failed.
type StepHook func(ctx context.Context, step string) error

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStepHook installs a hook called before every step.
func WithStepHook(h StepHook) Option {
	return func(o *Orchestrator) { o.hook = h }
}

// StepTiming is how long one step took.
type StepTiming struct {
	Step       string `json:"step"`
	DurationMS int64  `json:"duration_ms"`
}

// Result describes a committed session.
type Result struct {
	SessionID          string       `json:"session_id"`
	EntityID           int64        `json:"entity_id"`
	ContactID          int64        `json:"contact_id"`
	EntityReused       bool         `json:"entity_reused"`
	SuppliersMatched   int          `json:"suppliers_matched"`
	SuppliersCreated   int          `json:"suppliers_created"`
	ProductsCreated    int          `json:"products_created"`
	ProductsReused     int          `json:"products_reused"`
	MappingsCreated    int          `json:"mappings_created"`
	PricesRecorded     int          `json:"prices_recorded"`
	PricesSkipped      int          `json:"prices_skipped"`
	PreferencesApplied int          `json:"preferences_applied"`
	PreferencesSkipped int          `json:"preferences_skipped"`
	QueueSeeded        int          `json:"queue_seeded"`
	Level              string       `json:"engagement_level"`
	Steps              []StepTiming `json:"steps"`
}

// Orchestrator runs the commit steps.
type Orchestrator struct {
	store    store.Store
	locks    *keylock.Map
	resolver *resolve.Resolver
	products *catalog.Committer
	queue    *drip.Manager
	scorer   *engagement.Scorer
	hook     StepHook
	log      *zap.Logger
}

// New creates an Orchestrator. It shares the scorer's key locks so a commit
// into an existing entity is serialized with that entity's drip traffic.
func New(st store.Store, resolver *resolve.Resolver, products *catalog.Committer, queue *drip.Manager, scorer *engagement.Scorer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		locks:    scorer.Locks(),
		resolver: resolver,
		products: products,
		queue:    queue,
		scorer:   scorer,
		log:      zap.L().With(zap.String("component", "commit")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run carries the state passed from one step to the next.
type run struct {
	tx      *store.Tx
	sess    *model.Session
	res     *Result
	now     time.Time
	entity  *model.Entity
	contact *model.Contact

	suppliers map[int64]int64                     // staged supplier -> supplier
	plan      *catalog.Plan
	products  map[int64]int64                     // staged product -> product
	mappings  map[[2]int64]*model.SupplierProduct // (supplier, product) -> mapping
	names     map[int64]model.StagedProduct
	spends    map[int64]*model.ProductSpend // by product
}

// Commit moves a ready session into production. confirmed is the user's
// explicit approval and must be true. Any failure rolls back every step and
// is returned as a *model.StepError.
func (o *Orchestrator) Commit(ctx context.Context, sessionID string, confirmed bool) (*Result, error) {
	if !confirmed {
		return nil, &model.StepError{Step: StepLoadSession, Err: model.NewValidationError("confirmed", "commit needs explicit confirmation")}
	}

	unlock := o.locks.Lock(keylock.SessionKey(sessionID))
	defer unlock()

	sess, err := o.precheck(ctx, sessionID)
	if err != nil {
		return nil, &model.StepError{Step: StepLoadSession, Err: err}
	}
	if sess.EntityID != nil {
		unlockEntity := o.locks.Lock(keylock.EntityKey(*sess.EntityID))
		defer unlockEntity()
	}

	log := o.log.With(zap.String("session_id", sessionID))
	log.Info("commit: starting", zap.Int64("chat_id", sess.ChatID))
	start := time.Now()

	res := &Result{SessionID: sessionID}
	err = o.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockSession(ctx, sessionID); err != nil {
			return &model.StepError{Step: StepLoadSession, Err: err}
		}
		// Re-read under the lock: another process may have committed.
		cur, err := o.load(ctx, tx, sessionID)
		if err != nil {
			return &model.StepError{Step: StepLoadSession, Err: err}
		}

		r := &run{
			tx:        tx,
			sess:      cur,
			res:       res,
			now:       tx.Now(),
			suppliers: make(map[int64]int64),
			mappings:  make(map[[2]int64]*model.SupplierProduct),
			names:     make(map[int64]model.StagedProduct),
			spends:    make(map[int64]*model.ProductSpend),
		}
		steps := []struct {
			name string
			fn   func(context.Context, *run) error
		}{
			{StepCreateEntity, o.createEntity},
			{StepLinkContact, o.linkContact},
			{StepResolveSuppliers, o.resolveSuppliers},
			{StepEmbedProducts, o.embedProducts},
			{StepCreateProducts, o.createProducts},
			{StepMapSuppliers, o.mapSuppliers},
			{StepRecordPrices, o.recordPrices},
			{StepMergePreferences, o.mergePreferences},
			{StepSeedQueue, o.seedQueue},
			{StepCreateEngagement, o.createEngagement},
			{StepFinalizeSession, o.finalizeSession},
		}
		for _, s := range steps {
			if err := o.step(ctx, log, r, s.name, s.fn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if res.EntityReused {
			err = store.HaltOnViolation(ctx, o.store, err)
		}
		step, _ := model.FailedStep(err)
		log.Error("commit: failed, rolled back", zap.String("step", step), zap.Error(err))
		return nil, err
	}

	log.Info("commit: complete",
		zap.Int64("entity_id", res.EntityID),
		zap.Int("suppliers_created", res.SuppliersCreated),
		zap.Int("suppliers_matched", res.SuppliersMatched),
		zap.Int("products_created", res.ProductsCreated),
		zap.Int("prices", res.PricesRecorded),
		zap.Int("queue_seeded", res.QueueSeeded),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (o *Orchestrator) step(ctx context.Context, log *zap.Logger, r *run, name string, fn func(context.Context, *run) error) error {
	if o.hook != nil {
		if err := o.hook(ctx, name); err != nil {
			return &model.StepError{Step: name, Err: err}
		}
	}
	start := time.Now()
	if err := fn(ctx, r); err != nil {
		return &model.StepError{Step: name, Err: err}
	}
	d := time.Since(start)
	r.res.Steps = append(r.res.Steps, StepTiming{Step: name, DurationMS: d.Milliseconds()})
	log.Debug("commit: step complete", zap.String("step", name), zap.Duration("duration", d))
	return nil
}

// precheck fails fast, before any lock on the database is taken, on
// sessions that can never commit.
func (o *Orchestrator) precheck(ctx context.Context, sessionID string) (*model.Session, error) {
	var sess *model.Session
	err := o.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if sess, err = o.load(ctx, tx, sessionID); err != nil {
			return err
		}
		return adoptEntity(ctx, tx, sess)
	})
	return sess, err
}

// adoptEntity points a session at the entity its chat already belongs to.
// Sessions opened before that chat's first commit carry no entity yet.
func adoptEntity(ctx context.Context, tx *store.Tx, sess *model.Session) error {
	if sess.EntityID != nil {
		return nil
	}
	c, err := tx.ContactByChat(ctx, sess.ChatID)
	if err != nil || c == nil {
		return err
	}
	sess.EntityID, sess.ContactID = &c.EntityID, &c.ID
	return nil
}

func (o *Orchestrator) load(ctx context.Context, tx *store.Tx, sessionID string) (*model.Session, error) {
	sess, err := tx.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, model.NewValidationError("session_id", "session %s does not exist", sessionID)
	}
	switch sess.Status {
	case model.SessionReady:
		return sess, nil
	case model.SessionCommitted:
		return nil, model.NewConflictError("session", "session %s is already committed", sessionID)
	default:
		return nil, model.NewConflictError("session", "session %s is %s, not ready", sessionID, sess.Status)
	}
}

func (o *Orchestrator) createEntity(ctx context.Context, r *run) error {
	if err := adoptEntity(ctx, r.tx, r.sess); err != nil {
		return err
	}
	if r.sess.EntityID != nil {
		e, err := r.tx.RequireEntity(ctx, *r.sess.EntityID)
		if err != nil {
			return err
		}
		r.entity = e
		r.res.EntityID, r.res.EntityReused = e.ID, true
		return nil
	}
	e := &model.Entity{
		Name:                r.sess.RestaurantName,
		City:                r.sess.City,
		Type:                r.sess.RestaurantType,
		OnboardingSessionID: r.sess.ID,
		IsActive:            true,
		CreatedAt:           r.now,
	}
	if err := r.tx.CreateEntity(ctx, e); err != nil {
		return err
	}
	r.entity = e
	r.res.EntityID = e.ID
	return nil
}

func (o *Orchestrator) linkContact(ctx context.Context, r *run) error {
	existing, err := r.tx.ContactByChat(ctx, r.sess.ChatID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.EntityID != r.entity.ID {
			return model.NewConflictError("contact", "chat %d is already linked to entity %d", r.sess.ChatID, existing.EntityID)
		}
		r.contact = existing
		r.res.ContactID = existing.ID
		return nil
	}
	c := &model.Contact{
		EntityID:  r.entity.ID,
		ChatID:    r.sess.ChatID,
		FullName:  r.sess.ContactName,
		IsPrimary: true,
		CreatedAt: r.now,
	}
	if err := r.tx.CreateContact(ctx, c); err != nil {
		return err
	}
	r.contact = c
	r.res.ContactID = c.ID
	return nil
}

// resolveSuppliers matches each staged supplier against the registry. The
// registry is read through the transaction, so suppliers created earlier in
// this loop are candidates for later ones.
func (o *Orchestrator) resolveSuppliers(ctx context.Context, r *run) error {
	staged, err := r.tx.ListStagedSuppliers(ctx, r.sess.ID)
	if err != nil {
		return err
	}
	for _, ss := range staged {
		m, err := o.resolver.Resolve(ctx, r.tx, resolve.Candidate{Name: ss.Name, TaxID: ss.TaxID})
		if err != nil {
			return err
		}
		if m.Matched() {
			if err := r.tx.TouchSupplier(ctx, m.SupplierID, r.now); err != nil {
				return err
			}
			r.suppliers[ss.ID] = m.SupplierID
			r.res.SuppliersMatched++
			continue
		}
		now := r.now
		sup := &model.Supplier{
			Name:           ss.Name,
			NormalizedName: resolve.NormalizeName(ss.Name),
			TaxID:          resolve.NormalizeTaxID(ss.TaxID),
			Phone:          ss.Phone,
			Email:          ss.Email,
			City:           ss.City,
			Address:        ss.Address,
			IsActive:       true,
			LastActiveAt:   &now,
			CreatedAt:      now,
		}
		if err := r.tx.CreateSupplier(ctx, sup); err != nil {
			return err
		}
		r.suppliers[ss.ID] = sup.ID
		r.res.SuppliersCreated++
	}
	return nil
}

func (o *Orchestrator) embedProducts(ctx context.Context, r *run) error {
	staged, err := r.tx.ListStagedProducts(ctx, r.sess.ID)
	if err != nil {
		return err
	}
	for _, sp := range staged {
		r.names[sp.ID] = sp
	}
	if r.plan, err = o.products.Plan(ctx, r.tx, r.entity.ID, staged); err != nil {
		return err
	}
	return o.products.Embed(ctx, r.plan)
}

func (o *Orchestrator) createProducts(ctx context.Context, r *run) error {
	if err := o.products.Create(ctx, r.tx, r.plan, r.now); err != nil {
		return err
	}
	for _, it := range r.plan.Items {
		if it.Existing {
			r.res.ProductsReused++
		} else {
			r.res.ProductsCreated++
		}
	}
	r.products = r.plan.ProductIDs()
	return nil
}

func (o *Orchestrator) mapSuppliers(ctx context.Context, r *run) error {
	prices, err := r.tx.ListStagedPrices(ctx, r.sess.ID)
	if err != nil {
		return err
	}
	for _, p := range prices {
		supplierID, productID, err := r.pair(p)
		if err != nil {
			return err
		}
		key := [2]int64{supplierID, productID}
		if _, ok := r.mappings[key]; ok {
			continue
		}
		sp := r.names[p.StagedProductID]
		m := &model.SupplierProduct{
			SupplierID:          supplierID,
			ProductID:           productID,
			SupplierProductName: sp.Name,
			Method:              model.MatchOnboarding,
			Confidence:          sp.Confidence,
			CreatedAt:           r.now,
		}
		created, err := r.tx.EnsureMapping(ctx, m)
		if err != nil {
			return err
		}
		if created {
			r.res.MappingsCreated++
		}
		r.mappings[key] = m
	}
	return nil
}

func (r *run) pair(p model.StagedPrice) (supplierID, productID int64, err error) {
	supplierID, ok := r.suppliers[p.StagedSupplierID]
	if !ok {
		return 0, 0, model.NewValidationError("staged_supplier_id", "staged price %d references unknown staged supplier %d", p.ID, p.StagedSupplierID)
	}
	productID, ok = r.products[p.StagedProductID]
	if !ok {
		return 0, 0, model.NewValidationError("staged_product_id", "staged price %d references unknown staged product %d", p.ID, p.StagedProductID)
	}
	return supplierID, productID, nil
}

// recordPrices replays the session's invoice lines oldest first, so a later
// invoice for the same pair closes the earlier price.
func (o *Orchestrator) recordPrices(ctx context.Context, r *run) error {
	prices, err := r.tx.ListStagedPrices(ctx, r.sess.ID)
	if err != nil {
		return err
	}
	slices.SortStableFunc(prices, func(a, b model.StagedPrice) int {
		if c := a.InvoiceDate.Compare(b.InvoiceDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	for _, p := range prices {
		supplierID, productID, err := r.pair(p)
		if err != nil {
			return err
		}
		m := r.mappings[[2]int64{supplierID, productID}]
		rec, err := pricing.Record(ctx, r.tx, pricing.Entry{
			EntityID:      r.entity.ID,
			MappingID:     m.ID,
			SupplierID:    supplierID,
			ProductID:     productID,
			UnitPrice:     p.UnitPrice,
			Unit:          p.Unit,
			Currency:      p.Currency,
			EffectiveFrom: p.InvoiceDate,
			Source:        model.PriceFromInvoice,
			SkipStale:     r.res.EntityReused,
		})
		if err != nil {
			return err
		}
		if rec == nil {
			r.res.PricesSkipped++
		} else {
			r.res.PricesRecorded++
		}

		s, ok := r.spends[productID]
		if !ok {
			s = &model.ProductSpend{ProductID: productID, Order: p.StagedProductID}
			r.spends[productID] = s
		}
		s.Spend = s.Spend.Add(p.Spend())
		s.Order = min(s.Order, p.StagedProductID)
	}
	return nil
}

func (o *Orchestrator) mergePreferences(ctx context.Context, r *run) error {
	staged, err := r.tx.ListStagedPreferences(ctx, r.sess.ID)
	if err != nil {
		return err
	}
	for _, sp := range staged {
		src, err := sp.Origin.Source()
		if err != nil {
			return err
		}
		productID, ok := r.products[sp.StagedProductID]
		if !ok {
			return model.NewValidationError("staged_product_id", "staged preference %d references unknown staged product %d", sp.ID, sp.StagedProductID)
		}
		_, changed, err := preference.UpsertTx(ctx, r.tx, r.entity.ID, productID, sp.Value, src, preferenceActor)
		if err != nil {
			return err
		}
		if changed {
			r.res.PreferencesApplied++
		} else {
			r.res.PreferencesSkipped++
		}
	}
	return nil
}

func (o *Orchestrator) seedQueue(ctx context.Context, r *run) error {
	queued := make(map[int64]bool)
	if r.res.EntityReused {
		items, err := r.tx.ListQueue(ctx, r.entity.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			queued[it.ProductID] = true
		}
	}

	spends := make([]model.ProductSpend, 0, len(r.spends))
	for _, s := range r.spends {
		if !queued[s.ProductID] && s.Spend.GreaterThan(decimal.Zero) {
			spends = append(spends, *s)
		}
	}
	if len(spends) == 0 {
		return nil
	}
	items, err := o.queue.Seed(ctx, r.tx, r.entity.ID, spends)
	if err != nil {
		return err
	}
	r.res.QueueSeeded = len(items)
	return nil
}

func (o *Orchestrator) createEngagement(ctx context.Context, r *run) error {
	existing, err := r.tx.GetProfile(ctx, r.entity.ID)
	if err != nil {
		return err
	}
	var p *model.EngagementProfile
	if existing != nil {
		p, err = o.scorer.UpdateTx(ctx, r.tx, r.entity.ID, nil)
	} else {
		p, err = o.scorer.Create(ctx, r.tx, r.entity.ID)
	}
	if err != nil {
		return err
	}
	r.res.Level = string(p.Level)
	return nil
}

func (o *Orchestrator) finalizeSession(ctx context.Context, r *run) error {
	ok, err := r.tx.FinalizeSession(ctx, r.sess.ID, r.entity.ID, r.contact.ID)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewConflictError("session", "session %s changed status during commit", r.sess.ID)
	}
	return nil
}
