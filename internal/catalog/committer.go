// Package catalog owns an entity's product master list: creating products
// with their embeddings at commit, registering supplier mappings afterwards,
// and similarity search over the stored vectors.
package catalog

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/embed"
	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/resolve"
	"github.com/frepi/frepi-core/internal/store"
)

// PlannedProduct is one catalog product a commit will reuse or create.
type PlannedProduct struct {
	// StagedIDs are the staged products that consolidate into this entry.
	StagedIDs []int64
	Product   model.Product
	// Existing is set when the catalog already held the canonical key.
	Existing bool
}

// Plan is the product side of a commit.
type Plan struct {
	Items []*PlannedProduct
}

// Pending returns the entries that still need an embedding.
func (p *Plan) Pending() []*PlannedProduct {
	var out []*PlannedProduct
	for _, it := range p.Items {
		if !it.Existing && len(it.Product.Embedding) == 0 {
			out = append(out, it)
		}
	}
	return out
}

// ProductIDs maps staged product ids to catalog ids. Valid after Create.
func (p *Plan) ProductIDs() map[int64]int64 {
	out := make(map[int64]int64)
	for _, it := range p.Items {
		for _, sid := range it.StagedIDs {
			out[sid] = it.Product.ID
		}
	}
	return out
}

// Committer turns staged products into catalog products.
type Committer struct {
	embedder embed.Embedder
	log      *zap.Logger
}

// NewCommitter creates a Committer that embeds through e.
func NewCommitter(e embed.Embedder) *Committer {
	return &Committer{embedder: e, log: zap.L().With(zap.String("component", "catalog.committer"))}
}

// Plan groups staged products by canonical key and marks the keys the
// entity's catalog already holds.
func (c *Committer) Plan(ctx context.Context, tx *store.Tx, entityID int64, staged []model.StagedProduct) (*Plan, error) {
	plan := &Plan{}
	byKey := make(map[string]*PlannedProduct)
	for _, sp := range staged {
		key := resolve.CanonicalKey(sp.Name)
		if key == "" {
			return nil, model.NewValidationError("product_name", "staged product %d has an empty name", sp.ID)
		}
		if it, ok := byKey[key]; ok {
			it.StagedIDs = append(it.StagedIDs, sp.ID)
			continue
		}

		it := &PlannedProduct{StagedIDs: []int64{sp.ID}}
		existing, err := tx.ProductByKey(ctx, entityID, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			it.Product = *existing
			it.Existing = true
		} else {
			it.Product = model.Product{
				EntityID:      entityID,
				Name:          sp.Name,
				CanonicalKey:  key,
				Brand:         sp.Brand,
				Unit:          sp.Unit,
				Specification: sp.Specification,
			}
		}
		byKey[key] = it
		plan.Items = append(plan.Items, it)
	}
	return plan, nil
}

// Embed fetches vectors for every pending product. Failure aborts the
// commit: products are never created without an embedding.
func (c *Committer) Embed(ctx context.Context, plan *Plan) error {
	pending := plan.Pending()
	if len(pending) == 0 {
		return nil
	}
	texts := make([]string, len(pending))
	for i, it := range pending {
		texts[i] = it.Product.EmbeddingText()
	}
	vecs, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		if model.IsDependency(err) {
			return err
		}
		return model.NewDependencyError(embed.ServiceName, err)
	}
	if len(vecs) != len(pending) {
		return model.NewDependencyError(embed.ServiceName,
			eris.Errorf("catalog: requested %d embeddings, got %d", len(pending), len(vecs)))
	}
	for i, it := range pending {
		it.Product.Embedding = vecs[i]
	}
	c.log.Debug("embedded products", zap.Int("count", len(pending)))
	return nil
}

// Create inserts every new product. Existing entries are left untouched.
func (c *Committer) Create(ctx context.Context, tx *store.Tx, plan *Plan, at time.Time) error {
	for _, it := range plan.Items {
		if it.Existing {
			continue
		}
		if len(it.Product.Embedding) == 0 {
			return eris.Errorf("catalog: product %q has no embedding", it.Product.Name)
		}
		it.Product.CreatedAt = at
		if err := tx.CreateProduct(ctx, &it.Product); err != nil {
			return err
		}
	}
	return nil
}
