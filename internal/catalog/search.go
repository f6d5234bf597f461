package catalog

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/frepi/frepi-core/internal/embed"
	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/store"
)

// Band is the confidence bucket of a similarity score.
type Band string

// Confidence bands.
const (
	BandHigh   Band = "high"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// SearchConfig holds the banding thresholds and the default result limit.
type SearchConfig struct {
	HighThreshold   float64 `mapstructure:"high_threshold"`
	MediumThreshold float64 `mapstructure:"medium_threshold"`
	Limit           int     `mapstructure:"limit"`
}

// DefaultSearchConfig returns the standard bands: above 0.85 is high, 0.70
// up to 0.85 is medium, below 0.70 is low.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{HighThreshold: 0.85, MediumThreshold: 0.70, Limit: 5}
}

// BandFor buckets a similarity score.
func (c SearchConfig) BandFor(similarity float64) Band {
	switch {
	case similarity > c.HighThreshold:
		return BandHigh
	case similarity >= c.MediumThreshold:
		return BandMedium
	default:
		return BandLow
	}
}

// SearchResult is one ranked match.
type SearchResult struct {
	Product    model.Product `json:"product"`
	Similarity float64       `json:"similarity"`
	Band       Band          `json:"band"`
}

// Searcher ranks an entity's catalog by cosine similarity.
type Searcher struct {
	store    store.Store
	embedder embed.Embedder
	cfg      SearchConfig
}

// NewSearcher creates a Searcher. embedder may be nil when only vector
// queries are used.
func NewSearcher(st store.Store, embedder embed.Embedder, cfg SearchConfig) *Searcher {
	def := DefaultSearchConfig()
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = def.HighThreshold
	}
	if cfg.MediumThreshold <= 0 {
		cfg.MediumThreshold = def.MediumThreshold
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	return &Searcher{store: st, embedder: embedder, cfg: cfg}
}

// Search returns up to limit products ordered by similarity to query.
func (s *Searcher) Search(ctx context.Context, entityID int64, query []float32, limit int) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, model.NewValidationError("query", "query vector is empty")
	}
	if limit <= 0 {
		limit = s.cfg.Limit
	}

	var products []model.Product
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.RequireEntity(ctx, entityID); err != nil {
			return err
		}
		var err error
		products, err = tx.ListProducts(ctx, entityID)
		return err
	})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(products))
	for _, p := range products {
		if len(p.Embedding) != len(query) {
			continue
		}
		sim := Cosine(query, p.Embedding)
		results = append(results, SearchResult{Product: p, Similarity: sim, Band: s.cfg.BandFor(sim)})
	}
	slices.SortStableFunc(results, func(a, b SearchResult) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.Product.ID, b.Product.ID)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SearchText embeds text and searches with the vector.
func (s *Searcher) SearchText(ctx context.Context, entityID int64, text string, limit int) ([]SearchResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.NewValidationError("query", "query text is empty")
	}
	if s.embedder == nil {
		return nil, eris.New("catalog: text search needs an embedder")
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		if model.IsDependency(err) {
			return nil, err
		}
		return nil, model.NewDependencyError(embed.ServiceName, err)
	}
	if len(vecs) != 1 {
		return nil, model.NewDependencyError(embed.ServiceName, eris.Errorf("catalog: got %d query vectors", len(vecs)))
	}
	return s.Search(ctx, entityID, vecs[0], limit)
}

// Cosine is the cosine similarity of two equal-length vectors. Zero vectors
// score 0.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
