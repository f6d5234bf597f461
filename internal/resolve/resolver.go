// Package resolve deduplicates staged supplier mentions against the
// production supplier registry.
package resolve

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
)

// Match methods.
const (
	MethodTaxID = "tax_id"
	MethodName  = "fuzzy_name"
)

const scoreEpsilon = 1e-9

// Tie-break fallbacks for hits still tied on score and recency.
const (
	TieConflict = "conflict"
	TieLowestID = "lowest_id"
)

// Config tunes the fuzzy pass.
type Config struct {
	// Threshold is the minimum similarity that counts as a match.
	Threshold float64 `mapstructure:"threshold"`
	// SubstringScore is the score given when one normalized name contains
	// the other as whole words.
	SubstringScore float64 `mapstructure:"substring_score"`
	// TieBreak settles hits tied on score and recency: TieConflict reports
	// them, TieLowestID picks the oldest supplier.
	TieBreak string `mapstructure:"tie_break"`
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{Threshold: 0.6, SubstringScore: 0.85, TieBreak: TieConflict}
}

// Candidate is the supplier mention to resolve.
type Candidate struct {
	Name  string
	TaxID string
}

// Match is the outcome of a resolution. A zero SupplierID means no match:
// the caller creates a new supplier.
type Match struct {
	SupplierID int64   `json:"supplier_id,omitempty"`
	Score      float64 `json:"score"`
	Method     string  `json:"method,omitempty"`
}

// Matched reports whether an existing supplier was selected.
func (m Match) Matched() bool { return m.SupplierID != 0 }

// Registry is the read side of the supplier table. *store.Tx satisfies it.
type Registry interface {
	SuppliersByTaxID(ctx context.Context, taxID string) ([]model.Supplier, error)
	ActiveSuppliers(ctx context.Context) ([]model.Supplier, error)
}

// Resolver runs the tax id then fuzzy-name cascade. It never writes.
type Resolver struct {
	cfg Config
	log *zap.Logger
}

// New creates a Resolver. Zero config fields take their defaults.
func New(cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.SubstringScore <= 0 {
		cfg.SubstringScore = def.SubstringScore
	}
	if cfg.TieBreak == "" {
		cfg.TieBreak = def.TieBreak
	}
	return &Resolver{cfg: cfg, log: zap.L().With(zap.String("component", "resolve"))}
}

// Resolve looks up c against the registry.
func (r *Resolver) Resolve(ctx context.Context, reg Registry, c Candidate) (Match, error) {
	if taxID := NormalizeTaxID(c.TaxID); taxID != "" {
		byTax, err := reg.SuppliersByTaxID(ctx, taxID)
		if err != nil {
			return Match{}, eris.Wrap(err, "resolve: tax id lookup")
		}
		if len(byTax) > 0 {
			return r.pick(c, scoreAll(byTax, 1.0), MethodTaxID)
		}
	}

	active, err := reg.ActiveSuppliers(ctx)
	if err != nil {
		return Match{}, eris.Wrap(err, "resolve: list active suppliers")
	}
	return r.MatchName(c, active)
}

// MatchName runs only the fuzzy pass of c against pool.
func (r *Resolver) MatchName(c Candidate, pool []model.Supplier) (Match, error) {
	name := NormalizeName(c.Name)
	if name == "" {
		return Match{}, model.NewValidationError("supplier_name", "name is empty after normalization")
	}

	var hits []scored
	for _, s := range pool {
		if !s.IsActive {
			continue
		}
		score := r.Score(name, s.NormalizedName)
		if score >= r.cfg.Threshold-scoreEpsilon {
			hits = append(hits, scored{supplier: s, score: score})
		}
	}
	if len(hits) == 0 {
		r.log.Debug("no supplier match", zap.String("name", name))
		return Match{}, nil
	}
	return r.pick(c, hits, MethodName)
}

// Score compares two normalized names.
func (r *Resolver) Score(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	score := Similarity(a, b)
	if containsWords(a, b) || containsWords(b, a) {
		score = math.Max(score, r.cfg.SubstringScore)
	}
	return score
}

type scored struct {
	supplier model.Supplier
	score    float64
}

func scoreAll(ss []model.Supplier, score float64) []scored {
	out := make([]scored, len(ss))
	for i, s := range ss {
		out[i] = scored{supplier: s, score: score}
	}
	return out
}

// pick selects the best hit: highest score, then most recent activity.
// Hits still tied after that go to the configured fallback.
func (r *Resolver) pick(c Candidate, hits []scored, method string) (Match, error) {
	slices.SortStableFunc(hits, func(a, b scored) int {
		if math.Abs(a.score-b.score) > scoreEpsilon {
			return cmp.Compare(b.score, a.score)
		}
		if c := compareActivity(b.supplier, a.supplier); c != 0 {
			return c
		}
		return cmp.Compare(a.supplier.ID, b.supplier.ID)
	})

	best := hits[0]
	if len(hits) > 1 && r.cfg.TieBreak != TieLowestID {
		next := hits[1]
		if math.Abs(best.score-next.score) <= scoreEpsilon && compareActivity(best.supplier, next.supplier) == 0 {
			return Match{}, model.NewConflictError("supplier",
				"%q matches suppliers %d and %d equally (score %.2f)", c.Name, best.supplier.ID, next.supplier.ID, best.score)
		}
	}

	r.log.Debug("supplier matched",
		zap.String("name", c.Name),
		zap.Int64("supplier_id", best.supplier.ID),
		zap.String("method", method),
		zap.Float64("score", best.score),
	)
	return Match{SupplierID: best.supplier.ID, Score: best.score, Method: method}, nil
}

// compareActivity orders suppliers by last activity; never-active sorts first.
func compareActivity(a, b model.Supplier) int {
	switch {
	case a.LastActiveAt == nil && b.LastActiveAt == nil:
		return 0
	case a.LastActiveAt == nil:
		return -1
	case b.LastActiveAt == nil:
		return 1
	}
	return a.LastActiveAt.Compare(*b.LastActiveAt)
}
