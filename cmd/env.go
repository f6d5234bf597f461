package main

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/frepi/frepi-core/internal/catalog"
	"github.com/frepi/frepi-core/internal/commit"
	"github.com/frepi/frepi-core/internal/drip"
	"github.com/frepi/frepi-core/internal/embed"
	"github.com/frepi/frepi-core/internal/engagement"
	"github.com/frepi/frepi-core/internal/extract"
	"github.com/frepi/frepi-core/internal/keylock"
	"github.com/frepi/frepi-core/internal/preference"
	"github.com/frepi/frepi-core/internal/pricing"
	"github.com/frepi/frepi-core/internal/resilience"
	"github.com/frepi/frepi-core/internal/resolve"
	"github.com/frepi/frepi-core/internal/server"
	"github.com/frepi/frepi-core/internal/staging"
	"github.com/frepi/frepi-core/internal/store"
	"github.com/frepi/frepi-core/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		pool := cfg.Store.Pool
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &pool)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// appEnv holds the services one command invocation needs.
type appEnv struct {
	Store       store.Store
	Embedder    embed.Embedder
	Staging     *staging.Service
	Scorer      *engagement.Scorer
	Queue       *drip.Manager
	Preferences *preference.Store
	Learner     *preference.Learner
	Ledger      *pricing.Ledger
	Extractor   *extract.Extractor
}

// initEnv opens and migrates the store and wires the services. The embedder
// and the extractor are left nil when their API keys are not configured.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	scorer := engagement.NewScorer(st, keylock.New(), cfg.Engagement)
	queue, err := drip.NewManager(st, scorer, cfg.Queue)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	env := &appEnv{
		Store:       st,
		Staging:     staging.NewService(st, cfg.Staging),
		Scorer:      scorer,
		Queue:       queue,
		Preferences: preference.NewStore(st, scorer),
		Learner:     preference.NewLearner(st, scorer),
		Ledger:      pricing.NewLedger(st),
	}

	if cfg.OpenAI.Key != "" {
		oa, err := embed.NewOpenAI(embed.OpenAIConfig{
			APIKey:     cfg.OpenAI.Key,
			BaseURL:    cfg.OpenAI.BaseURL,
			Model:      cfg.OpenAI.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		env.Embedder = embed.NewBatcher(oa, cfg.Embedding)
	}

	if cfg.Anthropic.Key != "" {
		var opts []option.RequestOption
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		client := anthropic.NewClient(cfg.Anthropic.Key, opts...)
		guard := resilience.NewGuard(extract.ServiceName, cfg.Anthropic.Resilience)
		env.Extractor = extract.New(client, guard, cfg.Anthropic.Extract)
	}

	return env, nil
}

func (e *appEnv) Close() {
	e.Store.Close() //nolint:errcheck
}

func (e *appEnv) requireEmbedder() error {
	if e.Embedder == nil {
		return eris.New("embedding is not configured (FREPI_OPENAI_KEY)")
	}
	return nil
}

func (e *appEnv) orchestrator() (*commit.Orchestrator, error) {
	if err := e.requireEmbedder(); err != nil {
		return nil, err
	}
	return commit.New(e.Store, resolve.New(cfg.Resolve), catalog.NewCommitter(e.Embedder), e.Queue, e.Scorer), nil
}

func (e *appEnv) searcher() (*catalog.Searcher, error) {
	if err := e.requireEmbedder(); err != nil {
		return nil, err
	}
	return catalog.NewSearcher(e.Store, e.Embedder, cfg.Search), nil
}

func (e *appEnv) serverDeps() server.Deps {
	deps := server.Deps{
		Store:       e.Store,
		Staging:     e.Staging,
		Extractor:   e.Extractor,
		Queue:       e.Queue,
		Preferences: e.Preferences,
		Learner:     e.Learner,
		Scorer:      e.Scorer,
		Ledger:      e.Ledger,
	}
	if orch, err := e.orchestrator(); err == nil {
		deps.Commit = orch
	}
	if s, err := e.searcher(); err == nil {
		deps.Searcher = s
	}
	return deps
}
