// Package server exposes the onboarding core over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/catalog"
	"github.com/frepi/frepi-core/internal/commit"
	"github.com/frepi/frepi-core/internal/drip"
	"github.com/frepi/frepi-core/internal/engagement"
	"github.com/frepi/frepi-core/internal/extract"
	"github.com/frepi/frepi-core/internal/preference"
	"github.com/frepi/frepi-core/internal/pricing"
	"github.com/frepi/frepi-core/internal/staging"
	"github.com/frepi/frepi-core/internal/store"
)

// Deps are the services behind the API. Extractor, Commit and Searcher need
// external providers and may be nil; their routes then answer 503.
type Deps struct {
	Store       store.Store
	Staging     *staging.Service
	Extractor   *extract.Extractor
	Commit      *commit.Orchestrator
	Queue       *drip.Manager
	Preferences *preference.Store
	Learner     *preference.Learner
	Scorer      *engagement.Scorer
	Ledger      *pricing.Ledger
	Searcher    *catalog.Searcher
}

// Options configure the HTTP surface.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

// Server routes requests to the services.
type Server struct {
	deps Deps
	opts Options
	log  *zap.Logger
	now  func() time.Time
}

// New creates a Server.
func New(deps Deps, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 8 << 20
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		deps: deps,
		opts: opts,
		log:  zap.L().With(zap.String("component", "server")),
		now:  time.Now,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	if s.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
	}

	r.Get("/health", s.health)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.openSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Put("/info", s.setInfo)
			r.Post("/invoices", s.stageInvoice)
			r.Post("/invoices/image", s.stageImage)
			r.Post("/candidates", s.stageCandidates)
			r.Post("/analyze", s.analyze)
			r.Post("/ready", s.markReady)
			r.Post("/reopen", s.reopen)
			r.Post("/abandon", s.abandon)
			r.Get("/summary", s.summary)
			r.Post("/commit", s.commit)
		})
	})

	r.Route("/entities/{entityID}", func(r chi.Router) {
		r.Get("/questions", s.questions)
		r.Get("/queue", s.queue)
		r.Get("/preferences", s.preferences)
		r.Get("/corrections", s.corrections)
		r.Get("/engagement", s.engagement)
		r.Post("/engagement/sessions", s.recordSession)
		r.Post("/engagement/recompute", s.recompute)
		r.Get("/products/{productID}/prices", s.currentPrices)
		r.Get("/search", s.search)
	})

	r.Post("/queue/{itemID}/answer", s.answer)
	r.Post("/queue/{itemID}/skip", s.skip)
	r.Post("/corrections", s.correct)
	r.Post("/prices", s.submitPrice)
	r.Get("/suppliers/{supplierID}/products/{productID}/prices", s.priceHistory)
	r.Post("/mappings", s.register)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
