package server

import (
	"net/http"
	"strconv"

	"github.com/frepi/frepi-core/internal/catalog"
	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/preference"
	"github.com/frepi/frepi-core/internal/pricing"
)

func (s *Server) questions(w http.ResponseWriter, r *http.Request) {
	entityID, err := idParam(r, "entityID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	qs, err := s.deps.Queue.NextQuestions(r.Context(), entityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": qs})
}

func (s *Server) queue(w http.ResponseWriter, r *http.Request) {
	entityID, err := idParam(r, "entityID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.deps.Queue.Queue(r.Context(), entityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type answerRequest struct {
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request) {
	itemID, err := idParam(r, "itemID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req answerRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.deps.Queue.RecordAnswer(r.Context(), itemID, model.Dimension(req.Dimension), req.Value)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) skip(w http.ResponseWriter, r *http.Request) {
	itemID, err := idParam(r, "itemID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.deps.Queue.RecordSkip(r.Context(), itemID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) preferences(w http.ResponseWriter, r *http.Request) {
	entityID, err := idParam(r, "entityID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	prefs, err := s.deps.Preferences.List(r.Context(), entityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preferences": prefs})
}

func (s *Server) correct(w http.ResponseWriter, r *http.Request) {
	var c preference.Correction
	if err := decode(r, &c); err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.deps.Learner.ApplyCorrection(r.Context(), c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) corrections(w http.ResponseWriter, r *http.Request) {
	entityID, err := idParam(r, "entityID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	hist, err := s.deps.Learner.History(r.Context(), entityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"corrections": hist})
}

func (s *Server) engagement(w http.ResponseWriter, r *http.Request) {
	entityID, err := idParam(r, "entityID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.deps.Scorer.Get(r.Context(), entityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) recordSession(w http.ResponseWriter, r *http.Request) {
	entityID, err := idParam(r, "entityID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.deps.Scorer.RecordSession(r.Context(), entityID, s.now())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) recompute(w http.ResponseWriter, r *http.Request) {
	entityID, err := idParam(r, "entityID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.deps.Scorer.Recompute(r.Context(), entityID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) submitPrice(w http.ResponseWriter, r *http.Request) {
	var sub pricing.Submission
	if err := decode(r, &sub); err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.deps.Ledger.Submit(r.Context(), sub)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) currentPrices(w http.ResponseWriter, r *http.Request) {
	entityID, err := idParam(r, "entityID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	productID, err := idParam(r, "productID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.deps.Ledger.Current(r.Context(), entityID, productID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": recs})
}

func (s *Server) priceHistory(w http.ResponseWriter, r *http.Request) {
	supplierID, err := idParam(r, "supplierID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	productID, err := idParam(r, "productID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.deps.Ledger.History(r.Context(), supplierID, productID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": recs})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var reg catalog.Registration
	if err := decode(r, &reg); err != nil {
		s.fail(w, r, err)
		return
	}
	m, created, err := catalog.Register(r.Context(), s.deps.Store, reg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, m)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.deps.Searcher == nil {
		unavailable(w, "product search")
		return
	}
	entityID, err := idParam(r, "entityID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			s.fail(w, r, model.NewValidationError("limit", "%q is not a valid limit", raw))
			return
		}
	}
	results, err := s.deps.Searcher.SearchText(r.Context(), entityID, r.URL.Query().Get("q"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
