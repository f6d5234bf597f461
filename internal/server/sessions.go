package server

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
)

type openSessionRequest struct {
	ChatID int64 `json:"chat_id" validate:"required,gt=0"`
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := model.Validate(req); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.deps.Staging.GetOrCreate(r.Context(), req.ChatID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Staging.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) setInfo(w http.ResponseWriter, r *http.Request) {
	var info model.BasicInfo
	if err := decode(r, &info); err != nil {
		s.fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "sessionID")
	if err := s.deps.Staging.SetBasicInfo(r.Context(), id, info); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondSession(w, r, id)
}

func (s *Server) stageInvoice(w http.ResponseWriter, r *http.Request) {
	var ex model.Extraction
	if err := decode(r, &ex); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Staging.StageExtraction(r.Context(), chi.URLParam(r, "sessionID"), &ex)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// stageImage runs the vision extractor on an invoice photo and stages the
// result. The photo is either the multipart field "image" or the raw body.
func (s *Server) stageImage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Extractor == nil {
		unavailable(w, "invoice extractor")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	image, mediaType, err := readImage(r, s.opts.MaxUploadBytes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ex, err := s.deps.Extractor.Extract(r.Context(), image, mediaType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Staging.StageExtraction(r.Context(), chi.URLParam(r, "sessionID"), ex)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("invoice image staged",
		zap.String("session_id", chi.URLParam(r, "sessionID")),
		zap.String("supplier", ex.SupplierName),
		zap.Int("lines", res.Lines),
	)
	writeJSON(w, http.StatusCreated, map[string]any{"extraction": ex, "staged": res})
}

func readImage(r *http.Request, limit int64) ([]byte, string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(ct, "multipart/") {
		if err := r.ParseMultipartForm(limit); err != nil {
			return nil, "", model.NewValidationError("image", "read upload: %v", err)
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			return nil, "", model.NewValidationError("image", "multipart field \"image\" is missing")
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, "", model.NewValidationError("image", "read upload: %v", err)
		}
		return data, declaredImageType(hdr.Header.Get("Content-Type")), nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", model.NewValidationError("image", "read body: %v", err)
	}
	return data, declaredImageType(ct), nil
}

// declaredImageType drops generic content types so the extractor sniffs the
// bytes instead.
func declaredImageType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil || mt == "application/octet-stream" {
		return ""
	}
	return mt
}

func (s *Server) stageCandidates(w http.ResponseWriter, r *http.Request) {
	var cands []model.StagedCandidate
	if err := decode(r, &cands); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.deps.Staging.StageCandidates(r.Context(), chi.URLParam(r, "sessionID"), cands)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"staged": n})
}

func (s *Server) markReady(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Staging.MarkReady)
}

func (s *Server) reopen(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Staging.Reopen)
}

func (s *Server) abandon(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Staging.Abandon)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	id := chi.URLParam(r, "sessionID")
	if err := fn(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondSession(w, r, id)
}

func (s *Server) respondSession(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := s.deps.Staging.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Staging.Summary(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Staging.Analyze(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type commitRequest struct {
	Confirmed bool `json:"confirmed"`
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Commit == nil {
		unavailable(w, "commit")
		return
	}
	var req commitRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Commit.Commit(r.Context(), chi.URLParam(r, "sessionID"), req.Confirmed)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
