package staging

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/frepi/frepi-core/internal/model"
)

// Document is a file of onboarding data: basic info, invoice extractions and
// preference candidates. JSON documents parse as YAML.
type Document struct {
	Info        *model.BasicInfo        `yaml:"info"`
	Invoices    []model.Extraction      `yaml:"invoices"`
	Preferences []model.StagedCandidate `yaml:"preferences"`
}

// ReadDocument decodes a YAML or JSON document. Unknown keys are rejected.
func ReadDocument(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if eris.Is(err, io.EOF) {
			return nil, model.NewValidationError("document", "document is empty")
		}
		return nil, model.NewValidationError("document", "%v", err)
	}
	if doc.Info == nil && len(doc.Invoices) == 0 && len(doc.Preferences) == 0 {
		return nil, model.NewValidationError("document", "document has no info, invoices or preferences")
	}
	return &doc, nil
}

// ImportResult totals what a document added.
type ImportResult struct {
	Invoices    []StageResult `json:"invoices"`
	Preferences int           `json:"preferences"`
}

// Import applies a document to an open session: basic info first, then each
// invoice, then the preference candidates. Each part commits on its own; a
// failing invoice leaves the earlier ones staged.
func (s *Service) Import(ctx context.Context, sessionID string, doc *Document) (*ImportResult, error) {
	out := &ImportResult{}
	if doc.Info != nil {
		if err := s.SetBasicInfo(ctx, sessionID, *doc.Info); err != nil {
			return out, err
		}
	}
	for i := range doc.Invoices {
		res, err := s.StageExtraction(ctx, sessionID, &doc.Invoices[i])
		if err != nil {
			return out, eris.Wrapf(err, "staging: invoice %d", i)
		}
		out.Invoices = append(out.Invoices, *res)
	}
	if len(doc.Preferences) > 0 {
		n, err := s.StageCandidates(ctx, sessionID, doc.Preferences)
		if err != nil {
			return out, err
		}
		out.Preferences = n
	}
	return out, nil
}
