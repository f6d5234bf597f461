// Package extract reads invoice photos into structured extractions through a
// vision model. Its output is untrusted: staging validates it again.
package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/resilience"
	"github.com/frepi/frepi-core/pkg/anthropic"
)

// ServiceName identifies the vision provider in DependencyErrors.
const ServiceName = "anthropic"

// Defaults for the vision model.
const (
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 4096
	DefaultCacheTTL  = "1h"
	maxImageBytes    = 5 << 20
)

var mediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

const systemPrompt = `You read photographs of Brazilian supplier invoices (notas fiscais, cupons, pedidos) for a restaurant.
Answer with exactly one JSON object and nothing else, shaped as:
{"supplier_name": string, "tax_id": string, "phone": string, "email": string, "city": string, "address": string,
 "invoice_date": "YYYY-MM-DD", "currency": "BRL",
 "items": [{"product_name": string, "brand": string, "specification": string, "quantity": "decimal", "unit": string, "unit_price": "decimal"}],
 "total_amount": "decimal", "confidence_score": number between 0 and 1}
Rules: decimals use a dot and no thousands separator; unit_price is the price of one unit, not the line total;
leave a field empty when it is not printed; never invent items; confidence_score reflects legibility.`

// Config configures the extractor.
type Config struct {
	Model     string `mapstructure:"model"`
	MaxTokens int64  `mapstructure:"max_tokens"`
	CacheTTL  string `mapstructure:"cache_ttl"`
}

// Extractor turns one invoice image into a model.Extraction.
type Extractor struct {
	client anthropic.Client
	guard  *resilience.Guard
	cfg    Config
	log    *zap.Logger
}

// New creates an Extractor. guard may be nil.
func New(client anthropic.Client, guard *resilience.Guard, cfg Config) *Extractor {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.CacheTTL == "" {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Extractor{client: client, guard: guard, cfg: cfg, log: zap.L().With(zap.String("component", "extract"))}
}

// Extract reads an invoice image. An empty mediaType is sniffed from the
// bytes. Unreadable input is a ValidationError; provider failures are
// DependencyErrors.
func (e *Extractor) Extract(ctx context.Context, image []byte, mediaType string) (*model.Extraction, error) {
	if len(image) == 0 {
		return nil, model.NewValidationError("image", "image is empty")
	}
	if len(image) > maxImageBytes {
		return nil, model.NewValidationError("image", "image is %d bytes, limit is %d", len(image), maxImageBytes)
	}
	if mediaType == "" {
		mediaType = http.DetectContentType(image)
	}
	mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(mediaType, ";", 2)[0]))
	if !mediaTypes[mediaType] {
		return nil, model.NewValidationError("media_type", "unsupported image type %q", mediaType)
	}

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: e.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt, e.cfg.CacheTTL),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: "Extract this invoice.",
			Images:  []anthropic.Image{{MediaType: mediaType, Data: image}},
		}},
		Temperature: &temp,
	}

	call := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, req)
	}
	var resp *anthropic.MessageResponse
	var err error
	if e.guard != nil {
		resp, err = resilience.Call(ctx, e.guard, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return nil, model.NewDependencyError(ServiceName, err)
	}
	resp.Usage.LogCost(e.cfg.Model, "extract_invoice")

	ex, err := Parse(resp.Text())
	if err != nil {
		e.log.Warn("unusable extraction", zap.String("stop_reason", resp.StopReason), zap.Error(err))
		return nil, err
	}
	e.log.Info("invoice extracted",
		zap.String("supplier", ex.SupplierName),
		zap.Int("items", len(ex.Items)),
		zap.Float64("confidence", ex.ConfidenceScore),
	)
	return ex, nil
}

// Parse decodes a model answer into an Extraction. Code fences and text
// around the JSON object are ignored.
func Parse(text string) (*model.Extraction, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, model.NewValidationError("extraction", "answer holds no JSON object")
	}
	var ex model.Extraction
	if err := json.Unmarshal([]byte(text[start:end+1]), &ex); err != nil {
		return nil, model.NewValidationError("extraction", "answer is not a valid extraction: %v", err)
	}
	if err := model.Validate(&ex); err != nil {
		return nil, err
	}
	return &ex, nil
}
