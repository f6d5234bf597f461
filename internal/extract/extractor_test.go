package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/resilience"
	"github.com/frepi/frepi-core/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// MockClient implements anthropic.Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

const answer = "```json\n" + `{
  "supplier_name": "Atacadão Ltda",
  "tax_id": "12.345.678/0001-90",
  "invoice_date": "2026-02-01",
  "currency": "BRL",
  "items": [
    {"product_name": "Arroz Tipo 1", "brand": "Camil", "quantity": "10", "unit": "kg", "unit_price": "25.90"}
  ],
  "total_amount": "259.00",
  "confidence_score": 0.93
}` + "\n```"

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
	}
}

func TestExtract(t *testing.T) {
	mc := new(MockClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == DefaultModel &&
			len(req.Messages) == 1 &&
			len(req.Messages[0].Images) == 1 &&
			req.Messages[0].Images[0].MediaType == "image/png" &&
			req.System[0].CacheControl != nil
	})).Return(textResponse(answer), nil)

	ex, err := New(mc, nil, Config{}).Extract(context.Background(), pngHeader, "")
	require.NoError(t, err)
	assert.Equal(t, "Atacadão Ltda", ex.SupplierName)
	require.Len(t, ex.Items, 1)
	assert.Equal(t, "25.90", ex.Items[0].UnitPrice)
	assert.InDelta(t, 0.93, ex.ConfidenceScore, 1e-9)
	mc.AssertExpectations(t)
}

func TestExtract_RejectsBadInput(t *testing.T) {
	e := New(new(MockClient), nil, Config{})

	_, err := e.Extract(context.Background(), nil, "image/png")
	assert.True(t, model.IsValidation(err))
	_, err = e.Extract(context.Background(), []byte("%PDF-1.7"), "application/pdf")
	assert.True(t, model.IsValidation(err))
	_, err = e.Extract(context.Background(), make([]byte, maxImageBytes+1), "image/jpeg")
	assert.True(t, model.IsValidation(err))
}

func TestExtract_ProviderFailureIsDependencyError(t *testing.T) {
	mc := new(MockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := New(mc, nil, Config{}).Extract(context.Background(), pngHeader, "image/png")
	require.Error(t, err)
	assert.True(t, model.IsDependency(err))
}

func TestExtract_RetriesTransientFailures(t *testing.T) {
	mc := new(MockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Once()
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(answer), nil).Once()

	guard := resilience.NewGuard(ServiceName, resilience.Settings{MaxAttempts: 2, InitialBackoffMs: 1, MaxBackoffMs: 1})
	ex, err := New(mc, guard, Config{}).Extract(context.Background(), pngHeader, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Atacadão Ltda", ex.SupplierName)
	mc.AssertExpectations(t)
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		field string
	}{
		{"no json", "I cannot read this invoice.", "extraction"},
		{"broken json", `{"supplier_name": "X", "items": [}`, "extraction"},
		{"quantity as number", `{"supplier_name": "X", "invoice_date": "2026-01-01", "items": [{"product_name": "A", "quantity": 1, "unit": "kg", "unit_price": "2"}]}`, "extraction"},
		{"missing items", `{"supplier_name": "X", "invoice_date": "2026-01-01", "items": []}`, "Items"},
		{"bad date", `{"supplier_name": "X", "invoice_date": "01/02/2026", "items": [{"product_name": "A", "quantity": "1", "unit": "kg", "unit_price": "2"}]}`, "InvoiceDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.text)
			var ve *model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestExtract_AgainstHTTPServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModel, body["model"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": answer}},
			"model":       DefaultModel,
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 1200, "output_tokens": 180},
		})
	}))
	defer ts.Close()

	client := anthropic.NewClient("test-key", option.WithBaseURL(ts.URL), option.WithMaxRetries(0))
	ex, err := New(client, nil, Config{}).Extract(context.Background(), pngHeader, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01", ex.InvoiceDate)
}
