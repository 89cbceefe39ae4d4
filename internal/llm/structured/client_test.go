package structured_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/llm/structured"
	"github.com/ahrav/go-callqa/internal/llm/transport"
	"github.com/ahrav/go-callqa/internal/templates"
	"github.com/ahrav/go-callqa/pkg/logging"
)

const validClassification = `{
	"sections_completed": [1, 2],
	"sections_attempted": [1, 2, 3],
	"call_outcome": "completed",
	"script_adherence_preview": {"1": "High"},
	"red_flags": [],
	"requires_deep_dive": false,
	"early_termination_justified": true
}`

func classifierTemplate() *templates.Template {
	return &templates.Template{
		Name:         templates.NameClassifier,
		System:       "You classify sales calls.",
		User:         "Transcript: {{transcript}}\nClient: {{client_data}}",
		RequiredVars: []string{"transcript", "client_data"},
		Model:        "openai/gpt-4o",
		Temperature:  0.1,
		MaxTokens:    1500,
		Shape:        domain.ShapeClassification,
	}
}

func stubHandler(content string, err error, seen *transport.Request) transport.Handler {
	return transport.HandlerFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		if seen != nil {
			*seen = *req
		}
		if err != nil {
			return nil, err
		}
		return &transport.Response{Content: content, Provider: req.Provider}, nil
	})
}

func TestClient_Complete_BuildsRequestFromTemplate(t *testing.T) {
	var seen transport.Request
	client := structured.NewClient(stubHandler(validClassification, nil, &seen), configuration.ProviderOpenRouter,
		structured.WithModel("fallback-model"))

	ctx := logging.WithCorrelationID(context.Background(), "eval_abc")
	var out domain.Classification
	err := client.Complete(ctx, classifierTemplate(), map[string]any{
		"transcript":  "Agent: hello",
		"client_data": map[string]any{"lead_id": "L-1"},
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, domain.ShapeClassification, seen.Shape)
	assert.Equal(t, templates.NameClassifier, seen.Template)
	assert.Equal(t, configuration.ProviderOpenRouter, seen.Provider)
	assert.Equal(t, "openai/gpt-4o", seen.Model)
	assert.True(t, seen.JSONMode)
	assert.Equal(t, int64(1500), seen.MaxTokens)
	assert.InDelta(t, 0.1, seen.Temperature, 1e-9)
	assert.Equal(t, configuration.DefaultCallTimeout, seen.Timeout)
	assert.Equal(t, "eval_abc", seen.CorrelationID)
	assert.Contains(t, seen.SystemPrompt, "You classify sales calls.")
	assert.Contains(t, seen.SystemPrompt, "shape Classification")
	assert.Contains(t, seen.UserPrompt, "Transcript: Agent: hello")
	assert.Contains(t, seen.UserPrompt, `"lead_id": "L-1"`)

	assert.Equal(t, domain.OutcomeCompleted, out.CallOutcome)
	assert.Equal(t, []int{1, 2, 3}, out.SectionsAttempted)
	assert.True(t, out.EarlyTerminationJustified)
}

func TestClient_Complete_ModelSelection(t *testing.T) {
	tmpl := classifierTemplate()
	tmpl.Model = ""

	var seen transport.Request
	client := structured.NewClient(stubHandler(validClassification, nil, &seen), "openai",
		structured.WithModel("gpt-4o-mini"), structured.WithCallTimeout(5*time.Second))
	require.NoError(t, client.Complete(context.Background(), tmpl, nil, &domain.Classification{}))
	assert.Equal(t, "gpt-4o-mini", seen.Model)
	assert.Equal(t, 5*time.Second, seen.Timeout)

	override := structured.NewClient(stubHandler(validClassification, nil, &seen), "anthropic",
		structured.WithModelOverride("claude-sonnet"))
	require.NoError(t, override.Complete(context.Background(), classifierTemplate(), nil, &domain.Classification{}))
	assert.Equal(t, "claude-sonnet", seen.Model)
}

func TestClient_Complete_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "prose", content: "I am unable to classify this call."},
		{name: "enum outside domain", content: `{"call_outcome": "exploded"}`},
		{name: "missing required field", content: `{"red_flags": ["x"]}`},
		{name: "wrong field type", content: `{"call_outcome": "lost", "sections_attempted": "one"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := structured.NewClient(stubHandler(tt.content, nil, nil), configuration.ProviderOpenRouter)

			out := domain.Classification{RedFlags: []string{"untouched"}}
			err := client.Complete(context.Background(), classifierTemplate(), nil, &out)
			require.Error(t, err)

			var schemaErr *llmerrors.SchemaViolationError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, domain.ShapeClassification, schemaErr.Shape)
			assert.Equal(t, configuration.ProviderOpenRouter, schemaErr.Provider)
			assert.Equal(t, llmerrors.KindSchema, llmerrors.KindOf(err))
			assert.Equal(t, []string{"untouched"}, out.RedFlags, "out must not be written on failure")
		})
	}
}

func TestClient_Complete_TransportErrorsPassThrough(t *testing.T) {
	provErr := &llmerrors.ProviderError{Provider: "openrouter", StatusCode: 503, Type: llmerrors.ErrorTypeProvider}
	client := structured.NewClient(stubHandler("", provErr, nil), configuration.ProviderOpenRouter)

	err := client.Complete(context.Background(), classifierTemplate(), nil, &domain.Classification{})
	require.Error(t, err)
	assert.ErrorIs(t, err, provErr)
	assert.Equal(t, llmerrors.KindTransport, llmerrors.KindOf(err))
}

func TestClient_Complete_EmptyEnvelopeIsSchemaViolation(t *testing.T) {
	invalid := errors.Join(llmerrors.ErrInvalidResponse, errors.New("no choices"))
	client := structured.NewClient(stubHandler("", invalid, nil), configuration.ProviderOpenRouter)

	err := client.Complete(context.Background(), classifierTemplate(), nil, &domain.Classification{})
	assert.ErrorIs(t, err, llmerrors.ErrSchemaViolation)
}

func TestClient_Complete_ShapeMismatch(t *testing.T) {
	called := false
	handler := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		called = true
		return nil, nil
	})
	client := structured.NewClient(handler, configuration.ProviderOpenRouter)

	err := client.Complete(context.Background(), classifierTemplate(), nil, &domain.Compliance{})
	require.ErrorIs(t, err, structured.ErrShapeMismatch)
	assert.False(t, called)
}

func TestClient_Complete_RepairDisabled(t *testing.T) {
	fenced := "```json\n" + validClassification + "\n```"

	strict := structured.NewClient(stubHandler(fenced, nil, nil), configuration.ProviderOpenRouter,
		structured.WithJSONRepair(false))
	assert.ErrorIs(t, strict.Complete(context.Background(), classifierTemplate(), nil, &domain.Classification{}),
		llmerrors.ErrSchemaViolation)

	lenient := structured.NewClient(stubHandler(fenced, nil, nil), configuration.ProviderOpenRouter)
	var out domain.Classification
	require.NoError(t, lenient.Complete(context.Background(), classifierTemplate(), nil, &out))
	assert.Equal(t, domain.OutcomeCompleted, out.CallOutcome)
}
