package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/llm/transport"
)

// OpenRouter attribution headers.
const (
	openRouterReferer = "https://trypennie.com"
	openRouterTitle   = "Pennie Call QA System"
)

// OpenAIAdapter implements ProviderAdapter for OpenAI-compatible chat
// completion endpoints. The same wire format serves OpenRouter and OpenAI;
// only the name, endpoint and headers differ.
type OpenAIAdapter struct {
	name   string
	config configuration.ProviderConfig
}

// NewOpenAIAdapter creates an adapter for an OpenAI-compatible endpoint.
// If no endpoint is configured, it defaults to OpenAI's production API.
func NewOpenAIAdapter(name string, cfg configuration.ProviderConfig) *OpenAIAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = configuration.DefaultOpenAIEndpoint
	}
	return &OpenAIAdapter{name: name, config: cfg}
}

// NewOpenRouterAdapter creates an OpenAI-compatible adapter pointed at
// OpenRouter with its attribution headers.
func NewOpenRouterAdapter(cfg configuration.ProviderConfig) *OpenAIAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = configuration.DefaultOpenRouterEndpoint
	}
	headers := map[string]string{
		"HTTP-Referer": openRouterReferer,
		"X-Title":      openRouterTitle,
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	cfg.Headers = headers
	return &OpenAIAdapter{name: configuration.ProviderOpenRouter, config: cfg}
}

// Name returns the provider name.
func (a *OpenAIAdapter) Name() string {
	return a.name
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int64           `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// Build constructs a chat/completions request from the normalized request.
func (a *OpenAIAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/chat/completions", a.config.Endpoint)

	model := req.Model
	if model == "" {
		model = a.config.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	body := openAIRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: req.UserPrompt})
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	if req.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)
	}

	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	return httpReq, nil
}

// Parse extracts normalized data from a chat/completions response.
func (a *OpenAIAdapter) Parse(httpResp *http.Response) (*transport.Response, error) {
	body, err := readBody(a.name, httpResp.Body)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.parseError(httpResp, body)
	}

	var resp struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s envelope: %w", llmerrors.ErrInvalidResponse, a.name, err)
	}

	var content, finishReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = resp.Choices[0].FinishReason
	}

	requestIDs := []string{}
	if resp.ID != "" {
		requestIDs = append(requestIDs, resp.ID)
	}
	if reqID := httpResp.Header.Get("x-request-id"); reqID != "" {
		requestIDs = append(requestIDs, reqID)
	}

	return &transport.Response{
		Content:            content,
		FinishReason:       finishReason,
		Provider:           a.name,
		Model:              resp.Model,
		ProviderRequestIDs: requestIDs,
		Usage: transport.NormalizedUsage{
			PromptTokens:     int64(resp.Usage.PromptTokens),
			CompletionTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:      int64(resp.Usage.TotalTokens),
		},
		Headers: httpResp.Header,
		RawBody: body,
	}, nil
}

// parseError converts OpenAI-style error responses to ProviderError.
// OpenRouter sends numeric codes where OpenAI sends strings.
func (a *OpenAIAdapter) parseError(httpResp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Message string          `json:"message"`
			Type    string          `json:"type"`
			Code    json.RawMessage `json:"code"`
		} `json:"error"`
	}

	retryAfter := retryAfterSeconds(httpResp.Header)
	statusCode := httpResp.StatusCode

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		code := string(bytes.Trim(errResp.Error.Code, `"`))
		return &llmerrors.ProviderError{
			Provider:   a.name,
			StatusCode: statusCode,
			Message:    errResp.Error.Message,
			Code:       code,
			Type:       classifyErrorType(statusCode, errResp.Error.Type),
			RetryAfter: retryAfter,
		}
	}

	return &llmerrors.ProviderError{
		Provider:   a.name,
		StatusCode: statusCode,
		Message:    string(body),
		Type:       classifyErrorType(statusCode, ""),
		RetryAfter: retryAfter,
	}
}
