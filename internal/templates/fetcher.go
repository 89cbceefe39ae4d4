package templates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
)

// defaultTemperature applies when the registry omits one.
const defaultTemperature = 0.3

// MaxTemplateResponseBytes caps a registry response body.
const MaxTemplateResponseBytes = 1 << 20

// Fetcher retrieves one template definition by name.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (*Template, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, name string) (*Template, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, name string) (*Template, error) { return f(ctx, name) }

// HTTPFetcher reads templates from a prompt registry service:
// POST {base}/prompt-templates/{name} with an X-API-KEY header and a label.
type HTTPFetcher struct {
	baseURL string
	apiKey  string
	label   string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher for cfg. client may be nil.
func NewHTTPFetcher(cfg configuration.RegistryConfig, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: registryTimeout(cfg)}
	}
	label := cfg.Label
	if label == "" {
		label = configuration.DefaultRegistryLabel
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		label:   label,
		client:  client,
	}
}

// registryDocument is the registry's wire format. prompt_template is either
// a plain string, a list of chat messages, or an object holding messages.
type registryDocument struct {
	ID             json.RawMessage `json:"id"`
	PromptName     string          `json:"prompt_name"`
	Version        int             `json:"version"`
	PromptTemplate json.RawMessage `json:"prompt_template"`
	Metadata       struct {
		Model struct {
			Name       string `json:"name"`
			Parameters struct {
				Temperature *float64 `json:"temperature"`
				MaxTokens   int64    `json:"max_tokens"`
			} `json:"parameters"`
		} `json:"model"`
	} `json:"metadata"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, name string) (*Template, error) {
	body, err := json.Marshal(map[string]string{"label": f.label})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/prompt-templates/%s", f.baseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetching template %s: %w", name, ctx.Err())
		}
		return nil, &llmerrors.ProviderError{
			Provider: "template_registry",
			Message:  err.Error(),
			Type:     llmerrors.ErrorTypeNetwork,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxTemplateResponseBytes+1))
	if err != nil {
		return nil, &llmerrors.ProviderError{
			Provider: "template_registry",
			Message:  fmt.Sprintf("failed to read response: %v", err),
			Type:     llmerrors.ErrorTypeNetwork,
		}
	}
	if len(raw) > MaxTemplateResponseBytes {
		return nil, fmt.Errorf("%w: %s: registry response exceeds %d bytes",
			ErrInvalidTemplate, name, MaxTemplateResponseBytes)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	case resp.StatusCode != http.StatusOK:
		return nil, &llmerrors.ProviderError{
			Provider:   "template_registry",
			StatusCode: resp.StatusCode,
			Message:    string(raw),
			Type:       registryErrorType(resp.StatusCode),
		}
	}

	return decodeDocument(name, raw)
}

func registryErrorType(status int) llmerrors.ErrorType {
	switch {
	case status == http.StatusUnauthorized:
		return llmerrors.ErrorTypeAuth
	case status == http.StatusForbidden:
		return llmerrors.ErrorTypePermission
	case status == http.StatusTooManyRequests:
		return llmerrors.ErrorTypeRateLimit
	case status >= http.StatusInternalServerError:
		return llmerrors.ErrorTypeProvider
	default:
		return llmerrors.ErrorTypeValidation
	}
}

// decodeDocument turns a registry document into a Template bound to name's
// result shape.
func decodeDocument(name string, raw []byte) (*Template, error) {
	var doc registryDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidTemplate, name, err)
	}
	if len(doc.PromptTemplate) == 0 {
		return nil, fmt.Errorf("%w: %s missing prompt_template", ErrInvalidTemplate, name)
	}

	t := &Template{
		Name:        name,
		Version:     doc.Version,
		Model:       doc.Metadata.Model.Name,
		Temperature: defaultTemperature,
		MaxTokens:   doc.Metadata.Model.Parameters.MaxTokens,
	}
	if p := doc.Metadata.Model.Parameters.Temperature; p != nil {
		t.Temperature = *p
	}
	t.Shape, _ = ShapeFor(name)

	if err := fillPrompt(t, doc.PromptTemplate); err != nil {
		return nil, err
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func fillPrompt(t *Template, raw json.RawMessage) error {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: %s has empty prompt text", ErrInvalidTemplate, t.Name)
		}
		t.User = text
		return nil
	}

	var wrapped struct {
		Messages       []chatMessage `json:"messages"`
		InputVariables []string      `json:"input_variables"`
	}
	var messages []chatMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return fmt.Errorf("%w: %s has unsupported prompt format", ErrInvalidTemplate, t.Name)
		}
		messages = wrapped.Messages
		t.RequiredVars = wrapped.InputVariables
	}
	if len(messages) == 0 {
		return fmt.Errorf("%w: %s has empty prompt structure", ErrInvalidTemplate, t.Name)
	}

	var system, user []string
	for i, m := range messages {
		if m.Role == "" || len(m.Content) == 0 {
			return fmt.Errorf("%w: %s message %d must have role and content", ErrInvalidTemplate, t.Name, i)
		}
		content, err := messageText(m.Content)
		if err != nil {
			return fmt.Errorf("%w: %s message %d: %w", ErrInvalidTemplate, t.Name, i, err)
		}
		if m.Role == "system" {
			system = append(system, content)
		} else {
			user = append(user, content)
		}
	}
	t.System = strings.Join(system, "\n\n")
	t.User = strings.Join(user, "\n\n")
	return nil
}

// messageText accepts either a string or a list of {type, text} parts.
func messageText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", errors.New("content must be a string or a list of text parts")
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "" || p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String(), nil
}

// FSFetcher reads templates from {name}.json files in the same document
// format the registry serves. It backs local runs and tests.
type FSFetcher struct {
	FS fs.FS
}

// Fetch implements Fetcher.
func (f FSFetcher) Fetch(_ context.Context, name string) (*Template, error) {
	raw, err := fs.ReadFile(f.FS, name+".json")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", name, err)
	}
	return decodeDocument(name, raw)
}

// registryTimeout returns cfg's timeout or the default.
func registryTimeout(cfg configuration.RegistryConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return configuration.DefaultRegistryTimeout
}
