// Package structured turns a prompt template into one schema-constrained
// model call and decodes the answer into a closed result record. Resilient
// layers the single secondary-provider fallback on top.
package structured

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/llm/transport"
	"github.com/ahrav/go-callqa/internal/templates"
	"github.com/ahrav/go-callqa/pkg/logging"
)

// ErrShapeMismatch is returned when out does not match the template's shape.
var ErrShapeMismatch = errors.New("result type does not match template shape")

// Completer performs one logical structured completion.
type Completer interface {
	Complete(ctx context.Context, tmpl *templates.Template, vars map[string]any, out domain.Result) error
}

// Client issues structured completions against one provider through a
// transport handler that already carries the resilience middleware.
type Client struct {
	handler       transport.Handler
	provider      string
	model         string
	modelOverride bool
	callTimeout   time.Duration
	repair        bool
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model used when a template does not name one.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithModelOverride forces model for every template. The secondary provider
// uses this because template model ids are written for the primary.
func WithModelOverride(model string) Option {
	return func(c *Client) {
		c.model = model
		c.modelOverride = model != ""
	}
}

// WithCallTimeout bounds each network attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithJSONRepair toggles the lenient decode path.
func WithJSONRepair(enabled bool) Option {
	return func(c *Client) { c.repair = enabled }
}

// NewClient returns a Client sending requests for provider through handler.
func NewClient(handler transport.Handler, provider string, opts ...Option) *Client {
	c := &Client{
		handler:     handler,
		provider:    provider,
		callTimeout: configuration.DefaultCallTimeout,
		repair:      true,
		logger:      slog.Default().With("component", "structured", "provider", provider),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the provider name the client targets.
func (c *Client) Provider() string { return c.provider }

// Complete renders tmpl with vars, asks the model for a JSON object of the
// template's shape and decodes it into out. out is only written on success.
// Output that cannot be decoded or fails validation is reported as a
// *llmerrors.SchemaViolationError; transport errors are returned wrapped.
func (c *Client) Complete(ctx context.Context, tmpl *templates.Template, vars map[string]any, out domain.Result) error {
	if out.ShapeName() != tmpl.Shape {
		return fmt.Errorf("%w: template %s produces %s, got %s", ErrShapeMismatch, tmpl.Name, tmpl.Shape, out.ShapeName())
	}
	descriptor, err := tmpl.Descriptor()
	if err != nil {
		return err
	}

	rendered := templates.RenderTemplate(tmpl, vars)
	req := &transport.Request{
		Shape:         tmpl.Shape,
		Template:      tmpl.Name,
		Provider:      c.provider,
		Model:         c.modelFor(tmpl),
		SystemPrompt:  joinPrompt(rendered.System, descriptor.Instructions()),
		UserPrompt:    rendered.User,
		Temperature:   tmpl.Temperature,
		MaxTokens:     tmpl.MaxTokens,
		JSONMode:      true,
		Timeout:       c.callTimeout,
		CorrelationID: logging.CorrelationID(ctx),
	}

	resp, err := c.handler.Handle(ctx, req)
	if err != nil {
		if errors.Is(err, llmerrors.ErrInvalidResponse) {
			return &llmerrors.SchemaViolationError{
				Shape:    tmpl.Shape,
				Provider: c.provider,
				Reason:   "unusable response envelope",
				Cause:    err,
			}
		}
		return fmt.Errorf("%s completion via %s: %w", tmpl.Shape, c.provider, err)
	}

	if err := c.decode(resp.Content, tmpl.Shape, out); err != nil {
		c.logger.WarnContext(ctx, "model output rejected",
			"template", tmpl.Name,
			"shape", tmpl.Shape,
			"response_length", len(resp.Content),
			"error", err)
		return err
	}
	return nil
}

func (c *Client) modelFor(tmpl *templates.Template) string {
	if c.modelOverride || tmpl.Model == "" {
		return c.model
	}
	return tmpl.Model
}

// decode parses content into a fresh value and copies it into out only once
// it has decoded and validated.
func (c *Client) decode(content, shape string, out domain.Result) error {
	target := reflect.New(reflect.TypeOf(out).Elem())
	candidate, ok := target.Interface().(domain.Result)
	if !ok {
		return fmt.Errorf("%w: %T", ErrShapeMismatch, out)
	}

	if err := DecodeResult(content, candidate, c.repair); err != nil {
		return &llmerrors.SchemaViolationError{
			Shape:    shape,
			Provider: c.provider,
			Reason:   err.Error(),
			Cause:    err,
		}
	}
	reflect.ValueOf(out).Elem().Set(target.Elem())
	return nil
}

func joinPrompt(system, instructions string) string {
	if system == "" {
		return instructions
	}
	return system + "\n\n" + instructions
}
