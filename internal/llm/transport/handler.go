package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
)

// Router selects the appropriate provider adapter for request routing.
type Router interface {
	Pick(provider string) (ProviderAdapter, error)
}

// ProviderAdapter abstracts provider-specific HTTP communication patterns.
type ProviderAdapter interface {
	Build(ctx context.Context, req *Request) (*http.Request, error)
	Parse(httpResp *http.Response) (*Response, error)
	Name() string
}

// Handler processes model requests through a composable middleware pipeline.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware transforms Handler into enhanced Handler for composable behavior.
type Middleware func(Handler) Handler

// Chain builds a middleware pipeline around a core handler.
// Middleware executes in the order provided with first middleware outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewHTTPHandler creates the core handler that makes actual HTTP requests.
func NewHTTPHandler(client *http.Client, router Router) Handler {
	return &httpHandler{
		client: client,
		router: router,
		logger: slog.Default().With("component", "transport"),
	}
}

// httpHandler is the core handler that makes actual HTTP requests.
type httpHandler struct {
	client *http.Client
	router Router
	logger *slog.Logger
}

// Handle implements Handler by making one HTTP request to the selected
// provider. Network failures are returned as transport ProviderErrors unless
// the caller's own context ended first.
func (h *httpHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	adapter, err := h.router.Pick(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to select provider: %w", err)
	}

	// Create context with per-request timeout if specified.
	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := adapter.Build(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("request abandoned by caller: %w", ctxErr)
		}
		errType := llmerrors.ErrorTypeNetwork
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			errType = llmerrors.ErrorTypeTimeout
		}
		return nil, &llmerrors.ProviderError{
			Provider: adapter.Name(),
			Message:  err.Error(),
			Type:     errType,
		}
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			h.logger.Debug("closing response body failed", "provider", adapter.Name(), "error", closeErr)
		}
	}()

	resp, err := adapter.Parse(httpResp)
	if err != nil {
		return nil, err
	}

	resp.Usage.LatencyMs = latency.Milliseconds()
	if resp.Provider == "" {
		resp.Provider = adapter.Name()
	}
	if resp.Content == "" {
		return nil, fmt.Errorf("%w: empty content from %s", llmerrors.ErrInvalidResponse, adapter.Name())
	}

	return resp, nil
}
