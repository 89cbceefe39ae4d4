package templates_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/internal/llm/circuitbreaker"
	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/llm/retry"
	"github.com/ahrav/go-callqa/internal/templates"
)

func fsRegistry(t *testing.T, opts ...templates.Option) *templates.Registry {
	t.Helper()
	return templates.NewRegistry(templates.FSFetcher{FS: os.DirFS("testdata")}, opts...)
}

func TestRegistry_InitializeAndGet(t *testing.T) {
	reg := fsRegistry(t)
	assert.False(t, reg.Initialized())

	_, err := reg.Get(templates.NameClassifier)
	require.ErrorIs(t, err, templates.ErrNotInitialized)

	require.NoError(t, reg.Initialize(context.Background()))
	assert.True(t, reg.Initialized())
	assert.Len(t, reg.Names(), 5)

	classifier, err := reg.Get(templates.NameClassifier)
	require.NoError(t, err)
	assert.Equal(t, domain.ShapeClassification, classifier.Shape)
	assert.Equal(t, "You classify sales calls.", classifier.System)
	assert.Equal(t, "openai/gpt-4o", classifier.Model)
	assert.InDelta(t, 0.1, classifier.Temperature, 1e-9)
	assert.Equal(t, int64(1500), classifier.MaxTokens)
	assert.Equal(t, []string{"client_data", "migo_call_script", "transcript"}, classifier.RequiredVars)

	comm, err := reg.Get(templates.NameCommunication)
	require.NoError(t, err)
	assert.Empty(t, comm.System)
	assert.Contains(t, comm.User, "{{transcript}}")
	assert.InDelta(t, 0.3, comm.Temperature, 1e-9)

	_, err = reg.Get("call_qa_unknown")
	require.ErrorIs(t, err, templates.ErrTemplateNotFound)
}

func TestRegistry_InitializeIsAllOrNothing(t *testing.T) {
	base := templates.FSFetcher{FS: os.DirFS("testdata")}
	boom := errors.New("registry exploded")
	fetcher := templates.FetcherFunc(func(ctx context.Context, name string) (*templates.Template, error) {
		if name == templates.NameDeepDive {
			return nil, boom
		}
		return base.Fetch(ctx, name)
	})

	reg := templates.NewRegistry(fetcher)
	err := reg.Initialize(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), templates.NameDeepDive)
	assert.False(t, reg.Initialized())

	_, err = reg.Get(templates.NameClassifier)
	require.ErrorIs(t, err, templates.ErrNotInitialized)
}

func TestRegistry_MissingTemplateIsFatal(t *testing.T) {
	reg := fsRegistry(t, templates.WithNames(templates.NameClassifier, "call_qa_absent"))
	err := reg.Initialize(context.Background())
	require.ErrorIs(t, err, templates.ErrTemplateNotFound)
	assert.False(t, reg.Initialized())
}

func TestRegistry_RetriesTransportFailuresThroughBreaker(t *testing.T) {
	base := templates.FSFetcher{FS: os.DirFS("testdata")}
	var failures atomic.Int32
	fetcher := templates.FetcherFunc(func(ctx context.Context, name string) (*templates.Template, error) {
		if name == templates.NameCompliance && failures.Add(1) == 1 {
			return nil, &llmerrors.ProviderError{
				Provider:   "template_registry",
				StatusCode: http.StatusBadGateway,
				Type:       llmerrors.ErrorTypeProvider,
			}
		}
		return base.Fetch(ctx, name)
	})

	rt, err := retry.New(configuration.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
	})
	require.NoError(t, err)
	breakers, err := circuitbreaker.NewRegistry(configuration.CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	})
	require.NoError(t, err)

	reg := templates.NewRegistry(fetcher, templates.WithRetrier(rt), templates.WithBreakers(breakers))
	require.NoError(t, reg.Initialize(context.Background()))

	b, err := breakers.Get(templates.BreakerDependency)
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
	assert.Equal(t, int64(1), rt.Stats().SuccessfulRetries)
}
