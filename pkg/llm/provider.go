// Package llm is the language model boundary of the pipeline.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/metrics"
)

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 60 * time.Second

// Request is one prompt sent to a model. Name identifies the prompt template
// and is used for metrics and logs.
type Request struct {
	Name        string
	Prompt      string
	Temperature float32
}

// Provider is the interface for LLM backends.
type Provider interface {
	// Generate returns the raw text reply for the prompt.
	Generate(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

func (f ProviderFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type timeoutProvider struct {
	next    Provider
	timeout time.Duration
}

// WithTimeout bounds every call made through p. Expiry and any other failure
// of p are reported as ErrProvider.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutProvider{next: p, timeout: d}
}

func (t *timeoutProvider) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, err := t.next.Generate(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.Provider(fmt.Errorf("%s timed out after %s: %w", req.Name, t.timeout, err))
		}
		return "", errors.Provider(err)
	}
	return out, nil
}

type instrumentedProvider struct {
	next    Provider
	metrics *metrics.Metrics
}

// WithMetrics records latency and outcome of every call per request name.
func WithMetrics(p Provider, m *metrics.Metrics) Provider {
	if m == nil {
		return p
	}
	return &instrumentedProvider{next: p, metrics: m}
}

func (i *instrumentedProvider) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := i.next.Generate(ctx, req)
	i.metrics.ObserveAICall(req.Name, time.Since(start), err)
	return out, err
}
