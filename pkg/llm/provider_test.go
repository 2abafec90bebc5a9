package llm

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/metrics"
)

func TestWithTimeoutExpires(t *testing.T) {
	slow := ProviderFunc(func(ctx context.Context, req Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	start := time.Now()
	_, err := WithTimeout(slow, 20*time.Millisecond).Generate(context.Background(), Request{Name: "risk"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, errors.Is(err, errors.ErrProvider))
	assert.Contains(t, err.Error(), "risk timed out")
}

func TestWithTimeoutWrapsFailures(t *testing.T) {
	failing := ProviderFunc(func(context.Context, Request) (string, error) {
		return "", stderrors.New("quota exceeded")
	})

	_, err := WithTimeout(failing, time.Second).Generate(context.Background(), Request{Name: "overview"})
	assert.True(t, errors.Is(err, errors.ErrProvider))
	assert.Equal(t, "provider error: quota exceeded", err.Error())
}

func TestWithTimeoutPassesReply(t *testing.T) {
	echo := ProviderFunc(func(_ context.Context, req Request) (string, error) {
		return req.Prompt, nil
	})

	out, err := WithTimeout(echo, 0).Generate(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestWithMetrics(t *testing.T) {
	echo := ProviderFunc(func(_ context.Context, req Request) (string, error) {
		return "ok", nil
	})
	_, unwrapped := WithMetrics(echo, nil).(ProviderFunc)
	assert.True(t, unwrapped)

	p := WithMetrics(echo, metrics.New(prometheus.NewRegistry()))
	out, err := p.Generate(context.Background(), Request{Name: "question"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestNewGeminiProviderRequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), "", "", nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
