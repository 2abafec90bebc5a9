package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/duynguyendang/lexa/pkg/common/errors"
)

const DefaultModel = "gemini-2.5-flash"

// GeminiProvider calls Google's Gemini models through one shared client.
type GeminiProvider struct {
	client    *genai.Client
	modelName string
	log       *zap.Logger
}

func NewGeminiProvider(ctx context.Context, apiKey, modelName string, log *zap.Logger) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set: %w", errors.ErrInvalidInput)
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	if log == nil {
		log = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{
		client:    client,
		modelName: modelName,
		log:       log.Named("gemini"),
	}, nil
}

func (g *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	// a model handle per call so temperatures of concurrent requests do not collide
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(req.Temperature)

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		g.log.Warn("gemini request failed", zap.String("prompt", req.Name), zap.Error(err))
		return "", errors.Provider(fmt.Errorf("gemini request failed: %w", err))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.Provider(fmt.Errorf("gemini returned no candidates for %s", req.Name))
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

func (g *GeminiProvider) Close() error {
	return g.client.Close()
}
