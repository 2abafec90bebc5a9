// Package analysis turns document text into structured legal insights by
// prompting a language model and parsing its replies.
//
// Malformed replies never fail a call: every structured call falls back to a
// deterministic default. Only provider failures are returned as errors.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/llm"
	"github.com/duynguyendang/lexa/pkg/model"
	"github.com/duynguyendang/lexa/pkg/prompts"
)

const (
	DefaultLanguage = "English"

	fallbackPreview = 200
	unknownDocType  = "Unknown"

	// FallbackAnswer replaces a blank reply to a question.
	FallbackAnswer = "This information is not contained in the document."
)

// Engine runs the analysis prompts against a Provider.
type Engine struct {
	provider llm.Provider
	prompts  prompts.Set
	log      *zap.Logger
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPrompts replaces the embedded prompt set.
func WithPrompts(set prompts.Set) Option {
	return func(e *Engine) { e.prompts = set }
}

func NewEngine(provider llm.Provider, opts ...Option) (*Engine, error) {
	e := &Engine{provider: provider, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	if e.prompts == nil {
		set, err := prompts.Default()
		if err != nil {
			return nil, err
		}
		e.prompts = set
	}
	e.log = e.log.Named("analysis")
	return e, nil
}

func (e *Engine) generate(ctx context.Context, name string, data prompts.Data) (string, error) {
	p, ok := e.prompts[name]
	if !ok {
		return "", fmt.Errorf("prompt %q not configured: %w", name, errors.ErrInternal)
	}
	text, err := p.Execute(data)
	if err != nil {
		return "", err
	}
	reply, err := e.provider.Generate(ctx, llm.Request{
		Name:        name,
		Prompt:      text,
		Temperature: p.Config.Temperature,
	})
	if err != nil {
		return "", errors.Provider(err)
	}
	return reply, nil
}

func (e *Engine) malformed(name string, err error, reply string) {
	e.log.Warn("unparseable model reply, using fallback",
		zap.String("prompt", name),
		zap.Error(err),
		zap.String("reply", prompts.Truncate(reply, 100)))
}

// AnalyzeDocument extracts the summary, document type, parties and dates.
func (e *Engine) AnalyzeDocument(ctx context.Context, text string) (model.DocumentOverview, error) {
	reply, err := e.generate(ctx, prompts.Overview, prompts.Data{Text: text})
	if err != nil {
		return model.DocumentOverview{}, err
	}

	overview, err := decode[model.DocumentOverview](reply)
	if err != nil {
		e.malformed(prompts.Overview, err, reply)
		return model.DocumentOverview{
			Summary:      prompts.Truncate(reply, fallbackPreview),
			DocumentType: unknownDocType,
			Parties:      []string{},
		}, nil
	}

	if overview.Parties == nil {
		overview.Parties = []string{}
	}
	if strings.TrimSpace(overview.DocumentType) == "" {
		overview.DocumentType = unknownDocType
	}
	overview.EffectiveDate = nullableDate(overview.EffectiveDate)
	overview.ExpiryDate = nullableDate(overview.ExpiryDate)
	return overview, nil
}

// models sometimes spell a missing date as the string "null"
func nullableDate(d *string) *string {
	if d == nil {
		return nil
	}
	v := strings.TrimSpace(*d)
	if v == "" || strings.EqualFold(v, "null") || strings.EqualFold(v, "n/a") {
		return nil
	}
	return &v
}

type rawClause struct {
	Text        string `json:"text"`
	Type        string `json:"type"`
	RiskLevel   string `json:"riskLevel"`
	Explanation string `json:"explanation"`
}

// DetectClauses lists the notable clauses with their location in text.
func (e *Engine) DetectClauses(ctx context.Context, text string) ([]model.Clause, error) {
	reply, err := e.generate(ctx, prompts.Clauses, prompts.Data{Text: text})
	if err != nil {
		return nil, err
	}

	raw, err := decode[[]rawClause](reply)
	if err != nil {
		e.malformed(prompts.Clauses, err, reply)
		return fallbackClauses(text), nil
	}

	clauses := make([]model.Clause, 0, len(raw))
	for _, rc := range raw {
		typ := model.ClauseType(strings.ToLower(strings.TrimSpace(rc.Type)))
		if strings.TrimSpace(rc.Text) == "" || !typ.Valid() {
			continue
		}
		level := model.Level(strings.ToLower(strings.TrimSpace(rc.RiskLevel)))
		if !level.Valid() {
			level = ""
		}
		clauses = append(clauses, model.Clause{
			Text:        rc.Text,
			Type:        typ,
			RiskLevel:   level,
			Explanation: rc.Explanation,
			Span:        locate(text, rc.Text),
		})
	}
	return clauses, nil
}

func fallbackClauses(text string) []model.Clause {
	if text == "" {
		return []model.Clause{}
	}
	preview := prompts.Truncate(text, fallbackPreview)
	return []model.Clause{{
		Text:        preview + "...",
		Type:        model.ClauseObligation,
		RiskLevel:   model.LevelMedium,
		Explanation: "Key clause identified in document",
		Span:        &model.Span{Start: 0, End: len(preview)},
	}}
}

// CalculateRiskScore rates the document overall. The detected clauses are
// given to the model as extra context.
func (e *Engine) CalculateRiskScore(ctx context.Context, text string, clauses []model.Clause) (model.RiskAssessment, error) {
	reply, err := e.generate(ctx, prompts.Risk, prompts.Data{Text: text, Clauses: clauses})
	if err != nil {
		return model.RiskAssessment{}, err
	}

	risk, err := decode[model.RiskAssessment](reply)
	if err != nil {
		e.malformed(prompts.Risk, err, reply)
		return model.RiskAssessment{
			Score:     model.LevelMedium,
			Reasoning: "Unable to fully assess risk",
			TopRisks:  []string{"Unable to assess"},
		}, nil
	}

	risk.Score = model.Level(strings.ToLower(strings.TrimSpace(string(risk.Score))))
	if !risk.Score.Valid() {
		risk.Score = model.LevelMedium
	}
	if risk.TopRisks == nil {
		risk.TopRisks = []string{}
	}
	return risk, nil
}

// GenerateNextSteps suggests what the reader should do with a document of docType.
func (e *Engine) GenerateNextSteps(ctx context.Context, text, docType string) (model.NextSteps, error) {
	reply, err := e.generate(ctx, prompts.NextSteps, prompts.Data{Text: text, DocumentType: docType})
	if err != nil {
		return model.NextSteps{}, err
	}

	steps, err := decode[model.NextSteps](reply)
	if err != nil {
		e.malformed(prompts.NextSteps, err, reply)
		return model.NextSteps{
			Steps: []model.Step{{
				Action:    "Review document thoroughly",
				Rationale: "Ensure you understand all terms and conditions",
			}},
			Disclaimer: "Not legal advice",
		}, nil
	}

	if steps.Steps == nil {
		steps.Steps = []model.Step{}
	}
	if steps.Disclaimer == "" {
		steps.Disclaimer = "Not legal advice"
	}
	return steps, nil
}

// AnswerQuestion answers from the document only, in the requested language.
func (e *Engine) AnswerQuestion(ctx context.Context, text, question, language string) (string, error) {
	if language == "" {
		language = DefaultLanguage
	}
	reply, err := e.generate(ctx, prompts.Question, prompts.Data{Text: text, Question: question, Language: language})
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(reply)
	if answer == "" {
		e.malformed(prompts.Question, errors.ErrMalformedOutput, reply)
		return FallbackAnswer, nil
	}
	return answer, nil
}
