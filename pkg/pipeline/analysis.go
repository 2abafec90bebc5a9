package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/events"
	"github.com/duynguyendang/lexa/pkg/model"
	"github.com/duynguyendang/lexa/pkg/session"
)

const stageAnalysis = "analysis"

var errShuttingDown = fmt.Errorf("pipeline is shutting down: %w", errors.ErrInternal)

// AnalysisAck acknowledges an analysis trigger. Started is false when a run
// was already in progress or finished, in which case Status reports it.
type AnalysisAck struct {
	SessionID string       `json:"sessionId"`
	Status    model.Status `json:"status"`
	Started   bool         `json:"started"`
}

// StartAnalysis schedules the four analysis steps. It is rejected before any
// event or model call when the session is unknown or has no text. Only one
// run per session can be in flight; duplicate triggers are absorbed.
func (o *Orchestrator) StartAnalysis(ctx context.Context, id string) (AnalysisAck, error) {
	sess, ok, err := o.store.Get(ctx, id)
	if err != nil {
		return AnalysisAck{}, err
	}
	if !ok {
		return AnalysisAck{}, fmt.Errorf("session %s: %w", id, errors.ErrNotFound)
	}
	if sess.ExtractedText == nil {
		return AnalysisAck{}, errors.Validation("document text not extracted")
	}

	ack := AnalysisAck{SessionID: id, Status: sess.Status}
	if sess.Status == model.StatusAnalyzing || sess.Status == model.StatusAnalysisComplete {
		return ack, nil
	}

	swapped, err := o.store.CompareAndSwapStatus(ctx, id, model.StatusExtracted, model.StatusAnalyzing)
	if err != nil {
		return AnalysisAck{}, err
	}
	if !swapped {
		ack.Status = o.currentStatus(ctx, id, sess.Status)
		return ack, nil
	}

	text := *sess.ExtractedText
	started := o.spawn(stageAnalysis, id, func(ctx context.Context) {
		o.runAnalysis(ctx, id, text)
	}, func(err error) {
		o.fail(context.Background(), id, model.StatusExtracted, err)
	})
	if !started {
		o.restoreStatus(ctx, id, model.StatusAnalyzing, model.StatusExtracted)
		return AnalysisAck{}, errShuttingDown
	}

	ack.Status = model.StatusAnalyzing
	ack.Started = true
	return ack, nil
}

func (o *Orchestrator) runAnalysis(ctx context.Context, id, text string) {
	start := time.Now()
	result, err := o.analyze(ctx, id, text)
	o.metrics.ObserveStage(stageAnalysis, time.Since(start), err)
	if err != nil {
		o.log.Warn("analysis failed", zap.String("session_id", id), zap.Error(err))
		o.fail(ctx, id, model.StatusExtracted, err)
		return
	}

	_, ok, err := o.store.Merge(ctx, id, session.Patch{
		Status:    session.Ptr(model.StatusAnalysisComplete),
		Stage:     session.Ptr(events.StageAnalysisComplete),
		Progress:  session.Ptr(100),
		LastError: session.Ptr(""),
		Analysis:  result,
	})
	if err != nil {
		o.fail(ctx, id, model.StatusExtracted, fmt.Errorf("failed to save analysis: %w", err))
		return
	}
	if !ok {
		o.log.Info("session removed during analysis", zap.String("session_id", id))
		o.publish(events.Failure(id, sessionExpired(stageAnalysis)))
		return
	}

	done := events.New(id, events.StageAnalysisComplete, 100)
	done.Results = result
	o.publish(done)
	o.log.Info("analysis complete",
		zap.String("session_id", id),
		zap.String("document_type", result.DocumentType),
		zap.Int("clauses", len(result.Clauses)),
		zap.String("risk", string(result.RiskAssessment.Score)),
		zap.Duration("took", time.Since(start)))
}

// analyze announces the run and records every step boundary on the session.
func (o *Orchestrator) analyze(ctx context.Context, id, text string) (*model.AnalysisResult, error) {
	o.publish(events.New(id, events.StageAnalysisStarted, 5))

	result, err := RunSteps(ctx, o.analyzer, text, func(stage string, pct int) error {
		if !o.progress(ctx, id, stage, pct) {
			return sessionExpired(stageAnalysis)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.SessionID = id
	result.CompletedAt = o.now().UTC()
	return result, nil
}

// RunSteps runs the four analysis steps on text. Each step starts only after
// the previous one succeeded; onStep, if set, is called before each with its
// stage and progress and may abort the run by returning an error, which is
// returned as is. The first failure ends the run.
func RunSteps(ctx context.Context, a Analyzer, text string, onStep func(stage string, progress int) error) (*model.AnalysisResult, error) {
	step := func(stage string, pct int) error {
		if onStep == nil {
			return nil
		}
		return onStep(stage, pct)
	}

	if err := step(events.StageAIAnalysis, 20); err != nil {
		return nil, err
	}
	overview, err := a.AnalyzeDocument(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("AI Analysis failed: %w", err)
	}

	if err := step(events.StageClauseDetection, 45); err != nil {
		return nil, err
	}
	clauses, err := a.DetectClauses(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("Clause detection failed: %w", err)
	}

	if err := step(events.StageRiskAssessment, 70); err != nil {
		return nil, err
	}
	risk, err := a.CalculateRiskScore(ctx, text, clauses)
	if err != nil {
		return nil, fmt.Errorf("Risk assessment failed: %w", err)
	}

	docType := overview.DocumentType
	if docType == "" {
		docType = "Unknown"
	}
	if err := step(events.StageNextSteps, 85); err != nil {
		return nil, err
	}
	steps, err := a.GenerateNextSteps(ctx, text, docType)
	if err != nil {
		return nil, fmt.Errorf("Next steps generation failed: %w", err)
	}

	if clauses == nil {
		clauses = []model.Clause{}
	}
	return &model.AnalysisResult{
		Summary:        overview.Summary,
		DocumentType:   overview.DocumentType,
		Parties:        overview.Parties,
		EffectiveDate:  overview.EffectiveDate,
		ExpiryDate:     overview.ExpiryDate,
		Clauses:        clauses,
		RiskAssessment: risk,
		NextSteps:      steps,
	}, nil
}

// GetAnalysisResult returns the compiled result. ErrNotReady means the
// session exists but analysis has not completed.
func (o *Orchestrator) GetAnalysisResult(ctx context.Context, id string) (*model.AnalysisResult, error) {
	sess, err := o.GetSessionStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Analysis == nil {
		return nil, fmt.Errorf("results for %s: %w", id, errors.ErrNotReady)
	}
	return sess.Analysis, nil
}
