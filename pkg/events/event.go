// Package events fans out pipeline progress to interested observers.
package events

import (
	"time"

	"github.com/duynguyendang/lexa/pkg/model"
)

// TypeProcessingUpdate is the only event type emitted today.
const TypeProcessingUpdate = "processing_update"

// Stage names carried by ProgressEvent.Stage.
const (
	StageUpload           = "upload"
	StageExtraction       = "extraction"
	StageAnalysisStarted  = "analysis_started"
	StageAIAnalysis       = "ai_analysis"
	StageClauseDetection  = "clause_detection"
	StageRiskAssessment   = "risk_assessment"
	StageNextSteps        = "next_steps"
	StageAnalysisComplete = "analysis_complete"
	StageQuestionAnswered = "question_answered"
	StageError            = "error"
)

// ProgressEvent is a transient notification. It is never stored or replayed.
type ProgressEvent struct {
	Type      string                `json:"type"`
	SessionID string                `json:"sessionId"`
	Stage     string                `json:"stage"`
	Progress  int                   `json:"progress"`
	Timestamp time.Time             `json:"timestamp"`
	PageCount int                   `json:"pageCount,omitempty"`
	WordCount int                   `json:"wordCount,omitempty"`
	Error     string                `json:"error,omitempty"`
	Question  string                `json:"question,omitempty"`
	Answer    string                `json:"answer,omitempty"`
	Results   *model.AnalysisResult `json:"results,omitempty"`
}

// New builds a processing update stamped with the current time.
func New(sessionID, stage string, progress int) ProgressEvent {
	return ProgressEvent{
		Type:      TypeProcessingUpdate,
		SessionID: sessionID,
		Stage:     stage,
		Progress:  progress,
		Timestamp: time.Now().UTC(),
	}
}

// Failure builds the error event for a failed stage.
func Failure(sessionID string, err error) ProgressEvent {
	e := New(sessionID, StageError, 0)
	e.Error = err.Error()
	return e
}
