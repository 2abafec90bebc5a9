package model

import "time"

// ClauseType classifies a detected clause.
type ClauseType string

const (
	ClauseRisk       ClauseType = "risk"
	ClausePayment    ClauseType = "payment"
	ClauseObligation ClauseType = "obligation"
	ClauseExpiry     ClauseType = "expiry"
)

// Valid reports whether t is one of the known clause types.
func (t ClauseType) Valid() bool {
	switch t {
	case ClauseRisk, ClausePayment, ClauseObligation, ClauseExpiry:
		return true
	}
	return false
}

// Level is a low/medium/high rating used for clause risk and overall score.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Valid reports whether l is one of the known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh:
		return true
	}
	return false
}

// Span is a half-open byte range [Start, End) into the extracted text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Clause struct {
	Text        string     `json:"text"`
	Type        ClauseType `json:"type"`
	RiskLevel   Level      `json:"riskLevel,omitempty"`
	Explanation string     `json:"explanation"`
	Span        *Span      `json:"span,omitempty"`
}

type RiskAssessment struct {
	Score     Level    `json:"score"`
	Reasoning string   `json:"reasoning"`
	TopRisks  []string `json:"topRisks"`
}

type Step struct {
	Action    string `json:"step"`
	Rationale string `json:"rationale"`
}

type NextSteps struct {
	Steps      []Step `json:"steps"`
	Disclaimer string `json:"disclaimer"`
}

// DocumentOverview is the output of the first analysis step.
type DocumentOverview struct {
	Summary       string   `json:"summary"`
	DocumentType  string   `json:"documentType"`
	Parties       []string `json:"parties"`
	EffectiveDate *string  `json:"effectiveDate"`
	ExpiryDate    *string  `json:"expiryDate"`
}

// AnalysisResult is the compiled output of a successful analysis run.
// It is immutable once stored on a session.
type AnalysisResult struct {
	SessionID      string         `json:"sessionId"`
	Summary        string         `json:"summary"`
	DocumentType   string         `json:"documentType"`
	Parties        []string       `json:"parties"`
	EffectiveDate  *string        `json:"effectiveDate"`
	ExpiryDate     *string        `json:"expiryDate"`
	Clauses        []Clause       `json:"clauses"`
	RiskAssessment RiskAssessment `json:"riskAssessment"`
	NextSteps      NextSteps      `json:"nextSteps"`
	CompletedAt    time.Time      `json:"completedAt"`
}
