package model

import "time"

// Status is the lifecycle position of a session.
type Status string

const (
	StatusUploaded         Status = "uploaded"
	StatusExtracting       Status = "extracting"
	StatusExtracted        Status = "extracted"
	StatusAnalyzing        Status = "analyzing"
	StatusAnalysisComplete Status = "analysis_complete"
)

// HasText reports whether a session in this status must carry extracted text.
func (s Status) HasText() bool {
	switch s {
	case StatusExtracted, StatusAnalyzing, StatusAnalysisComplete:
		return true
	}
	return false
}

// DocumentMetadata holds counts computed during extraction.
type DocumentMetadata struct {
	PageCount int `json:"pageCount"`
	WordCount int `json:"wordCount"`
	CharCount int `json:"charCount"`
}

// Artifact points at the uploaded file while it is still retained.
type Artifact struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
}

// Session tracks one uploaded document through extraction and analysis.
type Session struct {
	ID             string            `json:"id"`
	FileName       string            `json:"fileName"`
	FileSize       int64             `json:"fileSize"`
	MimeType       string            `json:"mimeType"`
	UploadedAt     time.Time         `json:"uploadedAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	Status         Status            `json:"status"`
	Stage          string            `json:"stage,omitempty"`
	Progress       int               `json:"progress"`
	LastError      string            `json:"lastError,omitempty"`
	Artifact       Artifact          `json:"-"`
	ExtractedText  *string           `json:"-"`
	Metadata       *DocumentMetadata `json:"documentMetadata,omitempty"`
	ExtractionTime time.Duration     `json:"extractionTime"`
	Analysis       *AnalysisResult   `json:"-"`
}

// Clone returns a copy that shares no mutable state with s. The analysis
// result is shared because it is never modified after being written.
func (s Session) Clone() Session {
	out := s
	if s.ExtractedText != nil {
		text := *s.ExtractedText
		out.ExtractedText = &text
	}
	if s.Metadata != nil {
		meta := *s.Metadata
		out.Metadata = &meta
	}
	return out
}
