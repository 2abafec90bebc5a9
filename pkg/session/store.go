// Package session holds document-processing sessions keyed by id.
//
// Every field mutation goes through Merge, and the single check-and-set
// primitive is CompareAndSwapStatus, so backends can be swapped without
// callers doing read-modify-write on their own.
package session

import (
	"context"
	"time"

	"github.com/duynguyendang/lexa/pkg/model"
)

// Store is the session persistence contract.
type Store interface {
	// Create inserts a new session. It fails with ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, s *model.Session) error
	// Get returns a copy of the session and whether it exists.
	Get(ctx context.Context, id string) (model.Session, bool, error)
	// Merge overwrites the non-nil fields of p and returns the updated session.
	// It is a no-op returning false when the session does not exist.
	Merge(ctx context.Context, id string, p Patch) (model.Session, bool, error)
	// CompareAndSwapStatus sets the status to `to` only if it currently equals `from`.
	CompareAndSwapStatus(ctx context.Context, id string, from, to model.Status) (bool, error)
	// ListIDs returns a snapshot of the ids currently stored.
	ListIDs(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) (bool, error)
	// EvictOlderThan removes sessions uploaded strictly more than maxAge ago.
	EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
	Close() error
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Status         *model.Status
	Stage          *string
	Progress       *int
	LastError      *string
	Artifact       *model.Artifact
	ExtractedText  *string
	Metadata       *model.DocumentMetadata
	ExtractionTime *time.Duration
	Analysis       *model.AnalysisResult
}

// Apply writes the set fields of p onto s.
func (p Patch) Apply(s *model.Session) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Stage != nil {
		s.Stage = *p.Stage
	}
	if p.Progress != nil {
		s.Progress = *p.Progress
	}
	if p.LastError != nil {
		s.LastError = *p.LastError
	}
	if p.Artifact != nil {
		s.Artifact = *p.Artifact
	}
	if p.ExtractedText != nil {
		text := *p.ExtractedText
		s.ExtractedText = &text
	}
	if p.Metadata != nil {
		meta := *p.Metadata
		s.Metadata = &meta
	}
	if p.ExtractionTime != nil {
		s.ExtractionTime = *p.ExtractionTime
	}
	if p.Analysis != nil {
		s.Analysis = p.Analysis
	}
}

// Ptr returns a pointer to v. It keeps Patch literals short.
func Ptr[T any](v T) *T {
	return &v
}

func expired(uploadedAt, now time.Time, maxAge time.Duration) bool {
	return now.Sub(uploadedAt) > maxAge
}
