// Package pipeline drives a document session from upload through text
// extraction and the four analysis steps, publishing progress as it goes.
//
// Every stage runs on its own goroutine so callers never wait on extraction
// or model calls. A stage that fails publishes one error event and puts the
// session back to its last good status so the stage can be triggered again.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/events"
	"github.com/duynguyendang/lexa/pkg/extract"
	"github.com/duynguyendang/lexa/pkg/metrics"
	"github.com/duynguyendang/lexa/pkg/model"
	"github.com/duynguyendang/lexa/pkg/session"
	"github.com/duynguyendang/lexa/pkg/storage"
)

// Analyzer is the language model backed half of the pipeline.
type Analyzer interface {
	AnalyzeDocument(ctx context.Context, text string) (model.DocumentOverview, error)
	DetectClauses(ctx context.Context, text string) ([]model.Clause, error)
	CalculateRiskScore(ctx context.Context, text string, clauses []model.Clause) (model.RiskAssessment, error)
	GenerateNextSteps(ctx context.Context, text, docType string) (model.NextSteps, error)
	AnswerQuestion(ctx context.Context, text, question, language string) (string, error)
}

// Config tunes retention and scheduling.
type Config struct {
	// ArtifactRetention is how long an uploaded file is kept after extraction finishes.
	ArtifactRetention time.Duration
	// SessionMaxAge is the age past which the janitor evicts a session.
	SessionMaxAge time.Duration
	// SweepInterval is the janitor period. Zero disables the janitor.
	SweepInterval time.Duration
	MaxUploadSize int64
	// AutoAnalyze starts analysis as soon as extraction succeeds.
	AutoAnalyze bool
}

func DefaultConfig() Config {
	return Config{
		ArtifactRetention: time.Hour,
		SessionMaxAge:     time.Hour,
		SweepInterval:     10 * time.Minute,
		MaxUploadSize:     50 << 20,
	}
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Store     session.Store
	Events    events.Publisher
	Extractor extract.Extractor
	Analyzer  Analyzer
	Artifacts storage.Store
}

type Orchestrator struct {
	store     session.Store
	events    events.Publisher
	extractor extract.Extractor
	analyzer  Analyzer
	artifacts storage.Store
	cfg       Config

	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string

	// ctx is handed to every stage goroutine and cancelled on forced shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides uuid generation of session ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

func New(deps Deps, cfg Config, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("pipeline: session store is required")
	case deps.Events == nil:
		return nil, fmt.Errorf("pipeline: event publisher is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("pipeline: extractor is required")
	case deps.Analyzer == nil:
		return nil, fmt.Errorf("pipeline: analyzer is required")
	case deps.Artifacts == nil:
		return nil, fmt.Errorf("pipeline: artifact store is required")
	}

	defaults := DefaultConfig()
	if cfg.ArtifactRetention <= 0 {
		cfg.ArtifactRetention = defaults.ArtifactRetention
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = defaults.SessionMaxAge
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaults.MaxUploadSize
	}

	o := &Orchestrator{
		store:     deps.Store,
		events:    deps.Events,
		extractor: deps.Extractor,
		analyzer:  deps.Analyzer,
		artifacts: deps.Artifacts,
		cfg:       cfg,
		log:       zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
		timers:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Named("pipeline")
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

// spawn runs fn on a tracked goroutine. onPanic restores session state if fn
// panics. It returns false once Shutdown has begun.
func (o *Orchestrator) spawn(task, sessionID string, fn func(ctx context.Context), onPanic func(err error)) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("%s: %w: %v", task, errors.ErrInternal, r)
				o.log.Error("pipeline task panicked",
					zap.String("task", task),
					zap.String("session_id", sessionID),
					zap.Any("panic", r),
					zap.Stack("stack"))
				if onPanic != nil {
					onPanic(err)
				}
			}
		}()
		fn(o.ctx)
	}()
	return true
}

func (o *Orchestrator) publish(e events.ProgressEvent) {
	o.events.Publish(e)
}

// progress records the stage boundary on the session and announces it. It
// returns false, without publishing, when the session no longer exists.
func (o *Orchestrator) progress(ctx context.Context, id, stage string, pct int) bool {
	_, ok, err := o.store.Merge(ctx, id, session.Patch{Stage: session.Ptr(stage), Progress: session.Ptr(pct)})
	if err != nil {
		o.log.Warn("failed to record progress", zap.String("session_id", id), zap.String("stage", stage), zap.Error(err))
	} else if !ok {
		return false
	}
	o.publish(events.New(id, stage, pct))
	return true
}

func sessionExpired(stage string) error {
	return fmt.Errorf("session expired during %s: %w", stage, errors.ErrNotFound)
}

// fail rolls the session back to status, remembers the error and publishes it.
func (o *Orchestrator) fail(ctx context.Context, id string, status model.Status, err error) {
	// the rollback must land even when shutdown cancelled the stage
	ctx = context.WithoutCancel(ctx)
	_, _, mergeErr := o.store.Merge(ctx, id, session.Patch{
		Status:    session.Ptr(status),
		Stage:     session.Ptr(events.StageError),
		Progress:  session.Ptr(0),
		LastError: session.Ptr(err.Error()),
	})
	if mergeErr != nil {
		o.log.Error("failed to roll back session", zap.String("session_id", id), zap.Error(mergeErr))
	}
	o.publish(events.Failure(id, err))
}

// Shutdown stops accepting new stage runs and waits for in-flight ones. If
// ctx expires first the running stages are cancelled. Pending artifact
// deletions are carried out immediately.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		o.log.Warn("shutdown deadline reached, cancelling running stages")
		o.cancel()
		<-done
		err = ctx.Err()
	}
	o.cancel()
	o.flushArtifacts()
	return err
}
