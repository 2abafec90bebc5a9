package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/model"
)

// GetSessionStatus returns a copy of the session.
func (o *Orchestrator) GetSessionStatus(ctx context.Context, id string) (model.Session, error) {
	sess, ok, err := o.store.Get(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if !ok {
		return model.Session{}, fmt.Errorf("session %s: %w", id, errors.ErrNotFound)
	}
	return sess, nil
}

// GetSessionText returns the extracted text and its counts.
func (o *Orchestrator) GetSessionText(ctx context.Context, id string) (string, model.DocumentMetadata, error) {
	sess, err := o.GetSessionStatus(ctx, id)
	if err != nil {
		return "", model.DocumentMetadata{}, err
	}
	if sess.ExtractedText == nil {
		return "", model.DocumentMetadata{}, errors.Validation("text not yet extracted")
	}
	var meta model.DocumentMetadata
	if sess.Metadata != nil {
		meta = *sess.Metadata
	}
	return *sess.ExtractedText, meta, nil
}

// ListSessions returns every stored session, oldest upload first.
func (o *Orchestrator) ListSessions(ctx context.Context) ([]model.Session, error) {
	ids, err := o.store.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(ids))
	for _, id := range ids {
		sess, ok, err := o.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		// evicted between the snapshot and now
		if !ok {
			continue
		}
		out = append(out, sess)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

// DeleteSession removes the session and its uploaded file right away.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	sess, ok, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s: %w", id, errors.ErrNotFound)
	}
	if _, err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	o.deleteArtifactNow(sess.Artifact.Key)
	o.log.Info("session deleted", zap.String("session_id", id))
	return nil
}

// Cleanup evicts sessions uploaded more than maxAge ago. A non-positive
// maxAge uses the configured SessionMaxAge.
func (o *Orchestrator) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = o.cfg.SessionMaxAge
	}
	n, err := o.store.EvictOlderThan(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	o.metrics.AddEvicted(n)
	if n > 0 {
		o.log.Info("expired sessions evicted", zap.Int("count", n), zap.Duration("max_age", maxAge))
	}
	return n, nil
}

// RunJanitor evicts expired sessions every SweepInterval until ctx is done.
func (o *Orchestrator) RunJanitor(ctx context.Context) {
	if o.cfg.SweepInterval <= 0 {
		return
	}
	ticker := jitterbug.New(o.cfg.SweepInterval, &jitterbug.Norm{Stdev: o.cfg.SweepInterval / 20, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.Cleanup(ctx, o.cfg.SessionMaxAge); err != nil {
				o.log.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) currentStatus(ctx context.Context, id string, fallback model.Status) model.Status {
	sess, ok, err := o.store.Get(ctx, id)
	if err != nil || !ok {
		return fallback
	}
	return sess.Status
}

func (o *Orchestrator) restoreStatus(ctx context.Context, id string, from, to model.Status) {
	if _, err := o.store.CompareAndSwapStatus(context.WithoutCancel(ctx), id, from, to); err != nil {
		o.log.Warn("failed to restore status", zap.String("session_id", id), zap.Error(err))
	}
}
