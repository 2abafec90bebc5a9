package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/events"
	"github.com/duynguyendang/lexa/pkg/extract"
	"github.com/duynguyendang/lexa/pkg/model"
	"github.com/duynguyendang/lexa/pkg/session"
	"github.com/duynguyendang/lexa/pkg/storage"
)

// Upload is a document handed over by a client.
type Upload struct {
	FileName string
	MimeType string
	Size     int64
	Content  io.Reader
}

func (o *Orchestrator) validateUpload(up Upload) error {
	if up.Content == nil {
		return errors.Validation("no file uploaded")
	}
	if strings.TrimSpace(up.FileName) == "" {
		return errors.Validation("file name is required")
	}
	if up.Size > o.cfg.MaxUploadSize {
		return errors.Validation("file is %s, the limit is %s",
			humanize.IBytes(uint64(up.Size)), humanize.IBytes(uint64(o.cfg.MaxUploadSize)))
	}
	if !extract.Supported(up.MimeType, up.FileName) {
		return errors.Validation("unsupported file type %q, allowed: PDF, DOC, DOCX, TXT", up.FileName)
	}
	return nil
}

// StartUpload stores the upload, creates its session and schedules
// extraction. It returns as soon as the session exists.
func (o *Orchestrator) StartUpload(ctx context.Context, up Upload) (model.Session, error) {
	sess, err := o.createUpload(ctx, up)
	o.metrics.IncUploads(err)
	if err != nil {
		return model.Session{}, err
	}

	o.publish(events.New(sess.ID, events.StageUpload, 100))
	o.log.Info("document uploaded",
		zap.String("session_id", sess.ID),
		zap.String("file", sess.FileName),
		zap.String("size", humanize.IBytes(uint64(sess.FileSize))))

	if _, _, err := o.StartExtraction(ctx, sess.ID); err != nil {
		o.discardUpload(ctx, sess)
		return model.Session{}, err
	}
	return sess, nil
}

// discardUpload removes the session and stored file of an upload that could
// not be scheduled.
func (o *Orchestrator) discardUpload(ctx context.Context, sess model.Session) {
	ctx = context.WithoutCancel(ctx)
	if _, err := o.store.Delete(ctx, sess.ID); err != nil {
		o.log.Warn("failed to drop session of unscheduled upload", zap.String("session_id", sess.ID), zap.Error(err))
	}
	o.removeArtifact(sess.Artifact.Key)
}

func (o *Orchestrator) createUpload(ctx context.Context, up Upload) (model.Session, error) {
	if err := o.validateUpload(up); err != nil {
		return model.Session{}, err
	}

	id := o.newID()
	now := o.now().UTC()
	sess := model.Session{
		ID:         id,
		FileName:   up.FileName,
		FileSize:   up.Size,
		MimeType:   up.MimeType,
		UploadedAt: now,
		UpdatedAt:  now,
		Status:     model.StatusUploaded,
		Stage:      events.StageUpload,
		Progress:   100,
		Artifact:   model.Artifact{Key: storage.Key(id, up.FileName), ContentType: up.MimeType},
	}

	if err := o.store.Create(ctx, &sess); err != nil {
		return model.Session{}, err
	}
	if err := o.artifacts.Save(ctx, sess.Artifact.Key, up.Content, up.Size, up.MimeType); err != nil {
		if _, delErr := o.store.Delete(context.WithoutCancel(ctx), id); delErr != nil {
			o.log.Warn("failed to drop session of failed upload", zap.String("session_id", id), zap.Error(delErr))
		}
		return model.Session{}, fmt.Errorf("failed to store upload: %w", err)
	}
	return sess, nil
}

// StartExtraction schedules text extraction for a session in status
// uploaded. For any other status it reports that status and does nothing.
func (o *Orchestrator) StartExtraction(ctx context.Context, id string) (model.Status, bool, error) {
	sess, ok, err := o.store.Get(ctx, id)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, fmt.Errorf("session %s: %w", id, errors.ErrNotFound)
	}

	swapped, err := o.store.CompareAndSwapStatus(ctx, id, model.StatusUploaded, model.StatusExtracting)
	if err != nil {
		return "", false, err
	}
	if !swapped {
		return o.currentStatus(ctx, id, sess.Status), false, nil
	}

	started := o.spawn("extraction", id, func(ctx context.Context) {
		o.runExtraction(ctx, sess)
	}, func(err error) {
		o.fail(context.Background(), id, model.StatusUploaded, fmt.Errorf("Extraction failed: %w", err))
		o.scheduleArtifactDeletion(sess.Artifact.Key)
	})
	if !started {
		o.restoreStatus(ctx, id, model.StatusExtracting, model.StatusUploaded)
		return model.StatusUploaded, false, errShuttingDown
	}
	return model.StatusExtracting, true, nil
}

func (o *Orchestrator) runExtraction(ctx context.Context, sess model.Session) {
	id := sess.ID
	start := time.Now()
	defer o.scheduleArtifactDeletion(sess.Artifact.Key)

	if !o.progress(ctx, id, events.StageExtraction, 10) {
		o.publish(events.Failure(id, sessionExpired(events.StageExtraction)))
		return
	}

	res, err := o.extractArtifact(ctx, sess)
	o.metrics.ObserveStage(events.StageExtraction, time.Since(start), err)
	if err != nil {
		o.log.Warn("extraction failed", zap.String("session_id", id), zap.Error(err))
		o.fail(ctx, id, model.StatusUploaded, err)
		return
	}

	took := time.Since(start)
	meta := model.DocumentMetadata{PageCount: res.PageCount, WordCount: res.WordCount, CharCount: res.CharCount}
	_, ok, err := o.store.Merge(ctx, id, session.Patch{
		Status:         session.Ptr(model.StatusExtracted),
		Stage:          session.Ptr(events.StageExtraction),
		Progress:       session.Ptr(100),
		LastError:      session.Ptr(""),
		ExtractedText:  session.Ptr(res.Text),
		Metadata:       &meta,
		ExtractionTime: session.Ptr(took),
	})
	if err != nil {
		o.fail(ctx, id, model.StatusUploaded, fmt.Errorf("failed to save extracted text: %w", err))
		return
	}
	if !ok {
		o.log.Info("session removed during extraction", zap.String("session_id", id))
		o.publish(events.Failure(id, sessionExpired(events.StageExtraction)))
		return
	}

	done := events.New(id, events.StageExtraction, 100)
	done.PageCount = res.PageCount
	done.WordCount = res.WordCount
	o.publish(done)
	o.log.Info("text extracted",
		zap.String("session_id", id),
		zap.Int("pages", res.PageCount),
		zap.Int("words", res.WordCount),
		zap.Duration("took", took))

	if o.cfg.AutoAnalyze {
		if _, err := o.StartAnalysis(ctx, id); err != nil {
			o.log.Warn("auto analysis not started", zap.String("session_id", id), zap.Error(err))
		}
	}
}

func (o *Orchestrator) extractArtifact(ctx context.Context, sess model.Session) (extract.Result, error) {
	path, release, err := o.artifacts.Open(ctx, sess.Artifact.Key)
	if err != nil {
		return extract.Result{}, fmt.Errorf("%w: %w", errors.ErrExtraction, err)
	}
	defer release()
	return o.extractor.Extract(ctx, path, sess.MimeType)
}
