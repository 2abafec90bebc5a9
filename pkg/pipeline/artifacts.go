package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const artifactDeleteTimeout = 30 * time.Second

// scheduleArtifactDeletion removes the uploaded file once the retention
// window passes. Scheduling the same key again restarts the window.
func (o *Orchestrator) scheduleArtifactDeletion(key string) {
	if key == "" {
		return
	}
	o.timersMu.Lock()
	defer o.timersMu.Unlock()

	if t, ok := o.timers[key]; ok {
		t.Stop()
	}
	o.timers[key] = time.AfterFunc(o.cfg.ArtifactRetention, func() {
		o.deleteArtifactNow(key)
	})
}

func (o *Orchestrator) deleteArtifactNow(key string) {
	if key == "" {
		return
	}
	o.timersMu.Lock()
	if t, ok := o.timers[key]; ok {
		t.Stop()
		delete(o.timers, key)
	}
	o.timersMu.Unlock()

	o.removeArtifact(key)
}

func (o *Orchestrator) removeArtifact(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), artifactDeleteTimeout)
	defer cancel()
	if err := o.artifacts.Delete(ctx, key); err != nil {
		o.log.Warn("failed to delete uploaded file", zap.String("key", key), zap.Error(err))
		return
	}
	o.log.Debug("uploaded file deleted", zap.String("key", key))
}

// flushArtifacts deletes every file still waiting for its timer.
func (o *Orchestrator) flushArtifacts() {
	o.timersMu.Lock()
	keys := make([]string, 0, len(o.timers))
	for key, t := range o.timers {
		t.Stop()
		keys = append(keys, key)
	}
	clear(o.timers)
	o.timersMu.Unlock()

	for _, key := range keys {
		o.removeArtifact(key)
	}
}

// pendingArtifacts reports how many deletions are scheduled.
func (o *Orchestrator) pendingArtifacts() int {
	o.timersMu.Lock()
	defer o.timersMu.Unlock()
	return len(o.timers)
}
