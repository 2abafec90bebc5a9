package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynguyendang/lexa/pkg/common/errors"
	"github.com/duynguyendang/lexa/pkg/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clock *fakeClock) Store {
			s, err := NewMemoryStore(10, WithClock(clock.Now))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T, clock *fakeClock) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
			require.NoError(t, err)
			s.now = clock.Now
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func newSession(id string, uploadedAt time.Time) *model.Session {
	return &model.Session{
		ID:         id,
		FileName:   "lease.pdf",
		FileSize:   2048,
		MimeType:   "application/pdf",
		UploadedAt: uploadedAt,
		Status:     model.StatusUploaded,
		Progress:   100,
		Artifact:   model.Artifact{Key: id + ".pdf", ContentType: "application/pdf"},
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("create and get", func(t *testing.T) {
				clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
				store := factory(t, clock)
				ctx := context.Background()

				require.NoError(t, store.Create(ctx, newSession("a", clock.Now())))

				got, ok, err := store.Get(ctx, "a")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "lease.pdf", got.FileName)
				assert.Equal(t, model.StatusUploaded, got.Status)
				assert.Nil(t, got.ExtractedText)
				assert.True(t, got.UploadedAt.Equal(clock.Now()))
			})

			t.Run("timestamps come back in UTC", func(t *testing.T) {
				clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
				store := factory(t, clock)
				ctx := context.Background()

				require.NoError(t, store.Create(ctx, newSession("a", clock.Now())))

				got, _, err := store.Get(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, time.UTC, got.UploadedAt.Location())
				assert.True(t, got.UploadedAt.Equal(clock.Now()))
			})

			t.Run("duplicate create is rejected", func(t *testing.T) {
				clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
				store := factory(t, clock)
				ctx := context.Background()

				require.NoError(t, store.Create(ctx, newSession("a", clock.Now())))
				err := store.Create(ctx, newSession("a", clock.Now()))
				assert.True(t, errors.Is(err, errors.ErrAlreadyExists))
			})

			t.Run("absent session", func(t *testing.T) {
				store := factory(t, &fakeClock{now: time.Unix(1_700_000_000, 0)})
				ctx := context.Background()

				_, ok, err := store.Get(ctx, "missing")
				require.NoError(t, err)
				assert.False(t, ok)

				_, ok, err = store.Merge(ctx, "missing", Patch{Stage: Ptr("extraction")})
				require.NoError(t, err)
				assert.False(t, ok)

				ids, err := store.ListIDs(ctx)
				require.NoError(t, err)
				assert.Empty(t, ids)
			})

			t.Run("merge preserves untouched fields", func(t *testing.T) {
				clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
				store := factory(t, clock)
				ctx := context.Background()
				require.NoError(t, store.Create(ctx, newSession("a", clock.Now())))

				_, ok, err := store.Merge(ctx, "a", Patch{
					Status:        Ptr(model.StatusExtracted),
					ExtractedText: Ptr("Name: Jane Doe"),
					Metadata:      &model.DocumentMetadata{PageCount: 1, WordCount: 3, CharCount: 14},
				})
				require.NoError(t, err)
				require.True(t, ok)

				clock.Advance(time.Second)
				updated, ok, err := store.Merge(ctx, "a", Patch{Stage: Ptr("ai_analysis"), Progress: Ptr(20)})
				require.NoError(t, err)
				require.True(t, ok)

				assert.Equal(t, model.StatusExtracted, updated.Status)
				require.NotNil(t, updated.ExtractedText)
				assert.Equal(t, "Name: Jane Doe", *updated.ExtractedText)
				assert.Equal(t, 3, updated.Metadata.WordCount)
				assert.Equal(t, "ai_analysis", updated.Stage)
				assert.Equal(t, 20, updated.Progress)
				assert.Equal(t, "a.pdf", updated.Artifact.Key)

				got, _, err := store.Get(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, "ai_analysis", got.Stage)
				assert.True(t, got.UpdatedAt.Equal(clock.Now()))
			})

			t.Run("analysis round trips", func(t *testing.T) {
				clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
				store := factory(t, clock)
				ctx := context.Background()
				require.NoError(t, store.Create(ctx, newSession("a", clock.Now())))

				result := &model.AnalysisResult{
					SessionID:    "a",
					Summary:      "Lease",
					DocumentType: "Lease Agreement",
					Parties:      []string{"Jane Doe"},
					Clauses: []model.Clause{
						{Text: "pay $500", Type: model.ClausePayment, RiskLevel: model.LevelLow, Span: &model.Span{Start: 3, End: 11}},
					},
					RiskAssessment: model.RiskAssessment{Score: model.LevelLow, TopRisks: []string{}},
				}
				_, _, err := store.Merge(ctx, "a", Patch{Status: Ptr(model.StatusAnalysisComplete), Analysis: result})
				require.NoError(t, err)

				got, _, err := store.Get(ctx, "a")
				require.NoError(t, err)
				require.NotNil(t, got.Analysis)
				assert.Equal(t, "Lease Agreement", got.Analysis.DocumentType)
				require.Len(t, got.Analysis.Clauses, 1)
				assert.Equal(t, &model.Span{Start: 3, End: 11}, got.Analysis.Clauses[0].Span)
			})

			t.Run("compare and swap status", func(t *testing.T) {
				clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
				store := factory(t, clock)
				ctx := context.Background()
				s := newSession("a", clock.Now())
				s.Status = model.StatusExtracted
				require.NoError(t, store.Create(ctx, s))

				swapped, err := store.CompareAndSwapStatus(ctx, "a", model.StatusExtracted, model.StatusAnalyzing)
				require.NoError(t, err)
				assert.True(t, swapped)

				swapped, err = store.CompareAndSwapStatus(ctx, "a", model.StatusExtracted, model.StatusAnalyzing)
				require.NoError(t, err)
				assert.False(t, swapped)

				swapped, err = store.CompareAndSwapStatus(ctx, "missing", model.StatusExtracted, model.StatusAnalyzing)
				require.NoError(t, err)
				assert.False(t, swapped)

				got, _, _ := store.Get(ctx, "a")
				assert.Equal(t, model.StatusAnalyzing, got.Status)
			})

			t.Run("eviction is strict and idempotent", func(t *testing.T) {
				clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
				store := factory(t, clock)
				ctx := context.Background()

				require.NoError(t, store.Create(ctx, newSession("old", clock.Now())))
				clock.Advance(30 * time.Minute)
				require.NoError(t, store.Create(ctx, newSession("young", clock.Now())))
				clock.Advance(30 * time.Minute)

				// "old" is exactly one hour old and must survive
				n, err := store.EvictOlderThan(ctx, time.Hour)
				require.NoError(t, err)
				assert.Equal(t, 0, n)

				clock.Advance(time.Nanosecond)
				n, err = store.EvictOlderThan(ctx, time.Hour)
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				n, err = store.EvictOlderThan(ctx, time.Hour)
				require.NoError(t, err)
				assert.Equal(t, 0, n)

				ids, err := store.ListIDs(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"young"}, ids)
			})

			t.Run("delete", func(t *testing.T) {
				clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
				store := factory(t, clock)
				ctx := context.Background()
				require.NoError(t, store.Create(ctx, newSession("a", clock.Now())))

				removed, err := store.Delete(ctx, "a")
				require.NoError(t, err)
				assert.True(t, removed)

				removed, err = store.Delete(ctx, "a")
				require.NoError(t, err)
				assert.False(t, removed)
			})
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store, err := NewMemoryStore(10)
	require.NoError(t, err)
	ctx := context.Background()

	s := newSession("a", time.Now())
	s.ExtractedText = Ptr("original")
	require.NoError(t, store.Create(ctx, s))

	*s.ExtractedText = "mutated by caller"
	got, _, _ := store.Get(ctx, "a")
	*got.ExtractedText = "mutated again"

	again, _, _ := store.Get(ctx, "a")
	assert.Equal(t, "original", *again.ExtractedText)
}

func TestMemoryStoreBounded(t *testing.T) {
	store, err := NewMemoryStore(2)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, newSession(id, time.Now())))
	}

	assert.Equal(t, 2, store.Len())
	_, ok, _ := store.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryStoreBoundKeepsBusySessions(t *testing.T) {
	store, err := NewMemoryStore(2)
	require.NoError(t, err)
	ctx := context.Background()

	extracting := newSession("extracting", time.Now())
	extracting.Status = model.StatusExtracting
	analyzing := newSession("analyzing", time.Now())
	analyzing.Status = model.StatusAnalyzing
	require.NoError(t, store.Create(ctx, extracting))
	require.NoError(t, store.Create(ctx, analyzing))

	err = store.Create(ctx, newSession("c", time.Now()))
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
	assert.Equal(t, 2, store.Len())

	swapped, err := store.CompareAndSwapStatus(ctx, "analyzing", model.StatusAnalyzing, model.StatusAnalysisComplete)
	require.NoError(t, err)
	require.True(t, swapped)

	require.NoError(t, store.Create(ctx, newSession("c", time.Now())))
	_, ok, _ := store.Get(ctx, "extracting")
	assert.True(t, ok)
	_, ok, _ = store.Get(ctx, "analyzing")
	assert.False(t, ok)
}

func TestMemoryStoreConcurrentMerges(t *testing.T) {
	store, err := NewMemoryStore(10)
	require.NoError(t, err)
	ctx := context.Background()
	s := newSession("a", time.Now())
	s.Status = model.StatusExtracted
	require.NoError(t, store.Create(ctx, s))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = store.Merge(ctx, "a", Patch{Progress: Ptr(i)})
			ok, _ := store.CompareAndSwapStatus(ctx, "a", model.StatusExtracted, model.StatusAnalyzing)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
