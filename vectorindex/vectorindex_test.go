package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/expensecore/expense-engine/apperr"
	"github.com/expensecore/expense-engine/models"
)

type fakeEmbedder struct {
	vec      []float32
	err      error
	lastText string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeRepo struct {
	entries   []models.ExpenseEmbedding
	inserted  []models.ExpenseEmbedding
	purged    int64
	topKErr   error
}

func (f *fakeRepo) TopK(ctx context.Context, userID uuid.UUID, vec []float32, k int, threshold float64, requireGLOrDept bool) ([]Entry, error) {
	if f.topKErr != nil {
		return nil, f.topKErr
	}
	var out []Entry
	for _, e := range f.entries {
		sim := cosineSimilarity(vec, e.Embedding.Slice())
		if sim >= threshold {
			out = append(out, Entry{Embedding: e, Similarity: sim})
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeRepo) InsertVerified(ctx context.Context, e *models.ExpenseEmbedding) error {
	f.inserted = append(f.inserted, *e)
	return nil
}

func (f *fakeRepo) PurgeStale(ctx context.Context, now time.Time) (int64, error) {
	return f.purged, nil
}

func TestEmbedTruncatesInput(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{1, 0, 0}}
	idx := New(&fakeRepo{}, embedder, 5, zerolog.Nop())

	_, err := idx.Embed(context.Background(), "abcdefghij")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder.lastText != "abcde" {
		t.Fatalf("expected embedder to receive %q, got %q", "abcde", embedder.lastText)
	}
}

func TestEmbedWithoutEmbedderIsServiceUnavailable(t *testing.T) {
	idx := New(&fakeRepo{}, nil, 500, zerolog.Nop())

	_, err := idx.Embed(context.Background(), "hello")
	if !apperr.Is(err, apperr.KindServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}

func TestTopKFiltersByThreshold(t *testing.T) {
	repo := &fakeRepo{
		entries: []models.ExpenseEmbedding{
			{ID: uuid.New(), Embedding: pgvector.NewVector([]float32{1, 0, 0})},
			{ID: uuid.New(), Embedding: pgvector.NewVector([]float32{0, 1, 0})},
		},
	}
	idx := New(repo, &fakeEmbedder{}, 500, zerolog.Nop())

	out := idx.TopK(context.Background(), uuid.New(), []float32{1, 0, 0}, 5, 0.92, false)
	if len(out) != 1 {
		t.Fatalf("expected 1 entry above threshold, got %d", len(out))
	}
}

func TestTopKBackendFailureIsNonFatal(t *testing.T) {
	repo := &fakeRepo{topKErr: context.DeadlineExceeded}
	idx := New(repo, &fakeEmbedder{}, 500, zerolog.Nop())

	out := idx.TopK(context.Background(), uuid.New(), []float32{1, 0, 0}, 5, 0.92, false)
	if out != nil {
		t.Fatalf("expected nil on backend failure, got %v", out)
	}
}

func TestInsertVerifiedHasNoExpiry(t *testing.T) {
	repo := &fakeRepo{}
	idx := New(repo, &fakeEmbedder{vec: []float32{1, 0, 0}}, 500, zerolog.Nop())

	err := idx.InsertVerified(context.Background(), uuid.New(), nil, "coffee shop", nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(repo.inserted))
	}
	if !repo.inserted[0].Verified || repo.inserted[0].ExpiresAt != nil {
		t.Fatalf("expected verified=true, expires_at=nil, got %+v", repo.inserted[0])
	}
}

func TestCosineSimilarityIdenticalVectors(t *testing.T) {
	a := []float32{1, 2, 3}
	sim := cosineSimilarity(a, a)
	if sim < 0.999 || sim > 1.001 {
		t.Fatalf("expected similarity ~1.0, got %f", sim)
	}
}

func TestCosineSimilarityMismatchedLength(t *testing.T) {
	if cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}) != 0 {
		t.Fatalf("expected 0 for mismatched-length vectors")
	}
}
