package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestEngine wires a full engine over a temp-dir store with the
// given backends. Pass a down backend to exercise the degraded
// keyword-only path.
func setupTestEngine(t *testing.T, backends ...Backend) *Engine {
	t.Helper()
	store := setupTestStore(t)
	graph := NewGraph(store)
	return NewEngine(store, graph, Embedders(backends...))
}

func downBackend() Backend {
	return &stubBackend{name: "down", dims: 64, up: false}
}

func upBackend(dims int) Backend {
	return &stubBackend{name: "stub", dims: dims, up: true}
}

func requireVec(t *testing.T, e *Engine) {
	t.Helper()
	if !e.vec.available {
		t.Skip("sqlite-vec not available")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	id, err := e.Save(ctx, &MemoryRecord{
		Goal:    "implement refresh tokens",
		Context: "auth work",
	}, []string{"src/auth.py"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := e.store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "implement refresh tokens", got.Goal)

	paths, err := e.graph.FilesForMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/auth.py"}, paths)
}

func TestSearch_KeywordFallback(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	_, err := e.Save(ctx, &MemoryRecord{Goal: "rotate refresh tokens"}, nil)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = e.Save(ctx, &MemoryRecord{Goal: "token expiry handling"}, nil)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = e.Save(ctx, &MemoryRecord{Goal: "unrelated database work"}, nil)
	require.NoError(t, err)

	results, err := e.Search(ctx, "token", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Newest match first, scores decaying by rank.
	assert.Equal(t, "token expiry handling", results[0].Record.Goal)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "rotate refresh tokens", results[1].Record.Goal)
	assert.InDelta(t, 0.95, results[1].Score, 1e-9)
}

func TestSearch_KeywordDeterministic(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.Save(ctx, &MemoryRecord{Goal: fmt.Sprintf("caching layer step %d", i)}, nil)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	first, err := e.Search(ctx, "caching", SearchOptions{})
	require.NoError(t, err)
	second, err := e.Search(ctx, "caching", SearchOptions{})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Record.ID, second[i].Record.ID)
		assert.Equal(t, first[i].Score, second[i].Score)
	}
}

func TestSearch_KeywordProjectFilter(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	_, err := e.Save(ctx, &MemoryRecord{Goal: "deploy pipeline", ProjectID: "p1"}, nil)
	require.NoError(t, err)
	_, err = e.Save(ctx, &MemoryRecord{Goal: "deploy scripts", ProjectID: "p2"}, nil)
	require.NoError(t, err)

	results, err := e.Search(ctx, "deploy", SearchOptions{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].Record.ProjectID)
}

func TestSearch_KeywordEscapesWildcards(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	_, err := e.Save(ctx, &MemoryRecord{Goal: "literal 100% coverage target"}, nil)
	require.NoError(t, err)
	_, err = e.Save(ctx, &MemoryRecord{Goal: "one hundred percent unrelated"}, nil)
	require.NoError(t, err)

	results, err := e.Search(ctx, "100%", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "literal 100% coverage target", results[0].Record.Goal)
}

func TestSearch_EmptyStore(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	results, err := e.Search(context.Background(), "anything", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_Semantic(t *testing.T) {
	e := setupTestEngine(t, upBackend(64))
	requireVec(t, e)
	ctx := context.Background()

	_, err := e.Save(ctx, &MemoryRecord{Goal: "go concurrency patterns and goroutines"}, nil)
	require.NoError(t, err)
	_, err = e.Save(ctx, &MemoryRecord{Goal: "cooking pasta with tomato sauce"}, nil)
	require.NoError(t, err)

	results, err := e.Search(ctx, "go concurrency patterns", SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Record.Goal, "concurrency")
	assert.Greater(t, results[0].Score, 0.0)
	assert.LessOrEqual(t, results[0].Score, 1.0)
}

func TestSearch_SemanticScoresDescend(t *testing.T) {
	e := setupTestEngine(t, upBackend(64))
	requireVec(t, e)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.Save(ctx, &MemoryRecord{Goal: fmt.Sprintf("memory %d about indexing strategies", i)}, nil)
		require.NoError(t, err)
	}

	results, err := e.Search(ctx, "indexing strategies", SearchOptions{})
	require.NoError(t, err)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearch_GraphBoostSeedsAdjacent(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	matchID, err := e.Save(ctx, &MemoryRecord{Goal: "cache invalidation notes"}, nil)
	require.NoError(t, err)
	adjacentID, err := e.Save(ctx, &MemoryRecord{Goal: "wrote the session handler"}, []string{"session.go"})
	require.NoError(t, err)

	results, err := e.Search(ctx, "cache", SearchOptions{CurrentFile: "session.go"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, matchID, results[0].Record.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, adjacentID, results[1].Record.ID)
	assert.InDelta(t, graphBaseScore, results[1].Score, 1e-9, "non-matching adjacent memory seeded at the base score")
}

func TestSearch_GraphBoostMultipliesMatches(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	boostedID, err := e.Save(ctx, &MemoryRecord{Goal: "cache warming on session start"}, []string{"session.go"})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = e.Save(ctx, &MemoryRecord{Goal: "cache eviction policy"}, nil)
	require.NoError(t, err)

	// Without the file hint the newer record ranks first.
	plain, err := e.Search(ctx, "cache", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, plain, 2)
	assert.Equal(t, "cache eviction policy", plain[0].Record.Goal)

	// The boost flips the order: 0.95 * 1.3 > 1.0.
	boosted, err := e.Search(ctx, "cache", SearchOptions{CurrentFile: "session.go"})
	require.NoError(t, err)
	require.Len(t, boosted, 2)
	assert.Equal(t, boostedID, boosted[0].Record.ID)
	assert.InDelta(t, 0.95*(1+graphBoost), boosted[0].Score, 1e-9)
}

func TestSearch_Limit(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		_, err := e.Save(ctx, &MemoryRecord{Goal: fmt.Sprintf("widget notes %d", i)}, nil)
		require.NoError(t, err)
	}

	results, err := e.Search(ctx, "widget", SearchOptions{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestApply_ReindexesRecord(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	id, err := e.Save(ctx, &MemoryRecord{Goal: "original wording"}, nil)
	require.NoError(t, err)

	ok, err := e.Apply(ctx, id, RecordPatch{Goal: strp("completely new phrasing")})
	require.NoError(t, err)
	require.True(t, ok)

	results, err := e.Search(ctx, "phrasing", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Record.ID)

	results, err = e.Search(ctx, "original wording", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestApply_Missing(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ok, err := e.Apply(context.Background(), "nonexistent", RecordPatch{Goal: strp("x")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete_RemovesVector(t *testing.T) {
	e := setupTestEngine(t, upBackend(64))
	requireVec(t, e)
	ctx := context.Background()

	id, err := e.Save(ctx, &MemoryRecord{Goal: "ephemeral note about migrations"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.vec.Count())

	ok, err := e.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, e.vec.Count())

	results, err := e.Search(ctx, "ephemeral note about migrations", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_SkipsOrphanedVectors(t *testing.T) {
	e := setupTestEngine(t, upBackend(64))
	requireVec(t, e)
	ctx := context.Background()

	id, err := e.Save(ctx, &MemoryRecord{Goal: "doomed record about sharding"}, nil)
	require.NoError(t, err)

	// Delete the row directly, leaving the vector behind.
	ok, err := e.store.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	results, err := e.Search(ctx, "doomed record about sharding", SearchOptions{})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, id, r.Record.ID, "orphaned vector must not surface a deleted record")
	}
}

func TestFindSimilar_ExcludesOrigin(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	// In degraded mode similarity falls back to a substring match on
	// the origin's search text, so the neighbor must contain it.
	id, err := e.Save(ctx, &MemoryRecord{Goal: "retry logic"}, nil)
	require.NoError(t, err)
	otherID, err := e.Save(ctx, &MemoryRecord{Goal: "harden retry logic for webhooks"}, nil)
	require.NoError(t, err)

	results, err := e.FindSimilar(ctx, id, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, otherID, results[0].Record.ID)
}

func TestFindSimilar_MissingOrigin(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	_, err := e.FindSimilar(context.Background(), "nonexistent", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchByFile(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	oldID, err := e.Save(ctx, &MemoryRecord{Goal: "first change"}, []string{"api.go"})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	newID, err := e.Save(ctx, &MemoryRecord{Goal: "second change"}, []string{"api.go"})
	require.NoError(t, err)
	_, err = e.Save(ctx, &MemoryRecord{Goal: "elsewhere"}, []string{"other.go"})
	require.NoError(t, err)

	records, err := e.SearchByFile(ctx, "api.go", "", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, newID, records[0].ID, "newest first")
	assert.Equal(t, oldID, records[1].ID)
}

func TestSearchByFile_UnknownPath(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	records, err := e.SearchByFile(context.Background(), "never/seen.go", "", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStatus_Degraded(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	_, err := e.Save(ctx, &MemoryRecord{Goal: "status check"}, []string{"main.go"})
	require.NoError(t, err)

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "none", status.Backend)
	assert.False(t, status.SemanticSearch)
	assert.Equal(t, 1, status.Memories)
	assert.Equal(t, 1, status.Files)
	assert.Equal(t, 1, status.Edges)
	assert.NotEmpty(t, status.DBPath)
}

func TestMigrateEmbeddings_NoBackend(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	_, err := e.MigrateEmbeddings(context.Background())
	require.Error(t, err)
}

func TestMigrateEmbeddings_DimensionChange(t *testing.T) {
	store := setupTestStore(t)
	graph := NewGraph(store)

	first := NewEngine(store, graph, Embedders(upBackend(384)))
	requireVec(t, first)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := first.Save(ctx, &MemoryRecord{Goal: fmt.Sprintf("note %d about batching", i)}, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, first.vec.Count())

	// A new engine with a narrower backend sees the width mismatch and
	// comes up with the index disabled until migrated.
	second := NewEngine(store, graph, Embedders(upBackend(256)))
	assert.False(t, second.vec.available)
	assert.True(t, second.vec.stale)

	report, err := second.MigrateEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Total)
	assert.Equal(t, 10, report.Succeeded)
	assert.True(t, second.vec.available)
	assert.Equal(t, 256, second.vec.dimensions)
	assert.Equal(t, 10, second.vec.Count())

	results, err := second.Search(ctx, "batching", SearchOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestFullWorkflow(t *testing.T) {
	e := setupTestEngine(t, downBackend())
	ctx := context.Background()

	// Save a memory about auth work linked to a file.
	id, err := e.Save(ctx, &MemoryRecord{
		Context:   "auth-work",
		Goal:      "implement refresh tokens",
		Decisions: []Decision{{Decision: "store hashed tokens", Rationale: "db leak safety"}},
		ProjectID: "webapp",
	}, []string{"src/auth.py"})
	require.NoError(t, err)

	// Relate the file to its test file.
	require.NoError(t, e.graph.RelateFiles(ctx, "tests/test_auth.py", "src/auth.py", "webapp", "tests"))

	// Searching for the topic finds the memory.
	results, err := e.Search(ctx, "refresh tokens", SearchOptions{ProjectID: "webapp"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].Record.ID)

	// The test file reaches the memory through the relation.
	records, err := e.SearchByFile(ctx, "tests/test_auth.py", "webapp", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)

	// Update adds a lesson; search picks up the new text.
	ok, err := e.Apply(ctx, id, RecordPatch{LessonsLearned: []string{"rotate on every use"}})
	require.NoError(t, err)
	require.True(t, ok)

	results, err = e.Search(ctx, "rotate on every use", SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].Record.ID)

	// Delete removes it everywhere.
	ok, err = e.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	results, err = e.Search(ctx, "refresh tokens", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
