package acceptance

import (
	"context"
	"fmt"
	"os"

	"github.com/engramdev/engram/internal/memory"
)

// TestContext holds state between steps. Each scenario gets a fresh
// store in a throwaway directory; embedding backends stay off so the
// suite exercises the deterministic keyword path.
type TestContext struct {
	ctx     context.Context
	dataDir string
	store   *memory.Store
	engine  *memory.Engine

	lastMemoryID string
	lastResults  []memory.SearchResult
	lastRecords  []*memory.MemoryRecord
}

func NewTestContext() *TestContext {
	return &TestContext{ctx: context.Background()}
}

func (tc *TestContext) emptyMemoryStore() error {
	if tc.store != nil {
		tc.store.Close()
		os.RemoveAll(tc.dataDir)
	}

	dir, err := os.MkdirTemp("", "engram-acceptance-*")
	if err != nil {
		return err
	}
	store, err := memory.Open(dir)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}

	graph := memory.NewGraph(store)
	down := memory.Embedders(unavailableBackend{})

	tc.dataDir = dir
	tc.store = store
	tc.engine = memory.NewEngine(store, graph, down)
	tc.lastMemoryID = ""
	tc.lastResults = nil
	tc.lastRecords = nil
	return nil
}

// unavailableBackend forces the degraded keyword-only path.
type unavailableBackend struct{}

func (unavailableBackend) Name() string    { return "unavailable" }
func (unavailableBackend) Available() bool { return false }
func (unavailableBackend) Dimensions() int { return 0 }
func (unavailableBackend) Embed(context.Context, string) ([]float32, error) {
	return nil, nil
}

func (tc *TestContext) saveMemoryWithGoal(goal, project string) error {
	id, err := tc.engine.Save(tc.ctx, &memory.MemoryRecord{Goal: goal, ProjectID: project}, nil)
	if err != nil {
		return err
	}
	tc.lastMemoryID = id
	return nil
}

func (tc *TestContext) saveMemoryWithFile(goal, path, project string) error {
	id, err := tc.engine.Save(tc.ctx, &memory.MemoryRecord{Goal: goal, ProjectID: project}, []string{path})
	if err != nil {
		return err
	}
	tc.lastMemoryID = id
	return nil
}

func (tc *TestContext) relateFiles(source, target, relationship, project string) error {
	return tc.engine.Graph().RelateFiles(tc.ctx, source, target, project, relationship)
}

func (tc *TestContext) linkFileToLastMemory(path string) error {
	if tc.lastMemoryID == "" {
		return fmt.Errorf("no memory saved yet")
	}
	rec, err := tc.store.Get(tc.ctx, tc.lastMemoryID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("memory %s not found", tc.lastMemoryID)
	}
	return tc.engine.Graph().Link(tc.ctx, tc.lastMemoryID, []string{path}, rec.ProjectID, "")
}

func (tc *TestContext) searchInProject(query, project string) error {
	results, err := tc.engine.Search(tc.ctx, query, memory.SearchOptions{ProjectID: project})
	if err != nil {
		return err
	}
	tc.lastResults = results
	tc.lastRecords = nil
	for _, r := range results {
		tc.lastRecords = append(tc.lastRecords, r.Record)
	}
	return nil
}

func (tc *TestContext) searchByFile(path, project string) error {
	records, err := tc.engine.SearchByFile(tc.ctx, path, project, 10)
	if err != nil {
		return err
	}
	tc.lastResults = nil
	tc.lastRecords = records
	return nil
}

func (tc *TestContext) resultsIncludeGoal(goal string) error {
	for _, rec := range tc.lastRecords {
		if rec.Goal == goal {
			return nil
		}
	}
	return fmt.Errorf("no result with goal %q (got %d results)", goal, len(tc.lastRecords))
}

func (tc *TestContext) resultsExcludeGoal(goal string) error {
	for _, rec := range tc.lastRecords {
		if rec.Goal == goal {
			return fmt.Errorf("result with goal %q should not be present", goal)
		}
	}
	return nil
}

func (tc *TestContext) resultCount(n int) error {
	if len(tc.lastRecords) != n {
		return fmt.Errorf("expected %d results, got %d", n, len(tc.lastRecords))
	}
	return nil
}

func (tc *TestContext) deleteLastMemory() error {
	if tc.lastMemoryID == "" {
		return fmt.Errorf("no memory saved yet")
	}
	ok, err := tc.engine.Delete(tc.ctx, tc.lastMemoryID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("memory %s not found", tc.lastMemoryID)
	}
	return nil
}

func (tc *TestContext) storeContains(n int) error {
	count, err := tc.store.Count(tc.ctx)
	if err != nil {
		return err
	}
	if count != n {
		return fmt.Errorf("expected %d memories, got %d", n, count)
	}
	return nil
}

func (tc *TestContext) edgeCount(n int) error {
	count, err := tc.engine.Graph().EdgeCount(tc.ctx)
	if err != nil {
		return err
	}
	if count != n {
		return fmt.Errorf("expected %d edges, got %d", n, count)
	}
	return nil
}

func (tc *TestContext) fileCount(n int) error {
	count, err := tc.engine.Graph().FileCount(tc.ctx)
	if err != nil {
		return err
	}
	if count != n {
		return fmt.Errorf("expected %d files, got %d", n, count)
	}
	return nil
}

func (tc *TestContext) updateLastMemoryLesson(lesson string) error {
	if tc.lastMemoryID == "" {
		return fmt.Errorf("no memory saved yet")
	}
	ok, err := tc.engine.Apply(tc.ctx, tc.lastMemoryID, memory.RecordPatch{
		LessonsLearned: []string{lesson},
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("memory %s not found", tc.lastMemoryID)
	}
	return nil
}

func (tc *TestContext) lastMemoryHasLesson(lesson string) error {
	rec, err := tc.store.Get(tc.ctx, tc.lastMemoryID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("memory %s not found", tc.lastMemoryID)
	}
	for _, l := range rec.LessonsLearned {
		if l == lesson {
			return nil
		}
	}
	return fmt.Errorf("lesson %q not found in %v", lesson, rec.LessonsLearned)
}
