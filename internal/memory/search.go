package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	// distanceNorm maps cosine distance [0,2] onto a [0,1] score.
	distanceNorm = 2.0
	// keywordDecay is the per-rank score penalty for keyword fallback.
	keywordDecay = 0.05
	// graphBoost multiplies the score of semantic hits adjacent to the
	// current file; graphBaseScore seeds adjacent memories that scored
	// no semantic hit at all.
	graphBoost     = 0.3
	graphBaseScore = 0.3

	defaultLimit = 10
)

// Engine composes the store, graph, embedding service and vector index
// into the search and persistence surface the CLI drives.
type Engine struct {
	store *Store
	graph *Graph
	embed *EmbeddingService
	vec   *vecIndex
}

// NewEngine wires an engine over an open store. The vector index is
// sized to the active embedding backend; with no backend it stays
// dormant and search runs keyword-only.
func NewEngine(store *Store, graph *Graph, embed *EmbeddingService) *Engine {
	return &Engine{
		store: store,
		graph: graph,
		embed: embed,
		vec:   newVecIndex(store.db, embed.Dimensions()),
	}
}

// Store returns the engine's record store.
func (e *Engine) Store() *Store { return e.store }

// Graph returns the engine's graph service.
func (e *Engine) Graph() *Graph { return e.graph }

// SearchOptions narrows and shapes a search.
type SearchOptions struct {
	ProjectID   string
	CurrentFile string // boosts graph-adjacent results when set
	Limit       int    // 0 means defaultLimit
}

// SearchResult pairs a record with its relevance score.
type SearchResult struct {
	Record *MemoryRecord `json:"record"`
	Score  float64       `json:"score"`
}

// Search runs hybrid retrieval: vector KNN when an embedding backend
// and index are up, keyword matching otherwise, with graph-adjacency
// boosting when opts.CurrentFile is set. Results come back best first;
// an empty result set is not an error.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	scores := make(map[string]float64)

	qvec, err := e.embed.Embed(ctx, query)
	if err != nil {
		log.Warn("query embedding failed, falling back to keyword", "err", err)
		qvec = nil
	}
	if qvec != nil {
		hits, err := e.vec.Search(qvec, opts.ProjectID, limit*2)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			score := 1 - h.Distance/distanceNorm
			if score < 0 {
				score = 0
			}
			scores[h.MemoryID] = score
		}
	}

	if len(scores) == 0 {
		ids, err := e.keywordMatch(ctx, query, opts.ProjectID, limit*2)
		if err != nil {
			return nil, err
		}
		for i, id := range ids {
			scores[id] = 1 - keywordDecay*float64(i)
		}
	}

	if opts.CurrentFile != "" {
		adjacent, err := e.graph.AdjacentMemories(ctx, opts.CurrentFile, opts.ProjectID)
		if err != nil {
			return nil, err
		}
		for id := range adjacent {
			if s, ok := scores[id]; ok {
				scores[id] = s * (1 + graphBoost)
			} else {
				scores[id] = graphBaseScore
			}
		}
	}

	return e.rank(ctx, scores, opts.ProjectID, limit)
}

// keywordMatch returns record IDs whose search text contains the query
// substring, newest first.
func (e *Engine) keywordMatch(ctx context.Context, query, projectID string, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	sqlQuery := `SELECT id FROM memories WHERE search_text LIKE ? ESCAPE '\'`
	args := []interface{}{"%" + escapeLike(query) + "%"}
	if projectID != "" {
		sqlQuery += ` AND project_id = ?`
		args = append(args, projectID)
	}
	sqlQuery += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := e.store.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, storageErr("keyword search", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// rank orders scored IDs best first (ID breaks ties so equal scores
// order deterministically), hydrates them from the store, and applies
// the project filter and limit. IDs whose record has vanished are
// skipped.
func (e *Engine) rank(ctx context.Context, scores map[string]float64, projectID string, limit int) ([]SearchResult, error) {
	type scored struct {
		id    string
		score float64
	}
	ordered := make([]scored, 0, len(scores))
	for id, s := range scores {
		ordered = append(ordered, scored{id, s})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].score != ordered[j].score {
			return ordered[i].score > ordered[j].score
		}
		return ordered[i].id < ordered[j].id
	})

	var results []SearchResult
	for _, sc := range ordered {
		rec, err := e.store.Get(ctx, sc.id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if projectID != "" && rec.ProjectID != projectID {
			continue
		}
		results = append(results, SearchResult{Record: rec, Score: sc.score})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Save persists a new record and indexes its vector. Linked files, if
// any, get graph edges with the default relationship. Indexing is best
// effort: an embedding failure leaves the record stored and logged.
func (e *Engine) Save(ctx context.Context, rec *MemoryRecord, files []string) (string, error) {
	id, err := e.store.Create(ctx, rec)
	if err != nil {
		return "", err
	}
	if len(files) > 0 {
		if err := e.graph.Link(ctx, id, files, rec.ProjectID, DefaultRelationship); err != nil {
			return "", err
		}
	}
	e.indexRecord(ctx, rec)
	return id, nil
}

// Apply merges a patch into an existing record and refreshes its
// vector. Returns false when the record does not exist.
func (e *Engine) Apply(ctx context.Context, id string, patch RecordPatch) (bool, error) {
	ok, err := e.store.Update(ctx, id, patch)
	if err != nil || !ok {
		return ok, err
	}
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return true, err
	}
	if rec != nil {
		e.indexRecord(ctx, rec)
	}
	return true, nil
}

// Delete removes a record and its vector. The record delete commits
// first; the vector delete is best effort, and a leftover vector is
// skipped at hydration.
func (e *Engine) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := e.store.Delete(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	e.vec.Delete(id)
	return true, nil
}

// indexRecord embeds the record's search text and writes it to the
// vector index. Failures are logged, never surfaced: storage is the
// source of truth and the index is derived.
func (e *Engine) indexRecord(ctx context.Context, rec *MemoryRecord) {
	vec, err := e.embed.Embed(ctx, rec.SearchText())
	if err != nil {
		log.Warn("embedding failed, record stored without vector", "id", rec.ID, "err", err)
		return
	}
	if vec == nil {
		return
	}
	if err := e.vec.Insert(rec.ID, rec.ProjectID, vec); err != nil {
		log.Warn("vector insert failed", "id", rec.ID, "err", err)
	}
}

// FindSimilar returns records similar to the record with the given ID,
// excluding the record itself. The origin's search text is the query.
func (e *Engine) FindSimilar(ctx context.Context, id string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, storageErr("find similar", fmt.Errorf("memory %s: %w", id, ErrNotFound))
	}

	results, err := e.Search(ctx, rec.SearchText(), SearchOptions{ProjectID: rec.ProjectID, Limit: limit + 1})
	if err != nil {
		return nil, err
	}
	filtered := results[:0]
	for _, r := range results {
		if r.Record.ID == id {
			continue
		}
		filtered = append(filtered, r)
		if len(filtered) >= limit {
			break
		}
	}
	return filtered, nil
}

// SearchByFile returns the memories adjacent to a file path in the
// graph, newest first. An unknown path yields an empty result.
func (e *Engine) SearchByFile(ctx context.Context, path, projectID string, limit int) ([]*MemoryRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	adjacent, err := e.graph.AdjacentMemories(ctx, path, projectID)
	if err != nil {
		return nil, err
	}
	if len(adjacent) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(adjacent))
	for id := range adjacent {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var records []*MemoryRecord
	for _, id := range ids {
		rec, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Status reports the engine's health for the status command.
type Status struct {
	Backend        string `json:"backend"`
	SemanticSearch bool   `json:"semantic_search"`
	VectorIndex    bool   `json:"vector_index"`
	Dimensions     int    `json:"dimensions"`
	StaleIndex     bool   `json:"stale_index"`
	Memories       int    `json:"memories"`
	Vectors        int    `json:"vectors"`
	Files          int    `json:"files"`
	Edges          int    `json:"edges"`
	DBPath         string `json:"db_path"`
	DBSizeBytes    int64  `json:"db_size_bytes"`
}

// Status gathers counts and availability flags.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	memories, err := e.store.Count(ctx)
	if err != nil {
		return nil, storageErr("status", err)
	}
	files, err := e.graph.FileCount(ctx)
	if err != nil {
		return nil, storageErr("status", err)
	}
	edges, err := e.graph.EdgeCount(ctx)
	if err != nil {
		return nil, storageErr("status", err)
	}
	return &Status{
		Backend:        e.embed.Name(),
		SemanticSearch: e.embed.Available() && e.vec.available,
		VectorIndex:    e.vec.available,
		Dimensions:     e.vec.dimensions,
		StaleIndex:     e.vec.stale,
		Memories:       memories,
		Vectors:        e.vec.Count(),
		Files:          files,
		Edges:          edges,
		DBPath:         e.store.DBPath(),
		DBSizeBytes:    e.store.DBSize(),
	}, nil
}

// MigrationReport summarizes an embedding migration.
type MigrationReport struct {
	Succeeded int
	Total     int
}

// MigrateEmbeddings rebuilds the vector index at the active backend's
// width and re-embeds every record. Used after switching backends with
// a different dimensionality. Per-record embedding failures are
// tolerated and reflected in the report; the relational store is never
// touched.
func (e *Engine) MigrateEmbeddings(ctx context.Context) (*MigrationReport, error) {
	if !e.embed.Available() {
		return nil, fmt.Errorf("no embedding backend available, nothing to migrate to")
	}
	dims := e.embed.Dimensions()

	if err := e.vec.Rebuild(dims); err != nil {
		return nil, err
	}

	records, err := e.store.List(ctx, ListFilter{}, 0)
	if err != nil {
		return nil, err
	}

	report := &MigrationReport{Total: len(records)}
	for _, rec := range records {
		vec, err := e.embed.Embed(ctx, rec.SearchText())
		if err != nil || vec == nil {
			log.Warn("re-embedding failed, skipping record", "id", rec.ID, "err", err)
			continue
		}
		if err := e.vec.Insert(rec.ID, rec.ProjectID, vec); err != nil {
			log.Warn("vector insert failed during migration", "id", rec.ID, "err", err)
			continue
		}
		report.Succeeded++
	}

	log.Info("embedding migration complete",
		"succeeded", report.Succeeded, "total", report.Total, "dimensions", dims)
	return report, nil
}
