package memory

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRelationship tags memory-file edges created without an
// explicit relationship.
const DefaultRelationship = "modified"

// Graph owns the edges between memories and files and between files.
// It holds no state of its own; every query goes through the store's
// connection. Missing files or paths yield empty results, never
// errors.
type Graph struct {
	store *Store
}

// NewGraph creates a graph service over the given store.
func NewGraph(store *Store) *Graph {
	return &Graph{store: store}
}

// TrackFile returns the file ID for (path, projectID), creating the
// file record on first use. Idempotent.
func (g *Graph) TrackFile(ctx context.Context, path, projectID string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}

	id, err := g.fileID(ctx, path, projectID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	id = uuid.NewString()
	_, err = g.store.db.ExecContext(ctx, `
		INSERT INTO files (id, path, project_id, last_modified) VALUES (?, ?, ?, ?)
		ON CONFLICT(path, project_id) DO NOTHING
	`, id, path, projectID, time.Now().UTC())
	if err != nil {
		return "", storageErr("track file", err)
	}

	// Re-read: a concurrent writer may have won the insert.
	return g.fileID(ctx, path, projectID)
}

// fileID looks up a file by (path, projectID); "" when absent.
func (g *Graph) fileID(ctx context.Context, path, projectID string) (string, error) {
	var id string
	err := g.store.db.QueryRowContext(ctx,
		`SELECT id FROM files WHERE path = ? AND project_id = ?`, path, projectID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storageErr("file lookup", err)
	}
	return id, nil
}

// Link upserts memory-file edges for each path, creating file records
// as needed. Idempotent per (memory, file) pair; the relationship of
// the latest call wins.
func (g *Graph) Link(ctx context.Context, memoryID string, paths []string, projectID, relationship string) error {
	if relationship == "" {
		relationship = DefaultRelationship
	}
	for _, path := range paths {
		fileID, err := g.TrackFile(ctx, path, projectID)
		if err != nil {
			return err
		}
		if fileID == "" {
			continue
		}
		_, err = g.store.db.ExecContext(ctx, `
			INSERT INTO memory_files (memory_id, file_id, relationship) VALUES (?, ?, ?)
			ON CONFLICT(memory_id, file_id) DO UPDATE SET relationship = excluded.relationship
		`, memoryID, fileID, relationship)
		if err != nil {
			return storageErr("link", err)
		}
	}
	return nil
}

// FilesForMemory returns the paths linked to a memory in link order.
func (g *Graph) FilesForMemory(ctx context.Context, memoryID string) ([]string, error) {
	rows, err := g.store.db.QueryContext(ctx, `
		SELECT f.path
		FROM memory_files mf
		JOIN files f ON f.id = mf.file_id
		WHERE mf.memory_id = ?
		ORDER BY mf.rowid
	`, memoryID)
	if err != nil {
		return nil, storageErr("files for memory", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			continue
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// MemoriesForFile returns the IDs of memories linked to a file.
func (g *Graph) MemoriesForFile(ctx context.Context, fileID string) ([]string, error) {
	return g.MemoriesForFiles(ctx, []string{fileID})
}

// MemoriesForFiles returns the union of memory IDs linked to any of
// the given files.
func (g *Graph) MemoriesForFiles(ctx context.Context, fileIDs []string) ([]string, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(fileIDs))
	args := make([]interface{}, len(fileIDs))
	for i, id := range fileIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := g.store.db.QueryContext(ctx,
		`SELECT DISTINCT memory_id FROM memory_files WHERE file_id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return nil, storageErr("memories for files", err)
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

// RelateFiles adds a file-file relation ("imports", "tests",
// "extends", ...). Both files are tracked on first use. Idempotent on
// the (source, target, relationship) triple.
func (g *Graph) RelateFiles(ctx context.Context, sourcePath, targetPath, projectID, relationship string) error {
	sourceID, err := g.TrackFile(ctx, sourcePath, projectID)
	if err != nil {
		return err
	}
	targetID, err := g.TrackFile(ctx, targetPath, projectID)
	if err != nil {
		return err
	}
	if sourceID == "" || targetID == "" || relationship == "" {
		return nil
	}
	_, err = g.store.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO file_relations (source_file_id, target_file_id, relationship)
		VALUES (?, ?, ?)
	`, sourceID, targetID, relationship)
	return storageErr("relate files", err)
}

// RelatedFiles walks file relations breadth-first from path up to
// maxDepth hops (default 1) and returns the reachable paths, sorted.
// Relations are traversed in both directions; the origin is excluded
// and cycles are guarded by a visited set.
func (g *Graph) RelatedFiles(ctx context.Context, path, projectID string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	startID, err := g.fileID(ctx, path, projectID)
	if err != nil || startID == "" {
		return nil, err
	}

	visited := map[string]bool{startID: true}
	frontier := []string{startID}
	var found []string

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := g.neighborFiles(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if visited[n] {
					continue
				}
				visited[n] = true
				found = append(found, n)
				next = append(next, n)
			}
		}
		frontier = next
	}

	paths, err := g.pathsForFiles(ctx, found)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// neighborFiles returns files one relation hop away, either direction.
func (g *Graph) neighborFiles(ctx context.Context, fileID string) ([]string, error) {
	rows, err := g.store.db.QueryContext(ctx, `
		SELECT target_file_id FROM file_relations WHERE source_file_id = ?
		UNION
		SELECT source_file_id FROM file_relations WHERE target_file_id = ?
	`, fileID, fileID)
	if err != nil {
		return nil, storageErr("file relations", err)
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

// RelatedViaMemories returns the paths of files that co-occur with
// path on any memory record: one hop through the memory graph, origin
// excluded, sorted.
func (g *Graph) RelatedViaMemories(ctx context.Context, path, projectID string) ([]string, error) {
	fileID, err := g.fileID(ctx, path, projectID)
	if err != nil || fileID == "" {
		return nil, err
	}
	rows, err := g.store.db.QueryContext(ctx, `
		SELECT DISTINCT f.path
		FROM memory_files mine
		JOIN memory_files other ON other.memory_id = mine.memory_id AND other.file_id != mine.file_id
		JOIN files f ON f.id = other.file_id
		WHERE mine.file_id = ?
		ORDER BY f.path
	`, fileID)
	if err != nil {
		return nil, storageErr("related via memories", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			continue
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// AdjacentMemories returns the IDs of memories adjacent to path in the
// graph: direct file links, links on depth-1 related files, and links
// on files co-occurring through the memory graph. Used by search
// boosting and search-by-file. An unknown path yields an empty set.
func (g *Graph) AdjacentMemories(ctx context.Context, path, projectID string) (map[string]bool, error) {
	ids := make(map[string]bool)

	fileID, err := g.fileID(ctx, path, projectID)
	if err != nil || fileID == "" {
		return ids, err
	}

	fileIDs := []string{fileID}

	related, err := g.RelatedFiles(ctx, path, projectID, 1)
	if err != nil {
		return nil, err
	}
	cooccurring, err := g.RelatedViaMemories(ctx, path, projectID)
	if err != nil {
		return nil, err
	}
	for _, p := range append(related, cooccurring...) {
		id, err := g.fileID(ctx, p, projectID)
		if err != nil {
			return nil, err
		}
		if id != "" {
			fileIDs = append(fileIDs, id)
		}
	}

	memoryIDs, err := g.MemoriesForFiles(ctx, fileIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range memoryIDs {
		ids[id] = true
	}
	return ids, nil
}

// pathsForFiles maps file IDs back to paths.
func (g *Graph) pathsForFiles(ctx context.Context, fileIDs []string) ([]string, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(fileIDs))
	args := make([]interface{}, len(fileIDs))
	for i, id := range fileIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	rows, err := g.store.db.QueryContext(ctx,
		`SELECT path FROM files WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, storageErr("paths for files", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			continue
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// EdgeCount returns the number of memory-file edges.
func (g *Graph) EdgeCount(ctx context.Context) (int, error) {
	var count int
	err := g.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_files`).Scan(&count)
	return count, err
}

// FileCount returns the number of tracked files.
func (g *Graph) FileCount(ctx context.Context) (int, error) {
	var count int
	err := g.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&count)
	return count, err
}
