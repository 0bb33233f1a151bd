package memory

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/charmbracelet/log"
)

func init() {
	sqlite_vec.Auto()
}

// vecIndex manages the sqlite-vec index keyed by memory ID and
// partitioned by project. If the extension fails to load, or the
// stored vector width no longer matches the active backend, the index
// reports unavailable and search degrades to keyword matching.
type vecIndex struct {
	db         *sql.DB
	dimensions int
	extOK      bool // vec0 extension loaded
	available  bool
	stale      bool // stored width differs from dimensions; needs migration
}

type vecHit struct {
	MemoryID string
	Distance float64
}

func newVecIndex(db *sql.DB, dimensions int) *vecIndex {
	vi := &vecIndex{db: db, dimensions: dimensions}
	if dimensions <= 0 {
		return vi
	}

	var vecVersion string
	if err := vi.db.QueryRow(`SELECT vec_version()`).Scan(&vecVersion); err != nil {
		log.Warn("sqlite-vec unavailable, search degrades to keyword", "err", err)
		return vi
	}
	vi.extOK = true

	if err := vi.ensureSchema(); err != nil {
		log.Warn("vector index init failed, search degrades to keyword", "err", err)
		return vi
	}

	if vi.stale {
		log.Warn("stored embedding width differs from active backend, run migrate",
			"stored", vi.storedWidth(), "backend", dimensions)
		return vi
	}
	vi.available = true
	return vi
}

func (vi *vecIndex) ensureSchema() error {
	if _, err := vi.db.Exec(`CREATE TABLE IF NOT EXISTS vec_meta (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return fmt.Errorf("failed to create vec_meta: %w", err)
	}

	// vec0 requires integer rowids; the mapping table carries the text
	// memory ID and the project partition key.
	if _, err := vi.db.Exec(`CREATE TABLE IF NOT EXISTS memory_vec_ids (
		vec_id INTEGER PRIMARY KEY AUTOINCREMENT,
		memory_id TEXT UNIQUE NOT NULL,
		project_id TEXT NOT NULL DEFAULT ''
	)`); err != nil {
		return fmt.Errorf("failed to create vec ID mapping: %w", err)
	}

	if w := vi.storedWidth(); w > 0 && w != vi.dimensions {
		vi.stale = true
		return nil
	}

	createSQL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(embedding float[%d] distance_metric=cosine)`,
		vi.dimensions,
	)
	if _, err := vi.db.Exec(createSQL); err != nil {
		return fmt.Errorf("failed to create vec0 table: %w", err)
	}

	vi.db.Exec(`INSERT OR REPLACE INTO vec_meta (key, value) VALUES ('dimensions', ?)`,
		strconv.Itoa(vi.dimensions))
	return nil
}

// storedWidth reports the width of vectors already in the index: the
// byte length of a stored vector divided by 4, falling back to the
// recorded metadata when the index is empty. 0 means nothing stored.
func (vi *vecIndex) storedWidth() int {
	var n sql.NullInt64
	if err := vi.db.QueryRow(`SELECT length(embedding) FROM memory_vectors LIMIT 1`).Scan(&n); err == nil && n.Valid {
		return int(n.Int64) / 4
	}
	var meta string
	if err := vi.db.QueryRow(`SELECT value FROM vec_meta WHERE key = 'dimensions'`).Scan(&meta); err == nil {
		if d, err := strconv.Atoi(meta); err == nil {
			return d
		}
	}
	return 0
}

// Insert adds or replaces a memory's vector. No-op when the index is
// unavailable or the vector width does not match.
func (vi *vecIndex) Insert(memoryID, projectID string, embedding []float32) error {
	if !vi.available || len(embedding) != vi.dimensions {
		return nil
	}

	var vecID int64
	err := vi.db.QueryRow(`SELECT vec_id FROM memory_vec_ids WHERE memory_id = ?`, memoryID).Scan(&vecID)
	switch {
	case err == sql.ErrNoRows:
		res, err := vi.db.Exec(`INSERT INTO memory_vec_ids (memory_id, project_id) VALUES (?, ?)`, memoryID, projectID)
		if err != nil {
			return storageErr("vec insert", err)
		}
		vecID, _ = res.LastInsertId()
	case err != nil:
		return storageErr("vec insert", err)
	default:
		vi.db.Exec(`UPDATE memory_vec_ids SET project_id = ? WHERE vec_id = ?`, projectID, vecID)
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return storageErr("vec insert", err)
	}

	// vec0 has no ON CONFLICT; delete first.
	vi.db.Exec(`DELETE FROM memory_vectors WHERE rowid = ?`, vecID)
	if _, err := vi.db.Exec(`INSERT INTO memory_vectors (rowid, embedding) VALUES (?, ?)`, vecID, blob); err != nil {
		return storageErr("vec insert", err)
	}
	return nil
}

// Search runs a KNN query and returns up to k hits for the project,
// nearest first. An empty projectID matches every partition.
func (vi *vecIndex) Search(queryEmbedding []float32, projectID string, k int) ([]vecHit, error) {
	if !vi.available {
		return nil, nil
	}
	if len(queryEmbedding) != vi.dimensions || k <= 0 {
		return nil, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, storageErr("vec search", err)
	}

	// Overfetch so the project filter still leaves k hits.
	fetch := k * 3
	if fetch < 20 {
		fetch = 20
	}

	rows, err := vi.db.Query(`
		SELECT rowid, distance
		FROM memory_vectors
		WHERE embedding MATCH ?
		ORDER BY distance
		LIMIT ?
	`, blob, fetch)
	if err != nil {
		return nil, storageErr("vec search", err)
	}
	defer rows.Close()

	type rowHit struct {
		rowID    int64
		distance float64
	}
	var rowHits []rowHit
	for rows.Next() {
		var r rowHit
		if err := rows.Scan(&r.rowID, &r.distance); err != nil {
			continue
		}
		rowHits = append(rowHits, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("vec search", err)
	}
	if len(rowHits) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(rowHits))
	args := make([]interface{}, len(rowHits))
	for i, rh := range rowHits {
		placeholders[i] = "?"
		args[i] = rh.rowID
	}
	mapRows, err := vi.db.Query(
		`SELECT vec_id, memory_id, project_id FROM memory_vec_ids WHERE vec_id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return nil, storageErr("vec search", err)
	}
	defer mapRows.Close()

	type mapped struct {
		memoryID  string
		projectID string
	}
	idMap := make(map[int64]mapped)
	for mapRows.Next() {
		var vecID int64
		var m mapped
		if err := mapRows.Scan(&vecID, &m.memoryID, &m.projectID); err != nil {
			continue
		}
		idMap[vecID] = m
	}

	var hits []vecHit
	for _, rh := range rowHits {
		m, ok := idMap[rh.rowID]
		if !ok {
			continue
		}
		if projectID != "" && m.projectID != projectID {
			continue
		}
		hits = append(hits, vecHit{MemoryID: m.memoryID, Distance: rh.distance})
		if len(hits) >= k {
			break
		}
	}
	return hits, nil
}

// Delete removes a memory's vector. Best effort; a missing entry is
// not an error.
func (vi *vecIndex) Delete(memoryID string) error {
	if !vi.available {
		return nil
	}
	var vecID int64
	if err := vi.db.QueryRow(`SELECT vec_id FROM memory_vec_ids WHERE memory_id = ?`, memoryID).Scan(&vecID); err != nil {
		return nil
	}
	vi.db.Exec(`DELETE FROM memory_vectors WHERE rowid = ?`, vecID)
	vi.db.Exec(`DELETE FROM memory_vec_ids WHERE vec_id = ?`, vecID)
	return nil
}

// Rebuild drops the vector table and mapping and recreates them at the
// given width. Used by embedding migration after a dimension change.
func (vi *vecIndex) Rebuild(dimensions int) error {
	if !vi.extOK {
		return storageErr("vec rebuild", fmt.Errorf("sqlite-vec extension not loaded"))
	}
	vi.db.Exec(`DROP TABLE IF EXISTS memory_vectors`)
	vi.db.Exec(`DELETE FROM memory_vec_ids`)

	createSQL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE memory_vectors USING vec0(embedding float[%d] distance_metric=cosine)`,
		dimensions,
	)
	if _, err := vi.db.Exec(createSQL); err != nil {
		vi.available = false
		return storageErr("vec rebuild", err)
	}
	vi.db.Exec(`INSERT OR REPLACE INTO vec_meta (key, value) VALUES ('dimensions', ?)`,
		strconv.Itoa(dimensions))

	vi.dimensions = dimensions
	vi.available = true
	vi.stale = false
	return nil
}

// Count returns the number of indexed vectors.
func (vi *vecIndex) Count() int {
	var count int
	vi.db.QueryRow(`SELECT COUNT(*) FROM memory_vec_ids`).Scan(&count)
	return count
}
