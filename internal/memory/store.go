package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// busyTimeout bounds how long a writer waits on a locked database
// before the write fails with a retryable StorageError.
const busyTimeout = 5 * time.Second

const recordColumns = `id, context, goal, active_tasks, lessons_learned, decisions, entities, project_id, session_id, created_at, updated_at`

// Store owns the relational schema and CRUD for memory and file
// records. All writes run inside a single transaction per call.
type Store struct {
	db      *sql.DB
	dataDir string
	dbPath  string
}

// DefaultDataDir resolves the per-user data directory:
// $ENGRAM_DATA_DIR if set, otherwise ~/.engram.
func DefaultDataDir() (string, error) {
	if dir := os.Getenv("ENGRAM_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(home, ".engram"), nil
}

// Open opens (creating if needed) the store under dataDir. An empty
// dataDir means the default per-user directory. The connection uses
// WAL journaling, a bounded busy timeout, and enforced foreign keys;
// the schema is initialized idempotently on every open.
func Open(dataDir string) (*Store, error) {
	var err error
	if dataDir == "" {
		dataDir, err = DefaultDataDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "engram.db")
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=1", dbPath, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}

	s := &Store{db: db, dataDir: dataDir, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, storageErr("init schema", err)
	}

	log.Debug("memory store opened", "path", dbPath)
	return s, nil
}

// initSchema creates all tables and indexes if absent. Safe to call on
// every process start.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		context TEXT,
		goal TEXT,
		active_tasks TEXT,
		lessons_learned TEXT,
		decisions TEXT,
		entities TEXT,
		project_id TEXT,
		session_id TEXT,
		search_text TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id);
	CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		last_modified DATETIME,
		UNIQUE(path, project_id)
	);

	CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);

	CREATE TABLE IF NOT EXISTS memory_files (
		memory_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		relationship TEXT NOT NULL DEFAULT 'modified',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (memory_id, file_id),
		FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE,
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_memory_files_file ON memory_files(file_id);

	CREATE TABLE IF NOT EXISTS file_relations (
		source_file_id TEXT NOT NULL,
		target_file_id TEXT NOT NULL,
		relationship TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (source_file_id, target_file_id, relationship),
		FOREIGN KEY (source_file_id) REFERENCES files(id) ON DELETE CASCADE,
		FOREIGN KEY (target_file_id) REFERENCES files(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_file_relations_target ON file_relations(target_file_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new memory record, assigning a fresh ID if absent,
// and returns the ID. Nested lists are serialized to JSON columns and
// the search text projection is persisted alongside.
func (s *Store) Create(ctx context.Context, rec *MemoryRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	tasks, lessons, decisions, entities := rec.encodeLists()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("create", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, context, goal, active_tasks, lessons_learned, decisions, entities, project_id, session_id, search_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Context, rec.Goal, tasks, lessons, decisions, entities,
		rec.ProjectID, rec.SessionID, rec.SearchText(), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return "", storageErr("create", err)
	}

	if err := tx.Commit(); err != nil {
		return "", storageErr("create", err)
	}
	return rec.ID, nil
}

// Get returns the record with the given ID, or nil if it does not
// exist.
func (s *Store) Get(ctx context.Context, id string) (*MemoryRecord, error) {
	if id == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	return rec, nil
}

// RecordPatch holds a partial update. Nil fields are left untouched;
// non-nil fields (including empty slices) replace the stored value.
type RecordPatch struct {
	Context        *string
	Goal           *string
	ActiveTasks    []TaskItem
	LessonsLearned []string
	Decisions      []Decision
	Entities       []Entity
	ProjectID      *string
	SessionID      *string
}

// Update merges the supplied fields into the stored record and bumps
// updated_at. Returns false if no record with the ID exists.
func (s *Store) Update(ctx context.Context, id string, patch RecordPatch) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("update", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storageErr("update", err)
	}

	if patch.Context != nil {
		rec.Context = *patch.Context
	}
	if patch.Goal != nil {
		rec.Goal = *patch.Goal
	}
	if patch.ActiveTasks != nil {
		rec.ActiveTasks = patch.ActiveTasks
	}
	if patch.LessonsLearned != nil {
		rec.LessonsLearned = patch.LessonsLearned
	}
	if patch.Decisions != nil {
		rec.Decisions = patch.Decisions
	}
	if patch.Entities != nil {
		rec.Entities = patch.Entities
	}
	if patch.ProjectID != nil {
		rec.ProjectID = *patch.ProjectID
	}
	if patch.SessionID != nil {
		rec.SessionID = *patch.SessionID
	}
	rec.UpdatedAt = time.Now().UTC()

	tasks, lessons, decisions, entities := rec.encodeLists()
	_, err = tx.ExecContext(ctx, `
		UPDATE memories
		SET context = ?, goal = ?, active_tasks = ?, lessons_learned = ?, decisions = ?, entities = ?,
		    project_id = ?, session_id = ?, search_text = ?, updated_at = ?
		WHERE id = ?
	`, rec.Context, rec.Goal, tasks, lessons, decisions, entities,
		rec.ProjectID, rec.SessionID, rec.SearchText(), rec.UpdatedAt, id)
	if err != nil {
		return false, storageErr("update", err)
	}

	if err := tx.Commit(); err != nil {
		return false, storageErr("update", err)
	}
	return true, nil
}

// Delete removes a record. Memory-file edges cascade; file records
// remain. Returns false if no record with the ID exists. The caller
// owns removing the record's vector-index entry in the same logical
// operation.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("delete", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, storageErr("delete", err)
	}
	rows, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, storageErr("delete", err)
	}
	return rows > 0, nil
}

// ListFilter narrows List results. Empty fields match everything.
type ListFilter struct {
	ProjectID string
	SessionID string
}

// List returns records newest first, optionally filtered by project
// and session. A limit of 0 means no limit.
func (s *Store) List(ctx context.Context, filter ListFilter, limit int) ([]*MemoryRecord, error) {
	sqlQuery := `SELECT ` + recordColumns + ` FROM memories`
	args := []interface{}{}
	var conds []string

	if filter.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if len(conds) > 0 {
		sqlQuery += ` WHERE ` + strings.Join(conds, " AND ")
	}
	sqlQuery += ` ORDER BY created_at DESC`
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	var records []*MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the total number of memory records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&count)
	return count, err
}

// DBPath returns the path of the backing database file.
func (s *Store) DBPath() string {
	return s.dbPath
}

// DBSize returns the size of the backing database file in bytes.
func (s *Store) DBSize() int64 {
	info, err := os.Stat(s.dbPath)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanRecord builds a record from one row of recordColumns. Nested
// list columns decode tolerantly: malformed JSON degrades to an empty
// list.
func scanRecord(scan func(dest ...interface{}) error) (*MemoryRecord, error) {
	var rec MemoryRecord
	var contextVal, goalVal, tasksVal, lessonsVal, decisionsVal, entitiesVal, projectVal, sessionVal sql.NullString

	err := scan(&rec.ID, &contextVal, &goalVal, &tasksVal, &lessonsVal, &decisionsVal, &entitiesVal,
		&projectVal, &sessionVal, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Context = contextVal.String
	rec.Goal = goalVal.String
	rec.ProjectID = projectVal.String
	rec.SessionID = sessionVal.String
	rec.ActiveTasks = decodeList[TaskItem](tasksVal.String)
	rec.LessonsLearned = decodeList[string](lessonsVal.String)
	rec.Decisions = decodeList[Decision](decisionsVal.String)
	rec.Entities = decodeList[Entity](entitiesVal.String)
	return &rec, nil
}
