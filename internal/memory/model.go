// Package memory provides the local memory storage engine for Engram:
// durable memory records, the file graph, embeddings, and hybrid search.
package memory

import (
	"encoding/json"
	"strings"
	"time"
)

// Task status values.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
)

// MemoryRecord is a structured note capturing goal, context, decisions
// and lessons for later retrieval. IDs are assigned at creation and
// never reused; timestamps are server-assigned.
type MemoryRecord struct {
	ID             string     `json:"id"`
	Context        string     `json:"context,omitempty"`
	Goal           string     `json:"goal,omitempty"`
	ActiveTasks    []TaskItem `json:"active_tasks,omitempty"`
	LessonsLearned []string   `json:"lessons_learned,omitempty"`
	Decisions      []Decision `json:"decisions,omitempty"`
	Entities       []Entity   `json:"entities,omitempty"`
	ProjectID      string     `json:"project_id,omitempty"`
	SessionID      string     `json:"session_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TaskItem is a single entry in a record's task list.
type TaskItem struct {
	Task     string `json:"task"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// UnmarshalJSON accepts either a bare string (the task text) or a full
// object. Bare strings get status "pending".
func (t *TaskItem) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Task = s
		t.Status = TaskPending
		return nil
	}
	type plain TaskItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = TaskItem(p)
	if t.Status == "" {
		t.Status = TaskPending
	}
	return nil
}

// Decision records a choice made during a session.
type Decision struct {
	Decision     string   `json:"decision"`
	Rationale    string   `json:"rationale,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// UnmarshalJSON accepts either a bare string (the decision text) or a
// full object.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d.Decision = s
		return nil
	}
	type plain Decision
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = Decision(p)
	return nil
}

// Entity names a thing (service, library, person) a record refers to.
type Entity struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// UnmarshalJSON accepts either a bare string (the entity name) or a
// full object.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Name = s
		return nil
	}
	type plain Entity
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entity(p)
	return nil
}

// FileRecord is a tracked file path. File records are created lazily
// and never deleted by the engine.
type FileRecord struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	ProjectID    string    `json:"project_id,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
}

// SearchText concatenates the record's free text in a fixed order:
// context, goal, task texts, lessons, decision texts, entity
// names/types. Both the embedder and the keyword fallback consume this
// projection, so the two ranking paths see identical text.
func (r *MemoryRecord) SearchText() string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	add(r.Context)
	add(r.Goal)
	for _, t := range r.ActiveTasks {
		add(t.Task)
	}
	for _, l := range r.LessonsLearned {
		add(l)
	}
	for _, d := range r.Decisions {
		add(d.Decision)
	}
	for _, e := range r.Entities {
		add(e.Name)
		add(e.Type)
	}
	return strings.Join(parts, "\n")
}

// encodeLists serializes the record's nested lists for storage.
func (r *MemoryRecord) encodeLists() (tasks, lessons, decisions, entities string) {
	return encodeList(r.ActiveTasks), encodeList(r.LessonsLearned),
		encodeList(r.Decisions), encodeList(r.Entities)
}

func encodeList[T any](list []T) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// decodeList decodes a JSON-encoded list column. A failed decode
// degrades to an empty list, never an error.
func decodeList[T any](raw string) []T {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" || raw == "[]" {
		return nil
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
