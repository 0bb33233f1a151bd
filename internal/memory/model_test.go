package memory

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskItem_UnmarshalBareString(t *testing.T) {
	var item TaskItem
	err := json.Unmarshal([]byte(`"write the parser"`), &item)
	require.NoError(t, err)
	assert.Equal(t, "write the parser", item.Task)
	assert.Equal(t, TaskPending, item.Status)
}

func TestTaskItem_UnmarshalObject(t *testing.T) {
	var item TaskItem
	err := json.Unmarshal([]byte(`{"task":"ship it","status":"in_progress","priority":"high"}`), &item)
	require.NoError(t, err)
	assert.Equal(t, "ship it", item.Task)
	assert.Equal(t, TaskInProgress, item.Status)
	assert.Equal(t, "high", item.Priority)
}

func TestTaskItem_UnmarshalObjectDefaultsStatus(t *testing.T) {
	var item TaskItem
	err := json.Unmarshal([]byte(`{"task":"no status given"}`), &item)
	require.NoError(t, err)
	assert.Equal(t, TaskPending, item.Status)
}

func TestDecision_UnmarshalBareString(t *testing.T) {
	var d Decision
	err := json.Unmarshal([]byte(`"use SQLite"`), &d)
	require.NoError(t, err)
	assert.Equal(t, "use SQLite", d.Decision)
	assert.Empty(t, d.Rationale)
}

func TestDecision_UnmarshalObject(t *testing.T) {
	var d Decision
	err := json.Unmarshal([]byte(`{"decision":"use SQLite","rationale":"zero ops","alternatives":["postgres"]}`), &d)
	require.NoError(t, err)
	assert.Equal(t, "use SQLite", d.Decision)
	assert.Equal(t, "zero ops", d.Rationale)
	assert.Equal(t, []string{"postgres"}, d.Alternatives)
}

func TestEntity_UnmarshalBareString(t *testing.T) {
	var e Entity
	err := json.Unmarshal([]byte(`"redis"`), &e)
	require.NoError(t, err)
	assert.Equal(t, "redis", e.Name)
}

func TestEntity_UnmarshalObject(t *testing.T) {
	var e Entity
	err := json.Unmarshal([]byte(`{"name":"redis","type":"cache","notes":"session store"}`), &e)
	require.NoError(t, err)
	assert.Equal(t, "redis", e.Name)
	assert.Equal(t, "cache", e.Type)
}

func TestMixedListDecode(t *testing.T) {
	// Lists may mix bare strings and objects.
	raw := `["first task",{"task":"second task","status":"completed"}]`
	tasks := decodeList[TaskItem](raw)
	require.Len(t, tasks, 2)
	assert.Equal(t, "first task", tasks[0].Task)
	assert.Equal(t, TaskPending, tasks[0].Status)
	assert.Equal(t, TaskCompleted, tasks[1].Status)
}

func TestDecodeList_MalformedDegradesToEmpty(t *testing.T) {
	assert.Nil(t, decodeList[TaskItem](`{not json`))
	assert.Nil(t, decodeList[string](``))
	assert.Nil(t, decodeList[string](`null`))
	assert.Nil(t, decodeList[string](`[]`))
}

func TestSearchText_Order(t *testing.T) {
	rec := &MemoryRecord{
		Context: "refactoring auth",
		Goal:    "rotate refresh tokens",
		ActiveTasks: []TaskItem{
			{Task: "add token table"},
			{Task: "wire middleware"},
		},
		LessonsLearned: []string{"tokens must be hashed at rest"},
		Decisions:      []Decision{{Decision: "use opaque tokens", Rationale: "jwt revocation is painful"}},
		Entities:       []Entity{{Name: "auth-service", Type: "service"}},
	}

	text := rec.SearchText()
	lines := strings.Split(text, "\n")
	assert.Equal(t, []string{
		"refactoring auth",
		"rotate refresh tokens",
		"add token table",
		"wire middleware",
		"tokens must be hashed at rest",
		"use opaque tokens",
		"auth-service",
		"service",
	}, lines)

	// Rationale text stays out of the projection.
	assert.NotContains(t, text, "jwt revocation")
}

func TestSearchText_SkipsBlankParts(t *testing.T) {
	rec := &MemoryRecord{
		Goal:           "  only the goal  ",
		LessonsLearned: []string{"", "  "},
	}
	assert.Equal(t, "only the goal", rec.SearchText())
}

func TestSearchText_Empty(t *testing.T) {
	rec := &MemoryRecord{}
	assert.Equal(t, "", rec.SearchText())
}

func TestEncodeLists_EmptyIsJSONArray(t *testing.T) {
	rec := &MemoryRecord{}
	tasks, lessons, decisions, entities := rec.encodeLists()
	assert.Equal(t, "[]", tasks)
	assert.Equal(t, "[]", lessons)
	assert.Equal(t, "[]", decisions)
	assert.Equal(t, "[]", entities)
}

func TestEncodeLists_RoundTrip(t *testing.T) {
	rec := &MemoryRecord{
		ActiveTasks: []TaskItem{{Task: "a", Status: TaskCompleted}},
		Decisions:   []Decision{{Decision: "b", Alternatives: []string{"c"}}},
	}
	tasks, _, decisions, _ := rec.encodeLists()

	gotTasks := decodeList[TaskItem](tasks)
	require.Len(t, gotTasks, 1)
	assert.Equal(t, rec.ActiveTasks[0], gotTasks[0])

	gotDecisions := decodeList[Decision](decisions)
	require.Len(t, gotDecisions, 1)
	assert.Equal(t, rec.Decisions[0], gotDecisions[0])
}
