package querystate

import (
	"testing"

	"github.com/bambooforest/qiengine/services/engine/datatypes"
	"github.com/stretchr/testify/assert"
)

func TestPutGet(t *testing.T) {
	s := New()
	s.Put("q1", &Entry{LQ: &datatypes.LogicalQuery{User: "alice"}})

	e, ok := s.Get("q1")
	assert.True(t, ok)
	assert.Equal(t, "alice", e.LQ.User)
}

func TestGet_Missing(t *testing.T) {
	s := New()
	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	s := New()
	s.Put("q1", &Entry{LQ: &datatypes.LogicalQuery{}})
	s.Delete("q1")
	_, ok := s.Get("q1")
	assert.False(t, ok)
}

func TestAddJobAndMarkTerminal(t *testing.T) {
	s := New()
	s.Put("q1", &Entry{LQ: &datatypes.LogicalQuery{}})
	s.AddJob("q1", "job-a")
	s.AddJob("q1", "job-b")

	e, _ := s.Get("q1")
	assert.ElementsMatch(t, []string{"job-a", "job-b"}, e.NonTerminal)

	s.MarkTerminal("q1", "job-a")
	e, _ = s.Get("q1")
	assert.Equal(t, []string{"job-b"}, e.NonTerminal)
}

func TestAddJob_IgnoresEmptyAndUnknownQuery(t *testing.T) {
	s := New()
	s.AddJob("missing", "job-a") // no panic, no-op
	s.Put("q1", &Entry{LQ: &datatypes.LogicalQuery{}})
	s.AddJob("q1", "")
	e, _ := s.Get("q1")
	assert.Empty(t, e.NonTerminal)
}

func TestForUser(t *testing.T) {
	s := New()
	s.Put("q1", &Entry{LQ: &datatypes.LogicalQuery{User: "alice"}})
	s.Put("q2", &Entry{LQ: &datatypes.LogicalQuery{User: "bob"}})
	s.Put("q3", &Entry{LQ: &datatypes.LogicalQuery{User: "alice"}})

	ids := s.ForUser("alice")
	assert.ElementsMatch(t, []string{"q1", "q3"}, ids)
}

func TestCount(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.Count())
	s.Put("q1", &Entry{LQ: &datatypes.LogicalQuery{}})
	assert.Equal(t, 1, s.Count())
}
