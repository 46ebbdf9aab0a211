// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the cancel handlers

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bambooforest/qiengine/pkg/adapters"
	"github.com/bambooforest/qiengine/services/engine/cache"
	"github.com/bambooforest/qiengine/services/engine/callbacks"
	"github.com/bambooforest/qiengine/services/engine/controller"
	"github.com/bambooforest/qiengine/services/engine/datatypes"
	"github.com/bambooforest/qiengine/services/engine/querystate"
	"github.com/bambooforest/qiengine/services/engine/submitter"
)

type fakeRuntime struct {
	canceled []string
}

func (f *fakeRuntime) Enqueue(ctx context.Context, spec adapters.EnqueueSpec) (string, error) {
	return spec.JobID, nil
}

func (f *fakeRuntime) Fetch(ctx context.Context, jobID string) (adapters.JobSnapshot, error) {
	return adapters.JobSnapshot{ID: jobID}, nil
}

func (f *fakeRuntime) Cancel(ctx context.Context, jobID string) error {
	f.canceled = append(f.canceled, jobID)
	return nil
}

type fakePublisher struct{}

func (fakePublisher) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func newTestDeps(t *testing.T) (*Dependencies, *fakeRuntime) {
	t.Helper()
	backend, err := cache.NewBadgerBackend(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	rt := &fakeRuntime{}
	sub := submitter.New(cache.New(backend, "job:", 0), rt, nil, submitter.Timeouts{}, false)
	cb := callbacks.New(fakePublisher{}, "chan", nil)
	ctrl := controller.New(rt, sub, cb, nil)

	return &Dependencies{
		Controller: ctrl,
		Backend:    backend,
		States:     querystate.New(),
		Validate:   NewValidator(),
	}, rt
}

func TestCancel_UnknownQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, _ := newTestDeps(t)
	router := gin.New()
	router.POST("/query/:id/cancel", NewCancelHandler(deps))

	body, _ := json.Marshal(CancelRequest{User: "alice"})
	req, _ := http.NewRequest("POST", "/query/missing/cancel", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancel_WrongOwnerForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, _ := newTestDeps(t)
	deps.States.Put("lq1", &querystate.Entry{LQ: &datatypes.LogicalQuery{User: "alice"}})

	router := gin.New()
	router.POST("/query/:id/cancel", NewCancelHandler(deps))

	body, _ := json.Marshal(CancelRequest{User: "mallory"})
	req, _ := http.NewRequest("POST", "/query/lq1/cancel", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCancel_OwnerSucceedsAndClearsState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, rt := newTestDeps(t)
	deps.States.Put("lq1", &querystate.Entry{
		LQ:          &datatypes.LogicalQuery{User: "alice"},
		NonTerminal: []string{"job-1", "job-2"},
	})

	router := gin.New()
	router.POST("/query/:id/cancel", NewCancelHandler(deps))

	body, _ := json.Marshal(CancelRequest{User: "alice"})
	req, _ := http.NewRequest("POST", "/query/lq1/cancel", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, rt.canceled)
	_, ok := deps.States.Get("lq1")
	assert.False(t, ok)
}

func TestBulkCancel_CancelsAllOfUsersQueries(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps, rt := newTestDeps(t)
	deps.States.Put("lq1", &querystate.Entry{LQ: &datatypes.LogicalQuery{User: "alice"}, NonTerminal: []string{"job-1"}})
	deps.States.Put("lq2", &querystate.Entry{LQ: &datatypes.LogicalQuery{User: "alice"}, NonTerminal: []string{"job-2"}})
	deps.States.Put("lq3", &querystate.Entry{LQ: &datatypes.LogicalQuery{User: "bob"}, NonTerminal: []string{"job-3"}})

	router := gin.New()
	router.POST("/query/cancel-all", NewBulkCancelHandler(deps))

	body, _ := json.Marshal(BulkCancelRequest{User: "alice"})
	req, _ := http.NewRequest("POST", "/query/cancel-all", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, rt.canceled)
	_, ok := deps.States.Get("lq3")
	assert.True(t, ok, "bob's query must remain untouched")
}
