package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kbflow/kbflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v1/tasks/t1", r.URL.Path)
		json.NewEncoder(w).Encode(models.Task{
			ID:       "t1",
			TaskType: models.TaskTypeIndexing,
			Status:   models.TaskStatusRunning,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	task, err := c.FetchTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, task.Status)
	assert.Equal(t, models.TaskTypeIndexing, task.TaskType)
}

func TestFetchTask_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.FetchTask(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsTransient(err), "not-found during a poll is retried, not fatal")
}

func TestDo_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index shard unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.FetchVersion(context.Background(), "v1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServer))

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.True(t, IsTransient(err))
}

func TestIsTransient_ClientErrorIsNot(t *testing.T) {
	err := &StatusError{StatusCode: http.StatusBadRequest, Body: "bad config"}
	assert.False(t, IsTransient(err))
	assert.False(t, IsTransient(nil))
}

func TestTriggerBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/versions/v1/build", r.URL.Path)

		var cfg map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cfg))
		assert.Equal(t, "incremental", cfg["mode"])

		json.NewEncoder(w).Encode(models.Task{
			ID:                     "t9",
			TaskType:               models.TaskTypeIndexing,
			Status:                 models.TaskStatusPending,
			KnowledgeBaseVersionID: "v1",
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	task, err := c.TriggerBuild(context.Background(), "v1", map[string]any{"mode": "incremental"})
	require.NoError(t, err)
	assert.Equal(t, "t9", task.ID)
	assert.Equal(t, models.TaskStatusPending, task.Status)
}

func TestFetchVersionFiles_QueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/versions/v1/files", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "failed", r.URL.Query().Get("status"))
		json.NewEncoder(w).Encode([]models.FileVersion{{ID: "f1", VersionID: "v1"}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	status := "failed"
	files, err := c.FetchVersionFiles(context.Background(), "v1", 2, &status)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "f1", files[0].ID)
}

func TestRetryTask_ReturnsNewID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/tasks/t1/retry", r.URL.Path)
		json.NewEncoder(w).Encode(models.Task{ID: "t2", Status: models.TaskStatusPending})
	}))
	defer srv.Close()

	c := New(srv.URL)
	task, err := c.RetryTask(context.Background(), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, "t2", task.ID, "retry must return the replacement task")
}

func TestFetchTask_Idempotent(t *testing.T) {
	fixture := models.Task{ID: "t1", Status: models.TaskStatusRunning, TaskType: models.TaskTypeIngestion}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(fixture)
	}))
	defer srv.Close()

	c := New(srv.URL)
	a, err := c.FetchTask(context.Background(), "t1")
	require.NoError(t, err)
	b, err := c.FetchTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
