package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kbflow/kbflow/internal/metrics"
	"github.com/kbflow/kbflow/internal/models"
)

// Client talks to the pipeline backend's REST API under /api/v1.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Collector
	heartbeat  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics attaches a collector that records request timings and
// socket frame counts.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHeartbeat overrides the socket heartbeat cadence (default 30s).
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

// New creates a backend client.
// If baseURL is empty, uses the KBFLOW_SERVER_URL env var or defaults to
// localhost:8080. Request timeout can be configured via
// KBFLOW_CLIENT_TIMEOUT (default 30s).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("KBFLOW_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("KBFLOW_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		heartbeat:  30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// do executes one request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	// Correlation id, echoed by the backend into its own logs.
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: %w", ErrServer, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)})
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) record(op string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordTiming(op, time.Since(start))
	}
}

// =============================================================================
// KNOWLEDGE BASE OPERATIONS
// =============================================================================

// CreateKnowledgeBaseInput is the input for creating a knowledge base.
type CreateKnowledgeBaseInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateKnowledgeBase creates a new knowledge base.
func (c *Client) CreateKnowledgeBase(ctx context.Context, input CreateKnowledgeBaseInput) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	if err := c.post(ctx, "/api/v1/knowledge-bases", input, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

// GetKnowledgeBase retrieves a knowledge base by id.
func (c *Client) GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	if err := c.get(ctx, "/api/v1/knowledge-bases/"+url.PathEscape(id), &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

// ListKnowledgeBases returns all knowledge bases.
func (c *Client) ListKnowledgeBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	var out []models.KnowledgeBase
	if err := c.get(ctx, "/api/v1/knowledge-bases", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// VERSION OPERATIONS
// =============================================================================

// ListVersions returns all versions of a knowledge base.
func (c *Client) ListVersions(ctx context.Context, kbID string) ([]models.Version, error) {
	var out []models.Version
	path := "/api/v1/knowledge-bases/" + url.PathEscape(kbID) + "/versions"
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchVersion retrieves a version by id.
func (c *Client) FetchVersion(ctx context.Context, id string) (*models.Version, error) {
	var v models.Version
	if err := c.get(ctx, "/api/v1/versions/"+url.PathEscape(id), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// FetchVersionFiles returns one page of a version's files, optionally
// filtered by stage status.
func (c *Client) FetchVersionFiles(ctx context.Context, id string, page int, status *string) ([]models.FileVersion, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if status != nil {
		q.Set("status", *status)
	}
	path := "/api/v1/versions/" + url.PathEscape(id) + "/files"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var out []models.FileVersion
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchStagePreview returns the raw preview payload for one processing
// stage of a file. The backend rejects previews of unfinished stages;
// callers should gate on stage.Graph.CanPreview first.
func (c *Client) FetchStagePreview(ctx context.Context, fileID string, kind models.StageKind) (json.RawMessage, error) {
	var out json.RawMessage
	path := "/api/v1/files/" + url.PathEscape(fileID) + "/stages/" + url.PathEscape(string(kind)) + "/preview"
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// PIPELINE TRIGGERS
// =============================================================================

func (c *Client) trigger(ctx context.Context, versionID, action string, config map[string]any) (*models.Task, error) {
	defer c.record(metrics.OpTrigger, time.Now())

	var t models.Task
	path := "/api/v1/versions/" + url.PathEscape(versionID) + "/" + action
	if err := c.post(ctx, path, config, &t); err != nil {
		return nil, err
	}
	c.logger.Info("pipeline action triggered", "action", action, "version_id", versionID, "task_id", t.ID)
	return &t, nil
}

// TriggerIngest starts source ingestion for a version and returns the
// new task immediately.
func (c *Client) TriggerIngest(ctx context.Context, versionID string, config map[string]any) (*models.Task, error) {
	return c.trigger(ctx, versionID, "ingest", config)
}

// TriggerBuild starts an index build for a version.
func (c *Client) TriggerBuild(ctx context.Context, versionID string, config map[string]any) (*models.Task, error) {
	return c.trigger(ctx, versionID, "build", config)
}

// TriggerPublish publishes a ready version to an environment.
func (c *Client) TriggerPublish(ctx context.Context, versionID string, config map[string]any) (*models.Task, error) {
	return c.trigger(ctx, versionID, "publish", config)
}

// =============================================================================
// TASK OPERATIONS
// =============================================================================

// ListTasksOptions filters a task listing.
type ListTasksOptions struct {
	KnowledgeBaseID string
	VersionID       string
	ActiveOnly      bool
}

// ListTasks returns tasks matching the given filters, most recent first.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) ([]models.Task, error) {
	q := url.Values{}
	if opts.KnowledgeBaseID != "" {
		q.Set("knowledge_base_id", opts.KnowledgeBaseID)
	}
	if opts.VersionID != "" {
		q.Set("knowledge_base_version_id", opts.VersionID)
	}
	if opts.ActiveOnly {
		q.Set("active", "true")
	}
	path := "/api/v1/tasks"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var out []models.Task
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchTask retrieves a task by id. Idempotent read.
func (c *Client) FetchTask(ctx context.Context, id string) (*models.Task, error) {
	defer c.record(metrics.OpTaskPoll, time.Now())

	var t models.Task
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// FetchTaskResult retrieves the result of a terminal task.
func (c *Client) FetchTaskResult(ctx context.Context, id string) (*models.TaskResult, error) {
	defer c.record(metrics.OpResultFetch, time.Now())

	var r models.TaskResult
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(id)+"/result", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CancelTask requests cancellation of an active task. The backend owns
// the status transition; the updated task is returned.
func (c *Client) CancelTask(ctx context.Context, id, reason string) (*models.Task, error) {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	var t models.Task
	if err := c.post(ctx, "/api/v1/tasks/"+url.PathEscape(id)+"/cancel", body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// RetryTask retries a failed or cancelled task. The backend returns a
// new task with a new id; callers must re-point any tracking to it.
func (c *Client) RetryTask(ctx context.Context, id string, opts map[string]any) (*models.Task, error) {
	var t models.Task
	if err := c.post(ctx, "/api/v1/tasks/"+url.PathEscape(id)+"/retry", opts, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
