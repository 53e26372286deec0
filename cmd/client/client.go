package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"media-toolkit/internal/core/domain"
)

// Client talks to the media toolkit HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// APIError is the error body returned by the service
type APIError struct {
	Status  int    `json:"http_status"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("%s: %s (status %d, trace %s)", e.Code, e.Message, e.Status, e.TraceID)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Message, e.Status)
}

// Result is a downloaded transform output
type Result struct {
	Filename      string
	ContentType   string
	ArtifactCount int
	Cached        bool
	Data          []byte
}

// Save writes the result into dir and returns the file path.
func (r *Result) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filepath.Base(r.Filename))
	return path, os.WriteFile(path, r.Data, 0644)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
}

// NewClient creates a new media toolkit client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}

	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Operations lists the operations the service offers, optionally filtered
// by category.
func (c *Client) Operations(ctx context.Context, category string) ([]domain.Operation, error) {
	path := "/api/v1/operations"
	if category != "" {
		path += "?category=" + url.QueryEscape(category)
	}
	var ops []domain.Operation
	if err := c.getJSON(ctx, path, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// RunTool uploads files and runs operation synchronously.
func (c *Client) RunTool(ctx context.Context, operation string, files []string, params map[string]string) (*Result, error) {
	resp, err := c.upload(ctx, "/api/v1/tools/"+url.PathEscape(operation), files, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	return readResult(resp)
}

// SubmitJob uploads files and queues operation for a worker.
func (c *Client) SubmitJob(ctx context.Context, operation string, files []string, params map[string]string) (*domain.TransformJob, error) {
	resp, err := c.upload(ctx, "/api/v1/jobs/"+url.PathEscape(operation), files, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, decodeError(resp)
	}
	var job domain.TransformJob
	if err := decodeData(resp.Body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob gets the current state of a job
func (c *Client) GetJob(ctx context.Context, jobID string) (*domain.TransformJob, error) {
	var job domain.TransformJob
	if err := c.getJSON(ctx, "/api/v1/jobs/"+url.PathEscape(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitForJob polls until the job completes or fails.
func (c *Client) WaitForJob(ctx context.Context, jobID string, pollInterval time.Duration) (*domain.TransformJob, error) {
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		switch job.Status {
		case domain.JobStatusCompleted:
			return job, nil
		case domain.JobStatusFailed:
			return job, fmt.Errorf("job failed: %s", job.Error)
		}

		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// JobResult downloads output index of a completed job.
func (c *Client) JobResult(ctx context.Context, jobID string, index int) (*Result, error) {
	path := fmt.Sprintf("/api/v1/jobs/%s/result?index=%d", url.PathEscape(jobID), index)
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	return readResult(resp)
}

// Health returns the service health report
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var report map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return report, fmt.Errorf("service unhealthy: status %d", resp.StatusCode)
	}
	return report, nil
}

// BatchJobs submits one job per file and waits for all of them, running at
// most maxConcurrency at a time.
func (c *Client) BatchJobs(ctx context.Context, operation string, files []string, params map[string]string, maxConcurrency int) ([]*domain.TransformJob, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}

	type outcome struct {
		job *domain.TransformJob
		err error
	}

	paths := make(chan string, len(files))
	results := make(chan outcome, len(files))

	for i := 0; i < maxConcurrency; i++ {
		go func() {
			for path := range paths {
				job, err := c.SubmitJob(ctx, operation, []string{path}, params)
				if err == nil {
					job, err = c.WaitForJob(ctx, job.ID, 0)
				}
				if err != nil {
					err = fmt.Errorf("%s: %w", filepath.Base(path), err)
				}
				results <- outcome{job: job, err: err}
			}
		}()
	}

	for _, path := range files {
		paths <- path
	}
	close(paths)

	var jobs []*domain.TransformJob
	var errs []error
	for range files {
		r := <-results
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		jobs = append(jobs, r.job)
	}

	if len(errs) > 0 {
		return jobs, fmt.Errorf("batch had %d errors: %w", len(errs), errs[0])
	}
	return jobs, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return decodeData(resp.Body, v)
}

// upload sends files under the "files" field with params as form values.
func (c *Client) upload(ctx context.Context, path string, files []string, params map[string]string) (*http.Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, filePath := range files {
		if err := addFile(writer, filePath); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := writer.WriteField(k, params[k]); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, &buf, writer.FormDataContentType())
}

func addFile(writer *multipart.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile("files", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func decodeData(r io.Reader, v interface{}) error {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		if env.Error.Status == 0 {
			env.Error.Status = resp.StatusCode
		}
		return env.Error
	}
	return &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: string(bytes.TrimSpace(body))}
}

func readResult(resp *http.Response) (*Result, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}

	result := &Result{
		Filename:      "result",
		ContentType:   resp.Header.Get("Content-Type"),
		ArtifactCount: 1,
		Data:          data,
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		result.Filename = params["filename"]
	}
	if n, err := strconv.Atoi(resp.Header.Get("X-Artifact-Count")); err == nil {
		result.ArtifactCount = n
	}
	result.Cached, _ = strconv.ParseBool(resp.Header.Get("X-Transform-Cached"))
	return result, nil
}
