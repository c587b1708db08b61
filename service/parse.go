package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/threewaymatch/backend/config"
	"github.com/threewaymatch/backend/pkg/logger"
	"github.com/threewaymatch/backend/workflow"
)

// ParseService is the client for the external document-extraction
// service, which converts a document at a URL into markdown text via
// an asynchronous task.
type ParseService struct {
	config     *config.ParseConfig
	httpClient *http.Client
}

// ParseTaskRequest represents the request to create an extraction task
type ParseTaskRequest struct {
	URL          string `json:"url"`
	ModelVersion string `json:"model_version"`
	DataID       string `json:"data_id,omitempty"`
}

// ParseTaskResponse represents the response from task creation
type ParseTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// ParseTaskStatusResponse represents the task status query response
type ParseTaskStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID      string `json:"task_id"`
		DataID      string `json:"data_id"`
		State       string `json:"state"` // pending, running, done, failed
		MarkdownURL string `json:"markdown_url,omitempty"`
		ErrorMsg    string `json:"err_msg,omitempty"`
	} `json:"data"`
}

func NewParseService(cfg *config.ParseConfig) *ParseService {
	return &ParseService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// CreateTask creates a new extraction task for the document at docURL.
func (s *ParseService) CreateTask(ctx context.Context, docURL, dataID string) (*ParseTaskResponse, error) {
	reqBody := ParseTaskRequest{
		URL:          docURL,
		ModelVersion: s.config.ModelVersion,
		DataID:       dataID,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL+"/extract/task", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	body, err := s.send(req, "parse.create_task")
	if err != nil {
		return nil, err
	}

	var result ParseTaskResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}

	if result.Code != 0 {
		return nil, fmt.Errorf("parse service error: %s", result.Message)
	}

	return &result, nil
}

// GetTaskStatus queries the status of a task
func (s *ParseService) GetTaskStatus(ctx context.Context, taskID string) (*ParseTaskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/extract/task/%s", s.config.APIURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)

	body, err := s.send(req, "parse.task_status")
	if err != nil {
		return nil, err
	}

	var result ParseTaskStatusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Code != 0 {
		return nil, fmt.Errorf("parse service error: %s", result.Message)
	}

	return &result, nil
}

// FetchMarkdown downloads the extracted markdown from the result URL.
func (s *ParseService) FetchMarkdown(ctx context.Context, markdownURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, markdownURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	body, err := s.send(req, "parse.fetch_markdown")
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// ExtractMarkdown runs the full task lifecycle: create, poll until the
// task settles, fetch the markdown result.
func (s *ParseService) ExtractMarkdown(ctx context.Context, docURL, dataID string) (string, error) {
	created, err := s.CreateTask(ctx, docURL, dataID)
	if err != nil {
		return "", err
	}
	taskID := created.Data.TaskID
	logger.Info(ctx, "parse.task.created", "task_id", taskID, "data_id", dataID)

	deadline := time.Now().Add(s.config.PollTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("parse task %s abandoned: %w", taskID, ctx.Err())
		case <-time.After(s.config.PollInterval):
		}

		status, err := s.GetTaskStatus(ctx, taskID)
		if err != nil {
			logger.Warn(ctx, "parse.task.poll_error", "task_id", taskID, "error", err)
			continue
		}

		switch status.Data.State {
		case "done":
			if status.Data.MarkdownURL == "" {
				return "", &workflow.ValidationError{Detail: "parse task finished without a result"}
			}
			return s.FetchMarkdown(ctx, status.Data.MarkdownURL)
		case "failed":
			// The service could not read the document; retrying the
			// same bytes will not change that.
			return "", &workflow.ValidationError{Detail: "document extraction failed: " + status.Data.ErrorMsg}
		}
	}

	return "", &workflow.TransientError{
		Op:    "parse.poll",
		Cause: fmt.Errorf("task %s did not finish within %s", taskID, s.config.PollTimeout),
	}
}

// send executes the request and classifies failures: network errors
// and 429/5xx responses are transient; other non-2xx are not.
func (s *ParseService) send(req *http.Request, op string) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &workflow.TransientError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &workflow.TransientError{Op: op, Cause: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &workflow.TransientError{
			Op:    op,
			Cause: fmt.Errorf("status %d: %s", resp.StatusCode, string(body)),
		}
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, string(body))
	}

	return body, nil
}
