package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/threewaymatch/backend/config"
	"github.com/threewaymatch/backend/workflow"
)

// parseServer is a minimal extraction-service double: one task, a
// scripted sequence of states, and a markdown result endpoint.
type parseServer struct {
	t      *testing.T
	states []string
	polls  atomic.Int64
	server *httptest.Server
}

func newParseServer(t *testing.T, states ...string) *parseServer {
	ps := &parseServer{t: t, states: states}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /extract/task", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"task_id": "task-1"},
		})
	})
	mux.HandleFunc("GET /extract/task/task-1", func(w http.ResponseWriter, r *http.Request) {
		n := ps.polls.Add(1)
		state := ps.states[len(ps.states)-1]
		if int(n) <= len(ps.states) {
			state = ps.states[n-1]
		}

		data := map[string]any{"task_id": "task-1", "state": state}
		if state == "done" {
			data["markdown_url"] = ps.server.URL + "/results/task-1.md"
		}
		if state == "failed" {
			data["err_msg"] = "unreadable document"
		}
		json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": data})
	})
	mux.HandleFunc("GET /results/task-1.md", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "# Invoice\n\n| item | qty |\n")
	})

	ps.server = httptest.NewServer(mux)
	t.Cleanup(ps.server.Close)
	return ps
}

func (ps *parseServer) service(pollTimeout time.Duration) *ParseService {
	return NewParseService(&config.ParseConfig{
		APIURL:       ps.server.URL,
		APIToken:     "test-token",
		ModelVersion: "vlm",
		PollInterval: 2 * time.Millisecond,
		PollTimeout:  pollTimeout,
	})
}

func TestExtractMarkdown(t *testing.T) {
	ps := newParseServer(t, "pending", "running", "done")
	svc := ps.service(5 * time.Second)

	markdown, err := svc.ExtractMarkdown(context.Background(), "http://archive/doc.pdf", "data-1")
	if err != nil {
		t.Fatalf("ExtractMarkdown failed: %v", err)
	}
	if !strings.Contains(markdown, "# Invoice") {
		t.Errorf("markdown = %q", markdown)
	}
	if got := ps.polls.Load(); got != 3 {
		t.Errorf("polled %d times, want 3", got)
	}
}

func TestExtractMarkdownTaskFailed(t *testing.T) {
	ps := newParseServer(t, "failed")
	svc := ps.service(5 * time.Second)

	_, err := svc.ExtractMarkdown(context.Background(), "http://archive/doc.pdf", "data-1")

	var ve *workflow.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error type = %T, want *workflow.ValidationError (%v)", err, err)
	}
	if !strings.Contains(ve.Detail, "unreadable document") {
		t.Errorf("detail does not carry the service message: %s", ve.Detail)
	}
}

func TestExtractMarkdownPollTimeout(t *testing.T) {
	ps := newParseServer(t, "running")
	svc := ps.service(20 * time.Millisecond)

	_, err := svc.ExtractMarkdown(context.Background(), "http://archive/doc.pdf", "data-1")

	var te *workflow.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *workflow.TransientError (%v)", err, err)
	}
	if te.Op != "parse.poll" {
		t.Errorf("op = %s, want parse.poll", te.Op)
	}
}

func TestExtractMarkdownContextCancelled(t *testing.T) {
	ps := newParseServer(t, "running")
	svc := ps.service(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ExtractMarkdown(ctx, "http://archive/doc.pdf", "data-1")
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error does not wrap context.Canceled: %v", err)
	}
}

func TestCreateTaskServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 1, "msg": "invalid url"})
	}))
	defer server.Close()

	svc := NewParseService(&config.ParseConfig{APIURL: server.URL, PollInterval: time.Millisecond, PollTimeout: time.Second})
	_, err := svc.CreateTask(context.Background(), "http://archive/doc.pdf", "data-1")
	if err == nil || !strings.Contains(err.Error(), "invalid url") {
		t.Errorf("expected service error, got %v", err)
	}
}

func TestCreateTaskServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewParseService(&config.ParseConfig{APIURL: server.URL, PollInterval: time.Millisecond, PollTimeout: time.Second})
	_, err := svc.CreateTask(context.Background(), "http://archive/doc.pdf", "data-1")

	var te *workflow.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *workflow.TransientError (%v)", err, err)
	}
}
