package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/threewaymatch/backend/model"
	"github.com/threewaymatch/backend/service"
	"github.com/threewaymatch/backend/workflow"
)

// runsRouter wires the run endpoints with a fixed authenticated user.
func runsRouter(runner Runner, store *service.RunStore, username string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewRunHandler(runner, store)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("username", username)
	})
	router.POST("/api/runs", h.Create)
	router.GET("/api/runs", h.List)
	router.GET("/api/runs/:id", h.Get)
	router.GET("/api/runs/:id/status", h.GetStatus)
	router.DELETE("/api/runs/:id", h.Delete)
	return router
}

func createRun(t *testing.T, router *gin.Engine) string {
	t.Helper()
	body, contentType := multipartBody(t, allThreeFiles())
	req := httptest.NewRequest(http.MethodPost, "/api/runs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad create body: %v", err)
	}
	if resp["id"] == "" {
		t.Fatal("create returned no run ID")
	}
	return resp["id"]
}

// waitForRun polls the store until the run leaves its in-flight states.
func waitForRun(t *testing.T, store *service.RunStore, id string) *service.MatchRun {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run := store.Get(id)
		if run != nil && run.Status != service.RunPending && run.Status != service.RunProcessing {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not settle", id)
	return nil
}

func TestRunLifecycleCompleted(t *testing.T) {
	store := service.NewRunStore(10)
	router := runsRouter(&stubRunner{result: okResult()}, store, "alice")

	id := createRun(t, router)
	run := waitForRun(t, store, id)

	if run.Status != service.RunCompleted {
		t.Fatalf("status = %s, want completed (detail: %s)", run.Status, run.ErrorDetail)
	}
	if run.Result == nil || run.Result.Report.MatchSummary.Status != model.AllMatched {
		t.Error("completed run has no result")
	}

	// Full fetch includes the result.
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+id, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got service.MatchRun
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad get body: %v", err)
	}
	if got.Result == nil {
		t.Error("result missing from run payload")
	}
}

func TestRunLifecycleFailed(t *testing.T) {
	store := service.NewRunStore(10)
	runner := &stubRunner{err: &workflow.WorkflowError{Failures: []workflow.RoleFailure{
		{Role: model.RoleDN, Kind: workflow.KindValidation, Err: errors.New("schema mismatch")},
	}}}
	router := runsRouter(runner, store, "alice")

	id := createRun(t, router)
	run := waitForRun(t, store, id)

	if run.Status != service.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.ErrorDetail == "" {
		t.Error("failed run has no error detail")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+id+"/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status fetch = %d", w.Code)
	}
	var status map[string]string
	json.Unmarshal(w.Body.Bytes(), &status)
	if status["status"] != service.RunFailed || status["error_detail"] == "" {
		t.Errorf("status payload = %v", status)
	}
}

func TestRunCreateRejectsBadUpload(t *testing.T) {
	store := service.NewRunStore(10)
	router := runsRouter(&stubRunner{result: okResult()}, store, "alice")

	body, contentType := multipartBody(t, map[string]string{"po": "po.pdf"})
	req := httptest.NewRequest(http.MethodPost, "/api/runs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if store.Count() != 0 {
		t.Error("rejected upload still created a run")
	}
}

func TestRunListScopedToUser(t *testing.T) {
	store := service.NewRunStore(10)
	alice := runsRouter(&stubRunner{result: okResult()}, store, "alice")
	bob := runsRouter(&stubRunner{result: okResult()}, store, "bob")

	aliceID := createRun(t, alice)
	bobID := createRun(t, bob)
	waitForRun(t, store, aliceID)
	waitForRun(t, store, bobID)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	w := httptest.NewRecorder()
	alice.ServeHTTP(w, req)

	var resp struct {
		Runs []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad list body: %v", err)
	}
	if len(resp.Runs) != 1 {
		t.Fatalf("alice sees %d runs, want 1", len(resp.Runs))
	}
	if resp.Runs[0]["id"] != aliceID {
		t.Errorf("alice sees run %v", resp.Runs[0]["id"])
	}
	if _, ok := resp.Runs[0]["result"]; ok {
		t.Error("list payload leaks the result")
	}
}

func TestRunOwnershipEnforced(t *testing.T) {
	store := service.NewRunStore(10)
	alice := runsRouter(&stubRunner{result: okResult()}, store, "alice")
	bob := runsRouter(&stubRunner{result: okResult()}, store, "bob")

	id := createRun(t, alice)
	waitForRun(t, store, id)

	for _, path := range []string{"/api/runs/" + id, "/api/runs/" + id + "/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		bob.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s as bob = %d, want 404", path, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/runs/"+id, nil)
	w := httptest.NewRecorder()
	bob.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("DELETE as bob = %d, want 404", w.Code)
	}
	if store.Get(id) == nil {
		t.Error("bob deleted alice's run")
	}
}

func TestRunDelete(t *testing.T) {
	store := service.NewRunStore(10)
	router := runsRouter(&stubRunner{result: okResult()}, store, "alice")

	id := createRun(t, router)
	waitForRun(t, store, id)

	req := httptest.NewRequest(http.MethodDelete, "/api/runs/"+id, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if store.Get(id) != nil {
		t.Error("run still present after delete")
	}
}

func TestRunGetUnknownID(t *testing.T) {
	store := service.NewRunStore(10)
	router := runsRouter(&stubRunner{result: okResult()}, store, "alice")

	req := httptest.NewRequest(http.MethodGet, "/api/runs/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
