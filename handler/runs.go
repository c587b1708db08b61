package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/threewaymatch/backend/middleware"
	"github.com/threewaymatch/backend/model"
	"github.com/threewaymatch/backend/pkg/logger"
	"github.com/threewaymatch/backend/service"
	"github.com/threewaymatch/backend/workflow"
)

// RunHandler exposes the asynchronous variant of the workflow: submit
// three documents, poll for the result.
type RunHandler struct {
	runner Runner
	store  *service.RunStore
}

func NewRunHandler(runner Runner, store *service.RunStore) *RunHandler {
	return &RunHandler{runner: runner, store: store}
}

// Create starts a match run in the background and returns its ID.
func (h *RunHandler) Create(c *gin.Context) {
	sources, err := readSources(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	username := middleware.GetUsername(c)
	run := &service.MatchRun{
		ID:          uuid.New().String(),
		Username:    username,
		POFilename:  sources[model.RolePO].Filename,
		DNFilename:  sources[model.RoleDN].Filename,
		INVFilename: sources[model.RoleINV].Filename,
		Status:      service.RunPending,
		CreatedAt:   time.Now(),
	}
	h.store.Save(run)

	go h.process(run.ID, username, sources)

	c.JSON(http.StatusAccepted, gin.H{
		"id":     run.ID,
		"status": run.Status,
	})
}

// process executes the workflow for a stored run. The request context
// is gone by the time this executes, so the run gets its own.
func (h *RunHandler) process(runID, username string, sources map[model.Role]workflow.Source) {
	ctx := context.WithValue(context.Background(), logger.RunIDKey, runID)
	ctx = context.WithValue(ctx, logger.UsernameKey, username)

	h.store.UpdateStatus(runID, service.RunProcessing, "")

	result, err := h.runner.Run(ctx, sources[model.RolePO], sources[model.RoleDN], sources[model.RoleINV])
	if err != nil {
		_, detail := failureResponse(err)
		h.store.UpdateStatus(runID, service.RunFailed, detail)
		return
	}

	h.store.SetResult(runID, result)
}

// List returns the current user's runs without their result payloads.
func (h *RunHandler) List(c *gin.Context) {
	runs := h.store.GetByUser(middleware.GetUsername(c))

	result := make([]gin.H, len(runs))
	for i, run := range runs {
		result[i] = gin.H{
			"id":           run.ID,
			"status":       run.Status,
			"po_filename":  run.POFilename,
			"dn_filename":  run.DNFilename,
			"inv_filename": run.INVFilename,
			"created_at":   run.CreatedAt.Format(time.RFC3339),
			"updated_at":   run.UpdatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, gin.H{"runs": result})
}

// Get returns a single run including its result, if completed.
func (h *RunHandler) Get(c *gin.Context) {
	run := h.ownedRun(c)
	if run == nil {
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetStatus returns just the run's lifecycle state.
func (h *RunHandler) GetStatus(c *gin.Context) {
	run := h.ownedRun(c)
	if run == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           run.ID,
		"status":       run.Status,
		"error_detail": run.ErrorDetail,
	})
}

// Delete removes a run.
func (h *RunHandler) Delete(c *gin.Context) {
	run := h.ownedRun(c)
	if run == nil {
		return
	}

	h.store.Delete(run.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Run deleted"})
}

// ownedRun loads the run from the path parameter and enforces
// ownership; it writes the 404 itself when the run is unavailable.
func (h *RunHandler) ownedRun(c *gin.Context) *service.MatchRun {
	run := h.store.Get(c.Param("id"))
	if run == nil || run.Username != middleware.GetUsername(c) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Run not found"})
		return nil
	}
	return run
}
