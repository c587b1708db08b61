package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/threewaymatch/backend/matcher"
	"github.com/threewaymatch/backend/middleware"
	"github.com/threewaymatch/backend/model"
	"github.com/threewaymatch/backend/pkg/logger"
	"github.com/threewaymatch/backend/workflow"
)

// Runner is the workflow entry point the handlers call.
type Runner interface {
	Run(ctx context.Context, po, dn, inv workflow.Source) (*workflow.Result, error)
}

type MatchHandler struct {
	runner Runner
}

func NewMatchHandler(runner Runner) *MatchHandler {
	return &MatchHandler{runner: runner}
}

// Match handles the synchronous 3-way match: three uploaded documents
// in, `{report, summary, parsed_data}` out.
func (h *MatchHandler) Match(c *gin.Context) {
	sources, err := readSources(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	ctx := context.WithValue(c.Request.Context(), logger.UsernameKey, middleware.GetUsername(c))

	result, err := h.runner.Run(ctx, sources[model.RolePO], sources[model.RoleDN], sources[model.RoleINV])
	if err != nil {
		status, detail := failureResponse(err)
		c.JSON(status, gin.H{"detail": detail})
		return
	}

	c.JSON(http.StatusOK, result)
}

// readSources pulls the three document uploads out of the multipart
// form, keyed by role.
func readSources(c *gin.Context) (map[model.Role]workflow.Source, error) {
	sources := make(map[model.Role]workflow.Source, len(model.Roles))
	for _, role := range model.Roles {
		file, header, err := c.Request.FormFile(string(role))
		if err != nil {
			return nil, fmt.Errorf("missing %s file in field %q", role.Label(), role)
		}

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if ext != ".pdf" && ext != ".docx" {
			file.Close()
			return nil, fmt.Errorf("%s file must be a PDF or DOCX (got: %s)", role.Label(), header.Filename)
		}

		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s file", role.Label())
		}

		sources[role] = workflow.Source{Data: data, Filename: header.Filename}
	}
	return sources, nil
}

// failureResponse maps a workflow failure to an HTTP status and a
// detail string naming the failed stage and role(s).
func failureResponse(err error) (int, string) {
	var wfErr *workflow.WorkflowError
	if errors.As(err, &wfErr) {
		status := http.StatusBadGateway
		allValidation := true
		for _, f := range wfErr.Failures {
			if f.Kind == workflow.KindTimeout {
				status = http.StatusGatewayTimeout
			}
			if f.Kind != workflow.KindValidation {
				allValidation = false
			}
		}
		if allValidation {
			status = http.StatusUnprocessableEntity
		}
		return status, wfErr.Error()
	}

	var invErr *matcher.InvariantViolationError
	if errors.As(err, &invErr) {
		return http.StatusInternalServerError, "internal error: " + invErr.Error()
	}

	return http.StatusInternalServerError, "matching failed: " + err.Error()
}
