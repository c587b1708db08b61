package service

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/threewaymatch/backend/model"
	"github.com/threewaymatch/backend/pkg/logger"
	"github.com/threewaymatch/backend/workflow"
)

// Extractor is the capability the orchestrator consumes: one document
// in, one validated Document out. workflow.Orchestrator declares the
// matching interface on its side.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string, role model.Role) (model.Document, error)
}

// DocumentExtractor runs the full per-document pipeline: archive the
// bytes, hand a presigned URL to the extraction service for markdown,
// then structure the markdown with the language model.
type DocumentExtractor struct {
	archive *MinioService
	parser  *ParseService
	llm     *LLMService
}

func NewDocumentExtractor(archive *MinioService, parser *ParseService, llm *LLMService) *DocumentExtractor {
	return &DocumentExtractor{
		archive: archive,
		parser:  parser,
		llm:     llm,
	}
}

// Extract implements the extraction pipeline for one document role.
// Network-class failures come back as *workflow.TransientError, schema
// failures as *workflow.ValidationError.
func (e *DocumentExtractor) Extract(ctx context.Context, data []byte, filename string, role model.Role) (model.Document, error) {
	if !role.Valid() {
		return model.Document{}, fmt.Errorf("unknown document role %q", role)
	}
	if len(data) == 0 {
		return model.Document{}, &workflow.ValidationError{
			Detail: fmt.Sprintf("%s document is empty", role.Label()),
		}
	}

	start := time.Now()
	objectName := fmt.Sprintf("%s/%s/%s", role, uuid.New().String(), filename)

	if err := e.archive.UploadDocument(ctx, objectName, bytes.NewReader(data), int64(len(data)), contentTypeFor(filename)); err != nil {
		return model.Document{}, &workflow.TransientError{Op: "archive.upload", Cause: err}
	}

	docURL, err := e.archive.PresignedURL(ctx, objectName)
	if err != nil {
		return model.Document{}, &workflow.TransientError{Op: "archive.presign", Cause: err}
	}

	markdown, err := e.parser.ExtractMarkdown(ctx, docURL, objectName)
	if err != nil {
		return model.Document{}, err
	}

	doc, err := e.llm.ExtractDocument(ctx, markdown, role)
	if err != nil {
		return model.Document{}, err
	}

	if err := doc.Validate(); err != nil {
		return model.Document{}, &workflow.ValidationError{
			Detail: "extracted document violates the schema",
			Cause:  err,
		}
	}

	logger.Info(ctx, "extract.done",
		"object", objectName,
		"items", len(doc.Items),
		"elapsed_ms", time.Since(start).Milliseconds())
	return doc, nil
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
