package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/threewaymatch/backend/config"
	"github.com/threewaymatch/backend/model"
	"github.com/threewaymatch/backend/pkg/logger"
	"github.com/threewaymatch/backend/workflow"
)

// LLMService converts extracted markdown into a structured document
// using a chat-completions style language-model API. The response is
// validated against a per-role JSON schema before it becomes a
// Document.
type LLMService struct {
	config     *config.LLMConfig
	httpClient *http.Client
}

func NewLLMService(cfg *config.LLMConfig) *LLMService {
	return &LLMService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

var roleNames = map[model.Role]string{
	model.RolePO:  "Purchase Order",
	model.RoleDN:  "Delivery Note",
	model.RoleINV: "Invoice",
}

// ExtractDocument asks the model to structure the markdown of one
// document. The role hint specializes the prompt; the returned shape
// is the shared Document schema.
func (s *LLMService) ExtractDocument(ctx context.Context, markdown string, role model.Role) (model.Document, error) {
	start := time.Now()
	logger.Info(ctx, "llm.extract.start",
		"model", s.config.Model, "text_len", len(markdown))

	schema := documentSchema(role)
	body := map[string]any{
		"model":           s.config.Model,
		"temperature":     s.config.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt(role)},
			{"role": "user", "content": markdown + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	endpoint := strings.TrimRight(s.config.BaseURL, "/") + "/chat/completions"
	raw, err := s.post(ctx, endpoint, body)
	if err != nil {
		logger.Error(ctx, "llm.extract.http_error",
			"error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return model.Document{}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return model.Document{}, fmt.Errorf("decode llm response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return model.Document{}, fmt.Errorf("no choices in llm response")
	}

	content := stripFences(cc.Choices[0].Message.Content)

	if err := validateAgainstSchema(schema, []byte(content)); err != nil {
		logger.Error(ctx, "llm.extract.schema_validation_failed",
			"error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return model.Document{}, &workflow.ValidationError{
			Detail: fmt.Sprintf("%s output does not match the document schema", roleNames[role]),
			Cause:  err,
		}
	}

	var doc model.Document
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return model.Document{}, &workflow.ValidationError{
			Detail: fmt.Sprintf("%s output is not a document", roleNames[role]),
			Cause:  err,
		}
	}
	doc.Role = role

	logger.Info(ctx, "llm.extract.ok",
		"document_number", doc.DocumentNumber,
		"items", len(doc.Items),
		"elapsed_ms", time.Since(start).Milliseconds())
	return doc, nil
}

func (s *LLMService) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &workflow.TransientError{Op: "llm.post", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &workflow.TransientError{Op: "llm.post", Cause: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &workflow.TransientError{
			Op:    "llm.post",
			Cause: fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)),
		}
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("llm error: status %d: %s", resp.StatusCode, string(raw))
	}

	return raw, nil
}

func systemPrompt(role model.Role) string {
	name := roleNames[role]
	var sb strings.Builder
	fmt.Fprintf(&sb, "You extract structured data from a %s document.\n", name)
	sb.WriteString("Fill document_number, document_date, counterparty, and every line item with item_code, item_name, quantity, unit, unit_price, and total where the document states them.\n")
	switch role {
	case model.RolePO:
		sb.WriteString("The counterparty is the supplier. Include the grand_total if stated.")
	case model.RoleDN:
		sb.WriteString("Delivery notes usually carry no prices; leave unit_price and total null. Capture any notes.")
	case model.RoleINV:
		sb.WriteString("Include subtotal, vat_rate, vat_amount, and grand_total if stated.")
	}
	sb.WriteString("\nUse null for values the document does not state. Never invent values.")
	return sb.String()
}

// stripFences removes a markdown code block wrapper from a model
// response, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func validateAgainstSchema(schema map[string]any, data []byte) error {
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("document.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := compiler.Compile("document.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	return sch.Validate(instance)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
