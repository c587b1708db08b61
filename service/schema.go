package service

import "github.com/threewaymatch/backend/model"

func nullable(typ string, extra map[string]any) map[string]any {
	m := map[string]any{"type": []string{typ, "null"}}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// documentSchema builds the JSON schema the LLM output must satisfy.
// The shape is shared across roles; the role picks which money fields
// the prompt asks for, so the schema only pins the invariants.
func documentSchema(role model.Role) map[string]any {
	lineItem := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"item_code":  map[string]any{"type": "string", "minLength": 1},
			"item_name":  map[string]any{"type": "string"},
			"quantity":   map[string]any{"type": "number", "minimum": 0},
			"unit":       nullable("string", nil),
			"unit_price": nullable("number", map[string]any{"minimum": 0}),
			"total":      nullable("number", map[string]any{"minimum": 0}),
		},
		"required": []string{"item_code", "item_name", "quantity"},
	}

	properties := map[string]any{
		"document_number": nullable("string", nil),
		"document_date":   nullable("string", nil),
		"counterparty":    nullable("string", nil),
		"items": map[string]any{
			"type":  "array",
			"items": lineItem,
		},
		"subtotal":    nullable("number", nil),
		"vat_rate":    nullable("number", nil),
		"vat_amount":  nullable("number", nil),
		"grand_total": nullable("number", nil),
		"notes":       nullable("string", nil),
	}

	required := []string{"items"}
	if role == model.RoleINV || role == model.RolePO {
		// Buyers and billers always number their documents; delivery
		// notes from small carriers sometimes don't.
		required = append(required, "document_number")
	}

	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
