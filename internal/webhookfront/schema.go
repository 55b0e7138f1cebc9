package webhookfront

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/agensys/mr-agent/internal/apperrors"
)

func requiredStringSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", MinLength: intPtr(1)}
}

func intPtr(n int) *int { return &n }

func positiveIntSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Minimum: floatPtr(1)}
}

func floatPtr(f float64) *float64 { return &f }

// pullRequestEventSchema is the strict schema for a GitHub pull_request
// (or GitLab merge_request) event body: an action, a numbered PR/MR
// object, and the owning repository.
func pullRequestEventSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"action": requiredStringSchema(),
			"number": positiveIntSchema(),
			"pull_request": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"number": positiveIntSchema(),
					"title":  {Type: "string"},
					"body":   {Type: "string"},
				},
				Required: []string{"number"},
			},
			"repository": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"full_name": requiredStringSchema(),
				},
				Required: []string{"full_name"},
			},
		},
		Required: []string{"action", "repository"},
	}
}

func issueEventSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"action": requiredStringSchema(),
			"issue": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"number": positiveIntSchema(),
					"title":  {Type: "string"},
					"body":   {Type: "string"},
				},
				Required: []string{"number"},
			},
			"repository": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"full_name": requiredStringSchema(),
				},
				Required: []string{"full_name"},
			},
		},
		Required: []string{"action", "repository"},
	}
}

func commentEventSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"action": requiredStringSchema(),
			"comment": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"body": {Type: "string"},
				},
				Required: []string{"body"},
			},
			"repository": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"full_name": requiredStringSchema(),
				},
				Required: []string{"full_name"},
			},
		},
		Required: []string{"action", "comment", "repository"},
	}
}

func pingEventSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

// EventSchemaFor returns the strict schema for one (platform, event)
// pair; ok is false for an event name the front end doesn't recognise.
func EventSchemaFor(platform, eventName string) (*jsonschema.Schema, bool) {
	switch eventName {
	case "pull_request", "merge_request":
		return pullRequestEventSchema(), true
	case "issues", "issue":
		return issueEventSchema(), true
	case "issue_comment", "note":
		return commentEventSchema(), true
	case "ping":
		return pingEventSchema(), true
	default:
		return nil, false
	}
}

// ValidateEvent parses raw as JSON and validates it against the schema
// for (platform, eventName), returning the decoded object on success.
// An unrecognised event name is accepted as an opaque object — routing
// decides whether to act on it.
func ValidateEvent(platform, eventName string, raw []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperrors.Wrap(apperrors.BadWebhookRequest, err, "invalid JSON payload")
	}

	schema, ok := EventSchemaFor(platform, eventName)
	if !ok {
		return payload, nil
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, err, "failed to resolve webhook schema")
	}
	if err := resolved.Validate(payload); err != nil {
		return nil, apperrors.Wrap(apperrors.BadWebhookRequest, err, fmt.Sprintf("payload failed schema validation for event %q", eventName))
	}
	return payload, nil
}
