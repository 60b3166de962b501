// Package validator provides JSON schema validation for workflow payloads.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates workflow create and update payloads.
type Validator struct {
	workflowSchema *jsonschema.Schema
	updateSchema   *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	// Register the workflow schema
	if err := compiler.AddResource("workflow.json", strings.NewReader(workflowSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add workflow schema: %w", err)
	}

	// Register the update schema
	if err := compiler.AddResource("workflow-update.json", strings.NewReader(workflowUpdateSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add workflow update schema: %w", err)
	}

	workflowSchema, err := compiler.Compile("workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	updateSchema, err := compiler.Compile("workflow-update.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow update schema: %w", err)
	}

	return &Validator{
		workflowSchema: workflowSchema,
		updateSchema:   updateSchema,
	}, nil
}

// ValidateWorkflow validates a workflow create payload.
// Edges referencing unknown agents are deliberately not rejected here; the
// resolver drops dangling edges at execution time.
func (v *Validator) ValidateWorkflow(payload map[string]interface{}) *ValidationResult {
	return v.validate(v.workflowSchema, payload)
}

// ValidateWorkflowUpdate validates a partial workflow update payload.
func (v *Validator) ValidateWorkflowUpdate(payload map[string]interface{}) *ValidationResult {
	return v.validate(v.updateSchema, payload)
}

// ValidateWorkflowJSON validates a JSON-encoded workflow create payload.
func (v *Validator) ValidateWorkflowJSON(data []byte) *ValidationResult {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidateWorkflow(payload)
}

// ValidateWorkflowUpdateJSON validates a JSON-encoded workflow update payload.
func (v *Validator) ValidateWorkflowUpdateJSON(data []byte) *ValidationResult {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidateWorkflowUpdate(payload)
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}

	// Convert validation errors
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{
			{Path: "$", Message: err.Error()},
		}
	}

	return result
}

// extractErrors recursively extracts validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	if verr.Message != "" {
		errors = append(errors, ValidationError{
			Path:    verr.InstanceLocation,
			Message: verr.Message,
		})
	}

	for _, cause := range verr.Causes {
		errors = append(errors, extractErrors(cause)...)
	}

	return errors
}

// Embedded JSON schemas

const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "workflow.json",
  "title": "Workflow",
  "description": "Schema for workflow create payloads",
  "type": "object",
  "required": ["name"],
  "properties": {
    "id": {
      "type": "string",
      "description": "Optional workflow identifier"
    },
    "name": {
      "type": "string",
      "minLength": 1,
      "description": "Human-readable workflow name"
    },
    "description": {
      "type": "string",
      "description": "Workflow description"
    },
    "agents": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {
            "type": "string",
            "pattern": "^[a-zA-Z][a-zA-Z0-9_-]*$",
            "description": "Node identifier, unique within the workflow"
          },
          "type": {
            "type": "string",
            "minLength": 1,
            "description": "Registered agent type"
          },
          "name": {
            "type": "string",
            "description": "Display name, defaults to the node id"
          },
          "description": {
            "type": "string",
            "description": "Node description"
          },
          "config": {
            "type": "object",
            "description": "Agent-specific configuration"
          },
          "position": {
            "type": "object",
            "properties": {
              "x": {"type": "number"},
              "y": {"type": "number"}
            },
            "description": "Editor canvas position"
          }
        }
      },
      "description": "Agent nodes in declaration order"
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "source": {
            "type": "string",
            "description": "Source node ID"
          },
          "target": {
            "type": "string",
            "description": "Target node ID"
          },
          "data_mapping": {
            "type": "object",
            "additionalProperties": {"type": "string"},
            "description": "Output-to-input field mapping, persisted only"
          }
        }
      },
      "description": "Directed dependency edges"
    },
    "created_by": {
      "type": "string",
      "description": "Creator identifier"
    }
  }
}`

const workflowUpdateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "workflow-update.json",
  "title": "Workflow Update",
  "description": "Schema for partial workflow update payloads",
  "type": "object",
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1,
      "description": "Human-readable workflow name"
    },
    "description": {
      "type": "string",
      "description": "Workflow description"
    },
    "agents": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {
            "type": "string",
            "pattern": "^[a-zA-Z][a-zA-Z0-9_-]*$"
          },
          "type": {
            "type": "string",
            "minLength": 1
          },
          "name": {"type": "string"},
          "description": {"type": "string"},
          "config": {"type": "object"},
          "position": {
            "type": "object",
            "properties": {
              "x": {"type": "number"},
              "y": {"type": "number"}
            }
          }
        }
      },
      "description": "Replacement agent list"
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "source": {"type": "string"},
          "target": {"type": "string"},
          "data_mapping": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        }
      },
      "description": "Replacement edge list"
    }
  }
}`
