package httpapi

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request payloads are validated against JSON Schemas before decoding so a
// malformed extension build cannot corrupt the store.

const tagRequestSchema = `{
	"type": "object",
	"required": ["emailData", "taggedPeople", "note"],
	"properties": {
		"emailData": {
			"type": "object",
			"properties": {
				"subject":   {"type": "string"},
				"body":      {"type": "string"},
				"from":      {"type": "string"},
				"to":        {"type": ["string", "null"]},
				"timestamp": {"type": "integer"}
			}
		},
		"taggedPeople": {
			"type": "array",
			"items": {"type": "string"}
		},
		"note":      {"type": "string"},
		"requester": {"type": "string"}
	}
}`

const messageRequestSchema = `{
	"type": "object",
	"required": ["message"],
	"properties": {
		"message": {
			"type": "object",
			"required": ["text", "author"],
			"properties": {
				"id":        {"type": "string"},
				"text":      {"type": "string", "minLength": 1},
				"author":    {"type": "string", "minLength": 1},
				"timestamp": {"type": "integer"}
			}
		}
	}
}`

const suggestionRequestSchema = `{
	"type": "object",
	"required": ["suggestion", "author"],
	"properties": {
		"suggestion": {"type": "string", "minLength": 1},
		"author":     {"type": "string", "minLength": 1}
	}
}`

type requestValidator struct {
	tag        *jsonschema.Schema
	message    *jsonschema.Schema
	suggestion *jsonschema.Schema
}

func newRequestValidator() *requestValidator {
	return &requestValidator{
		tag:        mustCompileSchema("tag-request.json", tagRequestSchema),
		message:    mustCompileSchema("message-request.json", messageRequestSchema),
		suggestion: mustCompileSchema("suggestion-request.json", suggestionRequestSchema),
	}
}

func mustCompileSchema(name, source string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return sch
}

func (v *requestValidator) validateTagRequest(body []byte) error {
	return validateAgainst(v.tag, body)
}

func (v *requestValidator) validateMessageRequest(body []byte) error {
	return validateAgainst(v.message, body)
}

func (v *requestValidator) validateSuggestionRequest(body []byte) error {
	return validateAgainst(v.suggestion, body)
}

func validateAgainst(sch *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return err
	}
	return sch.Validate(inst)
}
