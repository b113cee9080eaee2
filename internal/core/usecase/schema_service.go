package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/asofdb/asof/internal/core/domain"
)

// Validator holds a collection's compiled JSON schema. A nil inner schema
// accepts everything, for collections declared without one.
type Validator struct {
	schema *santhosh.Schema
}

// NewValidator compiles schemaJSON (Draft 7) once at construction. An empty
// document yields a pass-everything validator.
func NewValidator(schemaJSON json.RawMessage) (*Validator, error) {
	if len(schemaJSON) == 0 {
		return &Validator{}, nil
	}
	if !json.Valid(schemaJSON) {
		return nil, errors.New("schema must be valid json")
	}
	compiled, err := compileSchema(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks data against the schema. Returns *domain.ErrSchemaViolation
// with one message per failing cause.
func (v *Validator) Validate(data json.RawMessage) error {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return &domain.ErrSchemaViolation{Errors: []string{"payload must be valid json"}}
	}
	if v.schema == nil {
		return nil
	}
	if err := v.schema.Validate(decoded); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &domain.ErrSchemaViolation{Errors: collectValidationErrors(ve)}
		}
		return &domain.ErrSchemaViolation{Errors: []string{err.Error()}}
	}
	return nil
}

func compileSchema(schemaJSON json.RawMessage) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
