package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
)

// candidateSchema fixes the shape of analyzer output. Value ranges and the
// outcome enum are checked by Normalize so each failure keeps its own code.
const candidateSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["outcome", "reason", "confidence"],
	"properties": {
		"outcome": {"type": "string"},
		"reason": {"type": "string"},
		"rationale_reference": {"type": "string"},
		"rationale": {"type": "string"},
		"violated_rules": {"type": "array", "items": {"type": "string"}},
		"confidence": {"type": "number"}
	}
}`

const candidateSchemaURL = "https://schemas.mindburn.org/arbiter/candidate-verdict.schema.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(candidateSchemaURL, strings.NewReader(candidateSchema)); err != nil {
			compileErr = fmt.Errorf("normalize: load candidate schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(candidateSchemaURL)
	})
	return compiled, compileErr
}

// ParseCandidate decodes raw analyzer output. Anything that is not a JSON
// object of the expected shape is rejected with ErrCodeMalformedCandidate.
func ParseCandidate(raw []byte) (*contracts.CandidateVerdict, error) {
	sch, err := schema()
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Code: ErrCodeMalformedCandidate, Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if dec.More() {
		return nil, &ValidationError{Code: ErrCodeMalformedCandidate, Message: "trailing data after JSON value"}
	}
	if err := sch.Validate(doc); err != nil {
		return nil, &ValidationError{Code: ErrCodeMalformedCandidate, Message: fmt.Sprintf("schema validation failed: %v", err)}
	}

	var c contracts.CandidateVerdict
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, &ValidationError{Code: ErrCodeMalformedCandidate, Message: fmt.Sprintf("decode candidate: %v", err)}
	}
	return &c, nil
}
