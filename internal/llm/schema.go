package llm

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed review.schema.json
var reviewSchemaJSON string

var reviewSchema = gojsonschema.NewStringLoader(reviewSchemaJSON)

// FieldError is a single schema violation at a specific field.
type FieldError struct {
	Field   string
	Message string
}

// SchemaError lists the schema violations of a synthesis response.
type SchemaError struct {
	Errors []FieldError
}

func (e *SchemaError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return "schema validation failed: " + strings.Join(msgs, "; ")
}

// ValidateReviewJSON checks a synthesis response against the review schema.
func ValidateReviewJSON(body string) error {
	result, err := gojsonschema.Validate(reviewSchema, gojsonschema.NewStringLoader(body))
	if err != nil {
		return fmt.Errorf("loading review JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}

	schemaErr := &SchemaError{Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		schemaErr.Errors = append(schemaErr.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return schemaErr
}
