package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/hpbatch/internal/assets/schemas"
	"github.com/3leaps/hpbatch/pkg/period"
)

// SchemaID identifies the batch manifest schema.
const SchemaID = "hpbatch/v1.0.0/batch-manifest"

var (
	// ErrSchemaNotFound means the embedded schema is missing.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed is matched by every ValidationErrors value.
	ErrValidationFailed = errors.New("manifest validation failed")
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError is one problem found in a manifest.
type ValidationError struct {
	// Path is a JSON pointer such as "/paths/input_root".
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation failed"
	case 1:
		return e[0].Error()
	}
	lines := make([]string, 0, len(e)+1)
	lines = append(lines, fmt.Sprintf("manifest validation failed with %d errors:", len(e)))
	for _, ve := range e {
		lines = append(lines, "  - "+ve.Error())
	}
	return strings.Join(lines, "\n")
}

func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks an in-memory manifest against the schema and the period
// grammar. Unknown fields cannot be detected here; use ValidateRaw on the
// source document for that.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest for validation: %w", err)
	}
	return ValidateRaw(data)
}

// ValidateRaw checks a JSON document against the embedded schema, then
// parses every period entry. The schema cannot express range ordering or
// range length.
func ValidateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity != schema.SeverityError {
			continue
		}
		errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
	}
	if len(errs) > 0 {
		return errs
	}

	// Schema passed, so periods is a list of well-formed strings.
	var doc struct {
		Periods []string `json:"periods"`
	}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	for i, entry := range doc.Periods {
		if _, err := period.ParseRange(entry); err != nil {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("/periods/%d", i),
				Message: err.Error(),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.BatchManifestSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded batch-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.BatchManifestSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile manifest schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
