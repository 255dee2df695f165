package metadata

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FieldError describes one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate checks a request body against the entity's field definitions.
// With partial=false (create) missing required fields are errors; with
// partial=true (update) absent fields are ignored. Unknown fields and writes
// to read-only fields are always rejected.
func Validate(e *Entity, fields map[string]any, partial bool) []FieldError {
	var errs []FieldError

	for name, value := range fields {
		def, ok := e.Field(name)
		if !ok {
			errs = append(errs, FieldError{Field: name, Message: "unknown field"})
			continue
		}
		if def.ReadOnly {
			errs = append(errs, FieldError{Field: name, Message: "field is read-only"})
			continue
		}
		if value == nil {
			if def.Required {
				errs = append(errs, FieldError{Field: name, Message: "required field cannot be null"})
			}
			continue
		}
		if msg := checkType(def, value); msg != "" {
			errs = append(errs, FieldError{Field: name, Message: msg})
		}
	}

	if !partial {
		for _, def := range e.Fields {
			if !def.Required {
				continue
			}
			v, present := fields[def.Name]
			if !present {
				errs = append(errs, FieldError{Field: def.Name, Message: "required field is missing"})
				continue
			}
			if s, ok := v.(string); ok && s == "" {
				errs = append(errs, FieldError{Field: def.Name, Message: "required field cannot be empty"})
			}
		}
	}

	return errs
}

func checkType(def *Field, value any) string {
	switch def.Type {
	case TypeString:
		if _, ok := value.(string); !ok {
			return "must be a string"
		}
	case TypeNumber:
		switch value.(type) {
		case float64, int, int64:
		default:
			return "must be a number"
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return "must be a boolean"
		}
	case TypeDatetime:
		s, ok := value.(string)
		if !ok {
			return "must be an RFC 3339 timestamp"
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return "must be an RFC 3339 timestamp"
		}
	case TypeID:
		s, ok := value.(string)
		if !ok {
			return "must be a record id"
		}
		if _, err := uuid.Parse(s); err != nil {
			return "must be a record id"
		}
	case TypeEnum:
		s, ok := value.(string)
		if !ok {
			return "must be a string"
		}
		for _, allowed := range def.EnumValues {
			if s == allowed {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %v", def.EnumValues)
	}
	return ""
}
