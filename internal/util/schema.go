package util

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationError reports a keyword argument that failed schema validation.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// FieldSpec describes one declared parameter of an effect or tool.
type FieldSpec struct {
	Name     string
	Type     string
	Required bool
	Default  any
}

// FieldsFromStruct derives parameter specs from a Go struct using reflection.
// Field names honor json tags; omitempty and pointer fields become optional.
func FieldsFromStruct(structType any) []FieldSpec {
	t := reflect.TypeOf(structType)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	specs := make([]FieldSpec, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		if jsonTag != "" {
			if head := strings.Split(jsonTag, ",")[0]; head != "" {
				name = head
			}
		}

		specs = append(specs, FieldSpec{
			Name:     name,
			Type:     JSONType(field.Type),
			Required: !hasOmitEmpty(jsonTag) && field.Type.Kind() != reflect.Ptr,
		})
	}
	return specs
}

// ValidateArgs type-checks keyword arguments against declared specs. Extra
// keys are allowed; missing required keys and type mismatches fail with a
// *ValidationError naming the field.
func ValidateArgs(args map[string]any, specs []FieldSpec) error {
	byName := make(map[string]FieldSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
		if s.Required {
			if _, exists := args[s.Name]; !exists {
				return &ValidationError{Field: s.Name, Message: "required field is missing"}
			}
		}
	}

	for name, value := range args {
		spec, declared := byName[name]
		if !declared {
			continue
		}
		if !matchesType(value, spec.Type) {
			return &ValidationError{
				Field:   name,
				Value:   value,
				Message: fmt.Sprintf("expected type %s, got %T", spec.Type, value),
			}
		}
	}
	return nil
}

// JSONType returns the JSON schema type name for a Go type.
func JSONType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return JSONType(t.Elem())
	default:
		return "string"
	}
}

func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

// matchesType checks a value against a JSON schema type name. Untyped and
// nil values always pass; JSON decoding yields float64 for every number, so
// integers accept whole floats.
func matchesType(value any, expectedType string) bool {
	if value == nil || expectedType == "" {
		return true
	}

	switch expectedType {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		k := reflect.TypeOf(value).Kind()
		return k == reflect.Slice || k == reflect.Array
	case "object":
		k := reflect.TypeOf(value).Kind()
		return k == reflect.Map || k == reflect.Struct
	default:
		return true
	}
}
