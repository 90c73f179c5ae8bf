package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs tagged with `validate` rules.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldType.Name, err)
		}
	}

	return nil
}

// validateField validates a single field against its comma-separated
// rules. An omitempty rule short-circuits the rest for zero values.
func (v *Validator) validateField(field reflect.Value, tag string) error {
	rules := strings.Split(tag, ",")

	for _, rule := range rules {
		name, arg, _ := strings.Cut(rule, "=")

		switch name {
		case "omitempty":
			if field.IsZero() {
				return nil
			}

		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "min":
			bound, err := strconv.Atoi(arg)
			if err != nil {
				continue
			}
			if n, ok := fieldSize(field); ok && n < int64(bound) {
				return fmt.Errorf("must be at least %d", bound)
			}

		case "max":
			bound, err := strconv.Atoi(arg)
			if err != nil {
				continue
			}
			if n, ok := fieldSize(field); ok && n > int64(bound) {
				return fmt.Errorf("must be at most %d", bound)
			}

		case "oneof":
			if field.Kind() != reflect.String {
				continue
			}
			value := field.String()
			allowed := strings.Fields(arg)
			found := false
			for _, a := range allowed {
				if value == a {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("must be one of %s", strings.Join(allowed, " "))
			}
		}
	}

	return nil
}

// fieldSize maps a field to the quantity min/max compare against:
// numeric value for numbers, length for strings and slices.
func fieldSize(field reflect.Value) (int64, bool) {
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return field.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(field.Uint()), true
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return int64(field.Len()), true
	default:
		return 0, false
	}
}
