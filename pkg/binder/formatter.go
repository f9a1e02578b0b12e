package binder

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/shelfsync/pkg/models"
)

const (
	feed     = "feed"
	mx       = "max"
	mn       = "min"
	oneof    = "oneof"
	required = "required"
)

func formatUnmarshalTypeError(err *json.UnmarshalTypeError) string {
	return fmt.Sprintf("%q should be of type %s", strings.Trim(err.Field, "."), err.Type)
}

func formatSchemaConversionError(err schema.ConversionError) string {
	return fmt.Sprintf("%q should be of type %s", err.Key, err.Type)
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()

	switch err.Tag() {
	case feed:
		return fmt.Sprintf("%q must be one of the following: %q, %q", field, models.FeedMetadata, models.FeedFiles)
	case mx:
		return formatBound(field, "less", err.Kind(), err.Param())
	case mn:
		return formatBound(field, "greater", err.Kind(), err.Param())
	case oneof:
		quoted := make([]string, 0)
		for _, p := range strings.Fields(err.Param()) {
			quoted = append(quoted, fmt.Sprintf("%q", p))
		}
		return fmt.Sprintf("%q must be one of the following: %s", field, strings.Join(quoted, ", "))
	case required:
		return fmt.Sprintf("%q is required", field)
	default:
		return fmt.Sprintf("%q is invalid", field)
	}
}

// formatBound renders a min or max failure. Numbers are compared by value,
// slices by element count and everything else by character count.
func formatBound(field, direction string, kind reflect.Kind, param string) string {
	var unit string
	//exhaustive:ignore
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%q must be %s than or equal to %s", field, direction, param)
	case reflect.Slice:
		unit = "element"
	default:
		unit = "character"
	}
	if param != "1" {
		unit += "s"
	}
	return fmt.Sprintf("%q length must be %s than or equal to %s %s", field, direction, param, unit)
}
