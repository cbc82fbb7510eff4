package utils

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

func AnyToType[T any](input any) (T, error) {
	var zero T
	if input == nil {
		return zero, nil
	}

	if result, ok := input.(T); ok {
		return result, nil
	}

	targetType := reflect.TypeOf(zero)
	if targetType == nil {
		return zero, fmt.Errorf("type mismatch: expected %T, got %T", zero, input)
	}

	inputValue := reflect.ValueOf(input)

	if targetType == reflect.TypeOf([]any{}) && inputValue.Kind() == reflect.Slice {
		result := make([]any, inputValue.Len())
		for i := 0; i < inputValue.Len(); i++ {
			result[i] = inputValue.Index(i).Interface()
		}
		if converted, ok := any(result).(T); ok {
			return converted, nil
		}
	}

	if isNumericKind(inputValue.Kind()) && isNumericKind(targetType.Kind()) && inputValue.Type().ConvertibleTo(targetType) {
		converted := inputValue.Convert(targetType)
		if result, ok := converted.Interface().(T); ok {
			return result, nil
		}
	}

	return zero, fmt.Errorf("type mismatch: expected %T, got %T", zero, input)
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// ToInt64 accepts JSON numbers, Go integers and numeric strings.
func ToInt64(input any) (int64, error) {
	switch v := input.(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case json.Number:
		return v.Int64()
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case float32:
		if v != float32(int64(v)) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case bool:
		return 0, fmt.Errorf("type mismatch: expected integer, got bool")
	}
	return AnyToType[int64](input)
}

// ToFloat64 accepts JSON numbers, Go numerics and numeric strings.
func ToFloat64(input any) (float64, error) {
	switch v := input.(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case json.Number:
		return v.Float64()
	case bool:
		return 0, fmt.Errorf("type mismatch: expected number, got bool")
	}
	return AnyToType[float64](input)
}

// Stringify renders scalars the way they are stored in text tables.
func Stringify(input any) string {
	switch v := input.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", input)
}

// IsEmpty reports values a required rule treats as missing.
func IsEmpty(input any) bool {
	switch v := input.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	rv := reflect.ValueOf(input)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
