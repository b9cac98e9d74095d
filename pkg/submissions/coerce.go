package submissions

import (
	"fmt"
	"reflect"
)

// AnyToType converts a decoded JSON value to the requested Go type. Direct
// assertions are tried first, then element-wise slice conversion (JSON
// arrays decode as []any) and numeric kind conversion.
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
		// T is an interface type, the assertion above was the only option.
		return zero, fmt.Errorf("type mismatch: expected %T, got %T", zero, input)
	}

	inputValue := reflect.ValueOf(input)

	if targetType.Kind() == reflect.Slice && inputValue.Kind() == reflect.Slice {
		converted, err := convertSlice(inputValue, targetType)
		if err != nil {
			return zero, err
		}
		if result, ok := converted.(T); ok {
			return result, nil
		}
	}

	// Numeric kinds only, so int never becomes a rune string.
	if isNumericKind(inputValue.Kind()) && isNumericKind(targetType.Kind()) && inputValue.Type().ConvertibleTo(targetType) {
		if result, ok := inputValue.Convert(targetType).Interface().(T); ok {
			return result, nil
		}
	}

	return zero, fmt.Errorf("type mismatch: expected %T, got %T", zero, input)
}

func convertSlice(input reflect.Value, targetType reflect.Type) (any, error) {
	elemType := targetType.Elem()
	result := reflect.MakeSlice(targetType, input.Len(), input.Len())

	for i := 0; i < input.Len(); i++ {
		element := reflect.ValueOf(input.Index(i).Interface())
		switch {
		case !element.IsValid():
			return nil, fmt.Errorf("slice element %d is nil", i)
		case element.Type() == elemType || (elemType.Kind() == reflect.Interface && element.Type().Implements(elemType)):
			result.Index(i).Set(element)
		case isNumericKind(element.Kind()) && isNumericKind(elemType.Kind()) && element.Type().ConvertibleTo(elemType):
			result.Index(i).Set(element.Convert(elemType))
		default:
			return nil, fmt.Errorf("slice element %d: expected %s, got %T", i, elemType, input.Index(i).Interface())
		}
	}

	return result.Interface(), nil
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
