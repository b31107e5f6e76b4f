package config

import (
	"fmt"
	"reflect"
	"strings"
)

// RequiredFields fails when any of the dotted field paths holds its zero value
func RequiredFields(paths ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		var missing []string
		for _, path := range paths {
			v, err := lookupField(config, path)
			if err != nil {
				return err
			}
			if v.IsZero() || (isCollection(v) && v.Len() == 0) {
				missing = append(missing, path)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("required fields are missing: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// RangeValidator fails when a numeric field lies outside [min, max]
func RangeValidator(path string, min, max float64) Validator {
	return fieldValidator(path, func(v reflect.Value) error {
		n, ok := numeric(v)
		if !ok {
			return fmt.Errorf("field %s is not numeric", path)
		}
		if n < min || n > max {
			return fmt.Errorf("field %s value %g is out of range [%g, %g]", path, n, min, max)
		}
		return nil
	})
}

// OneOfValidator fails unless the field equals one of allowed
func OneOfValidator(path string, allowed ...interface{}) Validator {
	return fieldValidator(path, func(v reflect.Value) error {
		got := v.Interface()
		for _, a := range allowed {
			if reflect.DeepEqual(got, a) {
				return nil
			}
		}
		return fmt.Errorf("field %s value %v is not one of allowed values: %v", path, got, allowed)
	})
}

func fieldValidator(path string, check func(reflect.Value) error) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, err := lookupField(config, path)
		if err != nil {
			return err
		}
		return check(v)
	})
}

// lookupField walks a dotted Go field path such as "Invoker.Breaker.Threshold",
// following pointers on the way
func lookupField(config interface{}, path string) (reflect.Value, error) {
	v := reflect.ValueOf(config)
	for _, name := range strings.Split(path, ".") {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, fmt.Errorf("field %s not found: nil pointer before %s", path, name)
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field %s not found: %s is not inside a struct", path, name)
		}
		v = v.FieldByName(name)
		if !v.IsValid() {
			return reflect.Value{}, fmt.Errorf("field %s not found", path)
		}
	}
	return v, nil
}

func isCollection(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return true
	}
	return false
}

func numeric(v reflect.Value) (float64, bool) {
	switch {
	case v.CanInt():
		return float64(v.Int()), true
	case v.CanUint():
		return float64(v.Uint()), true
	case v.CanFloat():
		return v.Float(), true
	}
	return 0, false
}
