package httputil

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/enverbisevac/distlock/timeutil"
)

// resolveValues iterates over string values to resolve a slice value on the field
func resolveValues(field reflect.Value, values []string) error {
	s := reflect.MakeSlice(field.Type(), len(values), len(values))
	for i, value := range values {
		if err := resolveValue(s.Index(i), value); err != nil {
			return err
		}
	}
	field.Set(s)
	return nil
}

// resolveValue converts value to the field type and stores it
func resolveValue(field reflect.Value, value string) error {
	if field.Kind() == reflect.Pointer {
		ptr := reflect.New(field.Type().Elem())
		if err := resolveValue(ptr.Elem(), value); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}

	switch field.Interface().(type) {
	case time.Time:
		t, err := timeutil.DefaultParserFunc(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(t))
		return nil
	case time.Duration:
		d, err := timeutil.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(value))
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("unsupported type: %v", field.Type())
	}
	return nil
}
