package query

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"statesync/internal/model"
)

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
)

// Reflect derives a schema from the exported fields of struct type T, named
// by their json tags. Embedded structs, including Meta, are skipped; the
// metadata fields are always part of the schema. Fields of unsupported
// types are left out. Pointer fields are nullable and []string fields read
// as their comma-joined elements.
func Reflect[T model.Record[T]]() (*Schema[T], error) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("reflect schema: %s is not a struct", rt)
	}

	var fields []Field[T]
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		name := jsonName(sf)
		if name == "" {
			continue
		}
		f, ok := reflectField[T](name, sf)
		if !ok {
			continue
		}
		fields = append(fields, f)
	}
	return NewSchema(fields...)
}

func jsonName(sf reflect.StructField) string {
	tag, ok := sf.Tag.Lookup("json")
	if !ok {
		return sf.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	switch name {
	case "-":
		return ""
	case "":
		return sf.Name
	}
	return name
}

func reflectField[T any](name string, sf reflect.StructField) (Field[T], bool) {
	typ := sf.Type
	nullable := false
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
		nullable = true
	}
	kind, read, ok := reflectKind(typ)
	if !ok {
		return Field[T]{}, false
	}
	index := sf.Index
	get := func(v T) Value {
		fv := reflect.ValueOf(v).FieldByIndex(index)
		if nullable {
			if fv.IsNil() {
				return Null
			}
			fv = fv.Elem()
		}
		return Of(read(fv))
	}
	return NewField(name, kind, nullable, get), true
}

func reflectKind(typ reflect.Type) (Kind, func(reflect.Value) any, bool) {
	switch {
	case typ == timeType:
		return KindTime, func(v reflect.Value) any { return v.Interface().(time.Time) }, true
	case typ == durationType:
		return KindDuration, func(v reflect.Value) any { return time.Duration(v.Int()) }, true
	}
	switch typ.Kind() {
	case reflect.String:
		return KindString, func(v reflect.Value) any { return v.String() }, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return KindInt, func(v reflect.Value) any { return v.Int() }, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return KindInt, func(v reflect.Value) any { return int64(v.Uint()) }, true
	case reflect.Float32, reflect.Float64:
		return KindFloat, func(v reflect.Value) any { return v.Float() }, true
	case reflect.Bool:
		return KindBool, func(v reflect.Value) any { return v.Bool() }, true
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.String {
			return KindString, func(v reflect.Value) any {
				parts := make([]string, v.Len())
				for i := range parts {
					parts[i] = v.Index(i).String()
				}
				return strings.Join(parts, ",")
			}, true
		}
	}
	return 0, nil, false
}
