package models

import (
	"encoding/json"
	"reflect"
	"strings"
)

// serverManaged columns are filled in by the remote store and never sent
// as null.
var serverManaged = map[string]bool{
	"updated_at": true,
	"created_at": true,
}

// MarshalFull encodes v like json.Marshal, except that optional pointer
// fields left nil are written as explicit nulls. Upserts and patches built
// from it clear those columns remotely instead of leaving the old value.
func MarshalFull(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return data, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return data, nil
	}

	var nulls []string
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() || f.Type.Kind() != reflect.Ptr {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" || !strings.Contains(opts, "omitempty") {
			continue
		}
		if serverManaged[name] || !rv.Field(i).IsNil() {
			continue
		}
		nulls = append(nulls, name)
	}
	if len(nulls) == 0 {
		return data, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for _, name := range nulls {
		fields[name] = json.RawMessage("null")
	}
	return json.Marshal(fields)
}
