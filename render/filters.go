package render

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"text/template"
	"time"
)

// builtinFilters returns the filter registry every Renderer starts with.
// Filters are pure functions. Pipe arguments arrive before the piped
// value, so `{{ .x | default "fallback" }}` calls default("fallback", x).
func builtinFilters() template.FuncMap {
	return template.FuncMap{
		"length":   filterLength,
		"default":  filterDefault,
		"upper":    strings.ToUpper,
		"lower":    strings.ToLower,
		"tojson":   filterToJSON,
		"truncate": filterTruncate,
		"date":     filterDate,
		"now":      time.Now,
	}
}

// filterLength reports the element count of strings, slices and maps,
// zero for anything else.
func filterLength(v interface{}) int {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len()
	default:
		return 0
	}
}

// filterDefault substitutes def when the piped value is empty: nil, an
// empty string, or a zero-length collection.
func filterDefault(def, v interface{}) interface{} {
	if v == nil {
		return def
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		if rv.Len() == 0 {
			return def
		}
	}
	return v
}

// filterToJSON renders any value as compact JSON. Marshal failures render
// as an empty object rather than failing the prompt.
func filterToJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// filterTruncate cuts a string to at most n runes, appending an ellipsis
// when anything was removed.
func filterTruncate(n int, v interface{}) string {
	s := toString(v)
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// filterDate formats a time with a Go layout: `{{ now | date "2006-01-02" }}`.
func filterDate(layout string, v interface{}) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format(layout)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.Format(layout)
	default:
		return ""
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}
