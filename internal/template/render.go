// Package template renders {{dot.path}} placeholders against a nested
// context. Render is total: whatever goes wrong, the caller always gets a
// string back, falling back to the raw template text.
package template

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

var placeholderExpr = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Render substitutes {{path.to.value}} placeholders in tmpl with values
// looked up in ctx. Placeholders that cannot be resolved are left as-is.
// Render never panics and never returns an error; on any internal failure
// the unmodified template is returned.
func Render(tmpl string, ctx map[string]any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = tmpl
		}
	}()
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholderExpr.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := placeholderExpr.FindStringSubmatch(m)
		if len(sub) != 2 {
			return m
		}
		v, ok := lookup(ctx, strings.Split(sub[1], "."))
		if !ok {
			return m
		}
		return stringify(v)
	})
}

// Unresolved returns the placeholder paths in tmpl that ctx cannot
// satisfy. Diagnostic only; Render does not use it.
func Unresolved(tmpl string, ctx map[string]any) []string {
	var missing []string
	for _, sub := range placeholderExpr.FindAllStringSubmatch(tmpl, -1) {
		if _, ok := lookup(ctx, strings.Split(sub[1], ".")); !ok {
			missing = append(missing, sub[1])
		}
	}
	return missing
}

func lookup(root any, path []string) (any, bool) {
	cur := root
	for _, key := range path {
		if cur == nil {
			return nil, false
		}
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, false
			}
			cur = next
		default:
			next, ok := field(reflect.ValueOf(cur), key)
			if !ok {
				return nil, false
			}
			cur = next
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// field resolves key against structs (by json tag or field name) and
// string-keyed maps via reflection.
func field(v reflect.Value, key string) (any, bool) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := v.MapIndex(reflect.ValueOf(key))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			tag := strings.Split(f.Tag.Get("json"), ",")[0]
			if tag == key || strings.EqualFold(f.Name, key) {
				return v.Field(i).Interface(), true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case float64:
		// JSON numbers decode as float64; print integers without a
		// trailing ".0".
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(v)
	}
}
