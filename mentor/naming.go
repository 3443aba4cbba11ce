package mentor

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// EntityName derives the resource name of T: the plural of its snake_cased
// type name, so ChatThread becomes "chat_threads".
func EntityName[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := t.Name()
	// generic instantiations report "Page[mentor.Student]"
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return inflection.Plural(toSnake(name))
}

// toSnake converts an identifier to snake_case. Acronyms stay together
// ("HTTPServer" becomes "http_server") and any punctuation collapses into a
// single underscore.
func toSnake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	gap := false
	sep := func() {
		if !gap && b.Len() > 0 {
			b.WriteByte('_')
			gap = true
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					sep()
				}
			}
			b.WriteRune(unicode.ToLower(r))
			gap = false
		case unicode.IsLower(r):
			b.WriteRune(r)
			gap = false
		case unicode.IsDigit(r):
			if i > 0 && unicode.IsLetter(runes[i-1]) {
				sep()
			}
			b.WriteRune(r)
			gap = false
		default:
			sep()
		}
	}
	return strings.Trim(b.String(), "_")
}

// extractID reads the ID field of a record. Pointers are followed; records
// without an integer ID report false.
func extractID(record any) (int64, bool) {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return 0, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0, false
	}

	for _, name := range []string{"ID", "Id"} {
		field := v.FieldByName(name)
		if !field.IsValid() {
			continue
		}
		switch field.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return field.Int(), field.Int() != 0
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(field.Uint()), field.Uint() != 0
		}
	}
	return 0, false
}
