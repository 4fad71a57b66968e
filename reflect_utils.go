package statefile

import (
	"reflect"
	"strings"
)

// ResolveStructKey applies the repository-wide rule to resolve a struct field's
// wire key.
// Priority: statefile:"name" > json tag name > field name; "-" disables the field.
func ResolveStructKey(sf reflect.StructField) string {
	if st := sf.Tag.Get("statefile"); st != "" {
		name, _ := splitTag(st)
		if name != "" {
			return name
		}
	}
	if jt := sf.Tag.Get("json"); jt != "" {
		if jt == "-" {
			return "-"
		}
		if i := strings.IndexByte(jt, ','); i >= 0 {
			if jt[:i] != "" {
				return jt[:i]
			}
			return sf.Name
		}
		return jt
	}
	return sf.Name
}

// hasTagOption reports whether the statefile tag carries opt (e.g. "group").
func hasTagOption(sf reflect.StructField, opt string) bool {
	_, opts := splitTag(sf.Tag.Get("statefile"))
	for _, o := range opts {
		if o == opt {
			return true
		}
	}
	return false
}

func splitTag(tag string) (string, []string) {
	if tag == "" {
		return "", nil
	}
	parts := strings.Split(tag, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts[0], parts[1:]
}

// typeName renders t for error hints.
func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
