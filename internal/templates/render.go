package templates

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"slices"
	"strconv"
)

var placeholderRE = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Rendered is a template with its variables substituted.
type Rendered struct {
	System string
	User   string
	// Unresolved lists placeholders left verbatim because no variable was
	// supplied, in order of first appearance.
	Unresolved []string
}

// Render substitutes {{key}} placeholders in text. Strings and scalars are
// formatted plainly; maps, slices and structs are JSON-encoded. Placeholders
// without a value are left as they are and returned. Substituted values are
// never rescanned.
func Render(text string, vars map[string]any) (string, []string) {
	var unresolved []string
	seen := make(map[string]bool)

	out := placeholderRE.ReplaceAllStringFunc(text, func(match string) string {
		key := placeholderRE.FindStringSubmatch(match)[1]
		v, ok := vars[key]
		if !ok {
			if !seen[key] {
				seen[key] = true
				unresolved = append(unresolved, key)
			}
			return match
		}
		return stringify(v)
	})
	return out, unresolved
}

// RenderTemplate renders both prompt parts of t and logs unresolved
// placeholders.
func RenderTemplate(t *Template, vars map[string]any) Rendered {
	system, unresolvedSys := Render(t.System, vars)
	user, unresolvedUser := Render(t.User, vars)

	unresolved := unresolvedSys
	for _, k := range unresolvedUser {
		if !slices.Contains(unresolved, k) {
			unresolved = append(unresolved, k)
		}
	}
	for _, k := range t.RequiredVars {
		if _, ok := vars[k]; !ok && !slices.Contains(unresolved, k) {
			unresolved = append(unresolved, k)
		}
	}

	if len(unresolved) > 0 {
		provided := make([]string, 0, len(vars))
		for k := range vars {
			provided = append(provided, k)
		}
		slog.Default().With("component", "templates").Warn("template has unsubstituted variables",
			"template", t.Name,
			"remaining_variables", unresolved,
			"provided_variables", provided)
	}

	return Rendered{System: system, User: user, Unresolved: unresolved}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.RawMessage:
		return string(x)
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}
