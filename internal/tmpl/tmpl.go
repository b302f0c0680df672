// Package tmpl renders notification message templates: UTF-8 text with
// "{{ident}}" placeholders resolved against a match's variables map.
// Unlike text/template, an unresolved placeholder is preserved
// literally rather than erroring, so a typo in a template config
// produces a visibly wrong (but delivered) message instead of a
// permanently-failing notification.
package tmpl

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// Result is the outcome of a render: the rendered text plus the list of
// placeholders that had no matching variable (spec §4.5: "unknown
// placeholders are preserved literally and emit a warning").
type Result struct {
	Text    string
	Missing []string
}

// Render substitutes every "{{ident}}" occurrence in source with the
// stringified value from vars. Idents not present in vars are left
// untouched in the output and reported in Result.Missing.
func Render(source string, vars map[string]string) Result {
	var missing []string
	seen := map[string]struct{}{}

	out := placeholder.ReplaceAllStringFunc(source, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			missing = append(missing, name)
		}
		return match
	})

	return Result{Text: out, Missing: missing}
}

// PrettyJSON renders v as indented JSON, for templates that want to
// embed the full decoded-args or variables map rather than a single
// scalar. Falls back to fmt.Sprint on marshal failure so a template
// helper never itself becomes the cause of a permanent send failure.
func PrettyJSON(v any) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}

// ShortAddr truncates a long hex address to "0xabcd...ef01" for
// human-readable messages, leaving short strings untouched.
func ShortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// FlattenVariables converts a match's decoded args and computed scalar
// fields into the string-keyed map Render expects, JSON-encoding any
// non-scalar value so it still substitutes into a template rather than
// silently dropping.
func FlattenVariables(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch t := v.(type) {
		case string:
			out[k] = t
		case fmt.Stringer:
			out[k] = t.String()
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(t)
			if err != nil {
				out[k] = fmt.Sprint(t)
				continue
			}
			out[k] = strings.Trim(string(b), `"`)
		}
	}
	return out
}
