package variables

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/roach88/gridsync/internal/grid"
)

// variablePattern matches ${name}, ${name:format}, [[name]] and $name.
var variablePattern = regexp.MustCompile(`\$\{(\w+)(?::(\w+))?\}|\[\[(\w+)\]\]|\$(\w+)`)

// Interpolate substitutes variable references in text with their current
// values. Unknown variables are left untouched. Multi-value variables are
// joined with commas unless a format is given:
//
//	${name:csv}        a,b
//	${name:sqlstring}  'a','b'
//	${name:json}       ["a","b"]
func Interpolate(s Store, text string) string {
	if !strings.ContainsAny(text, "$[") {
		return text
	}
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := variablePattern.FindStringSubmatch(match)
		name, format := groups[1], groups[2]
		if name == "" {
			name = groups[3]
		}
		if name == "" {
			name = groups[4]
		}
		value, ok := Lookup(s, name)
		if !ok {
			return match
		}
		return formatValue(value, format)
	})
}

func formatValue(value any, format string) string {
	values := grid.ToStrings(value)
	switch format {
	case "sqlstring", "singlequote":
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		return strings.Join(quoted, ",")
	case "json":
		var target any = values
		if _, multi := value.([]string); !multi {
			if _, multi = value.([]any); !multi && len(values) == 1 {
				target = values[0]
			}
		}
		data, err := json.Marshal(target)
		if err != nil {
			return strings.Join(values, ",")
		}
		return string(data)
	default:
		return strings.Join(values, ",")
	}
}
