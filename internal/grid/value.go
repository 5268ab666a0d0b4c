package grid

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Truthy reports whether v counts as true: nil, false, zero, NaN and the
// empty string are false; everything else is true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int32:
		return x != 0
	case int64:
		return x != 0
	case uint64:
		return x != 0
	case float32:
		return x != 0 && !math.IsNaN(float64(x))
	case float64:
		return x != 0 && !math.IsNaN(x)
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	default:
		return true
	}
}

// ToFloat converts numeric values and numeric strings to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, !math.IsNaN(x)
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case []string:
		if len(x) == 0 {
			return 0, false
		}
		return ToFloat(x[0])
	case []any:
		if len(x) == 0 {
			return 0, false
		}
		return ToFloat(x[0])
	default:
		return 0, false
	}
}

// ToInt converts v to an int, truncating fractional parts.
func ToInt(v any) (int, bool) {
	f, ok := ToFloat(v)
	if !ok || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Floor(f)), true
}

// ToStrings flattens a scalar or slice value into strings.
// nil yields an empty slice.
func ToStrings(v any) []string {
	switch x := v.(type) {
	case nil:
		return []string{}
	case string:
		return []string{x}
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if e == nil {
				continue
			}
			out = append(out, ToString(e))
		}
		return out
	default:
		return []string{ToString(x)}
	}
}

// ToString renders a scalar cell value the way it is shown in a cell.
func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

// ToTime converts time values, RFC 3339 strings and epoch milliseconds.
func ToTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t, true
		}
		if ms, err := strconv.ParseInt(x, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		return time.Time{}, false
	default:
		if f, ok := ToFloat(x); ok {
			return time.UnixMilli(int64(f)).UTC(), true
		}
		return time.Time{}, false
	}
}
