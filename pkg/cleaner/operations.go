// pkg/cleaner/operations.go
package cleaner

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// Cleaning operation names
const (
	OpNullToEmpty    = "null_to_empty"
	OpTrimWhitespace = "trim_whitespace"
	OpNumberToText   = "number_to_text"
	OpValueToText    = "value_to_text"
)

// nullValues are the textual spellings of a missing value seen in the API output.
// Words such as "None" are legitimate descriptions and stay as they are.
var nullValues = map[string]struct{}{
	"null": {},
	"nan":  {},
	"":     {},
}

// cleanValue turns a raw record value into the text stored in a row
func cleanValue(value interface{}, ctx model.CleaningContext) (string, *model.CleaningOperation) {
	if isNull(value) {
		if value == nil {
			return "", nil
		}
		if s, ok := value.(string); ok && s == "" {
			return "", nil
		}
		return "", newOperation(ctx, value, "", OpNullToEmpty)
	}

	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == v {
			return v, nil
		}
		if isNull(trimmed) {
			return "", newOperation(ctx, value, "", OpNullToEmpty)
		}
		return trimmed, newOperation(ctx, value, trimmed, OpTrimWhitespace)

	case json.Number, float64, float32, int, int64, int32:
		text := numberToText(v)
		return text, newOperation(ctx, value, text, OpNumberToText)

	default:
		text := strings.TrimSpace(toString(v))
		return text, newOperation(ctx, value, text, OpValueToText)
	}
}

// isNull determines if a value should be treated as missing
func isNull(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		_, ok := nullValues[strings.ToLower(v)]
		return ok
	case float64:
		return math.IsNaN(v)
	case float32:
		return math.IsNaN(float64(v))
	}
	return false
}

// numberToText renders numbers without exponent or trailing zeros
func numberToText(v interface{}) string {
	switch n := v.(type) {
	case json.Number:
		return n.String()
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// toString converts an interface to string
func toString(v interface{}) string {
	if v == nil {
		return ""
	}

	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		// Use Sprint as a fallback
		return fmt.Sprintf("%v", val)
	}
}

func newOperation(ctx model.CleaningContext, original interface{}, newValue, operation string) *model.CleaningOperation {
	return &model.CleaningOperation{
		PartitionID:       ctx.PartitionID,
		ColumnName:        ctx.ColumnName,
		OriginalValue:     original,
		NewValue:          newValue,
		RowIndex:          ctx.RowIndex,
		CleaningOperation: operation,
	}
}
