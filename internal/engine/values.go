package engine

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// outNamesOrIndexed returns the OUT parameter names, filling in positional
// names when the caller sent fewer names than out_count.
func outNamesOrIndexed(names []string, count int) []string {
	out := make([]string, count)
	for i := 0; i < count; i++ {
		if i < len(names) && names[i] != "" {
			out[i] = names[i]
		} else {
			out[i] = fmt.Sprintf("out%d", i)
		}
	}
	return out
}

// normalizeSQLValue flattens driver scan types into JSON-friendly values.
// MySQL session variables arrive as byte slices; pgx hands numerics back
// as pgtype.Numeric.
func normalizeSQLValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if iv, err := val.Int64Value(); err == nil && iv.Valid {
			return iv.Int64
		}
		if fv, err := val.Float64Value(); err == nil && fv.Valid {
			return fv.Float64
		}
		return nil
	default:
		return v
	}
}
