// File path: internal/engine/eval/compare.go
package eval

import (
	"fmt"
	"strings"
	"time"
)

// CompareValues imposes a total order on arbitrary values: nil sorts before
// everything, then numbers by magnitude, then timestamps (time.Time or
// ISO-8601-like strings) by epoch millisecond, then everything else by
// case-insensitive string comparison. Mixed kinds order by that ranking so
// the relation stays transitive. Timestamp strings differing only in
// precision compare equal when their parsed instants coincide.
func CompareValues(a, b interface{}) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNil:
		return 0
	case rankNumber:
		na, _ := Numeric(a)
		nb, _ := Numeric(b)
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	case rankTimestamp:
		ta, _ := timestamp(a)
		tb, _ := timestamp(b)
		am, bm := ta.UnixMilli(), tb.UnixMilli()
		switch {
		case am < bm:
			return -1
		case am > bm:
			return 1
		default:
			return 0
		}
	default:
		sa := strings.ToLower(stringify(a))
		sb := strings.ToLower(stringify(b))
		return strings.Compare(sa, sb)
	}
}

const (
	rankNil = iota
	rankNumber
	rankTimestamp
	rankString
)

func kindRank(v interface{}) int {
	if v == nil {
		return rankNil
	}
	if _, ok := Numeric(v); ok {
		return rankNumber
	}
	if _, ok := timestamp(v); ok {
		return rankTimestamp
	}
	return rankString
}

// Numeric coerces a value to float64 when it carries a numeric type.
func Numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timestamp coerces time.Time values and ISO-8601-like strings.
func timestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		if !looksLikeTimestamp(t) {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// looksLikeTimestamp is a cheap prefilter: dddd-dd-dd.
func looksLikeTimestamp(s string) bool {
	if len(s) < 10 {
		return false
	}
	for i := 0; i < 10; i++ {
		c := s[i]
		if i == 4 || i == 7 {
			if c != '-' {
				return false
			}
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
