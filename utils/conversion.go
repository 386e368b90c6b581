package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func ToString(value interface{}, def string) string {
	switch v := value.(type) {
	case nil:
		return def
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return strconv.FormatInt(v.UnixMilli(), 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func ToInt64(value interface{}, def int64) int64 {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float32:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func ToFloat64(value interface{}, def float64) float64 {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func ToBool(value interface{}, def bool) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func ToTime(value interface{}, def time.Time) time.Time {
	if t, err := ParseTime(value); err == nil {
		return t
	}
	return def
}

// ParseTime converts a timestamp column value, reporting values that do not
// carry a timestamp instead of coercing them. Integers and floats are unix
// milliseconds, strings are unix milliseconds or RFC3339.
func ParseTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case int64:
		return time.UnixMilli(v), nil
	case int:
		return time.UnixMilli(int64(v)), nil
	case float64:
		return time.UnixMilli(int64(v)), nil
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(i), nil
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp", v)
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to a timestamp", value)
}

// JoinKeyString serializes an ordered entity key tuple into the single
// string the online store daos key records by.
func JoinKeyString(values []interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = ToString(v, "")
	}
	return strings.Join(parts, ":")
}
