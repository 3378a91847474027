package querysql

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/roach88/potluck/internal/shape"
)

// Dialect selects placeholder syntax and value encoding for a backend.
type Dialect int

const (
	// SQLite uses ? placeholders and stores lists as JSON text.
	SQLite Dialect = iota
	// Postgres uses $n placeholders and native TEXT[] lists.
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// DriverName returns the database/sql driver name.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite3"
}

// ParseDialect maps a config string to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	default:
		return 0, fmt.Errorf("unknown dialect %q", s)
	}
}

// Placeholder returns the placeholder for the n-th parameter (1-based).
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Bind converts a normalized shape value into a driver parameter.
func (d Dialect) Bind(k shape.Kind, v any) (any, error) {
	if k != shape.KindTextList {
		return v, nil
	}
	list, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("bind %s: got %T", k, v)
	}
	if list == nil {
		list = []string{}
	}
	if d == Postgres {
		return pq.Array(list), nil
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", k, err)
	}
	return string(data), nil
}

// sqliteTimeLayouts are the layouts SQLite uses for timestamps stored as
// text, as accepted by go-sqlite3.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Decode converts a scanned driver value back into its shape kind. Text is
// always returned as string, ints as int64, lists as []string.
func (d Dialect) Decode(k shape.Kind, v any) (any, error) {
	if b, ok := v.([]byte); ok && k != shape.KindTextList {
		v = string(b)
	}
	if v == nil {
		return nil, nil
	}

	switch k {
	case shape.KindInt:
		if n, ok := v.(int); ok {
			return int64(n), nil
		}
		return v, nil
	case shape.KindBool:
		if n, ok := v.(int64); ok {
			return n != 0, nil
		}
		return v, nil
	case shape.KindTime:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		for _, layout := range sqliteTimeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("decode %s: unrecognized time %q", k, s)
	case shape.KindTextList:
	default:
		return v, nil
	}

	if d == Postgres {
		var arr pq.StringArray
		if err := arr.Scan(v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		if arr == nil {
			return []string{}, nil
		}
		return []string(arr), nil
	}

	var raw string
	switch t := v.(type) {
	case string:
		raw = t
	case []byte:
		raw = string(t)
	default:
		return nil, fmt.Errorf("decode %s: got %T", k, v)
	}
	list := []string{}
	if raw == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k, err)
	}
	return list, nil
}
