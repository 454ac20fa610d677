package store

import "database/sql"

// QueryMaps runs a query and returns each row as a column->value map.
// SQLite's loose typing plus the JSON-first CLI output make maps the
// natural row representation here, mirroring dict-shaped rows in the
// wire format.
func (s *Store) QueryMaps(query string, args ...any) ([]map[string]any, error) {
	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMaps(rows)
}

// QueryMap runs a query expected to return at most one row. Returns
// nil, nil when no row matches.
func (s *Store) QueryMap(query string, args ...any) (map[string]any, error) {
	maps, err := s.QueryMaps(query, args...)
	if err != nil {
		return nil, err
	}
	if len(maps) == 0 {
		return nil, nil
	}
	return maps[0], nil
}

func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			m[c] = v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Str reads a string column out of a row map, "" for NULL or missing.
func Str(row map[string]any, col string) string {
	if row == nil {
		return ""
	}
	if v, ok := row[col].(string); ok {
		return v
	}
	return ""
}

// Int reads an integer column out of a row map, 0 for NULL or missing.
func Int(row map[string]any, col string) int64 {
	if row == nil {
		return 0
	}
	switch v := row[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
