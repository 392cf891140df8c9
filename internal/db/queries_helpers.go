package db

import "encoding/json"

func nullStr(s string) any {
	if s == "" || s == "null" {
		return nil
	}
	return s
}

// nullJSON marshals v, storing NULL for nil pointers.
func nullJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return nullStr(string(b)), nil
}

// scanJSON decodes a nullable JSON column into dst.
func scanJSON(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
