package sqlitestore

import "encoding/json"

// encodeJSON marshals v to its text column representation. Generic in the
// same spirit as kodelet's JSONField[T] DB column wrapper, collapsed here
// to a pair of free functions since every caller already holds a concrete
// Go value rather than needing a sql.Scanner/Valuer pair.
func encodeJSON[T any](v T) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeJSON unmarshals a text column into T, treating an empty column as
// the zero value rather than an error.
func decodeJSON[T any](s string) (T, error) {
	var v T
	if s == "" {
		return v, nil
	}
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
