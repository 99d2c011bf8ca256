package model

import (
	"errors"
	"strings"
)

// ValidateID checks that id is non-empty and usable as a record key:
// no path separators, no "..", no leading dot.
func ValidateID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return errors.New("id is required and must be a non-empty string")
	}
	if trimmed != id {
		return errors.New("id must not have leading or trailing whitespace")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return errors.New("id must not contain path separators or '..'")
	}
	if strings.HasPrefix(id, ".") {
		return errors.New("id must not start with '.'")
	}
	return nil
}
