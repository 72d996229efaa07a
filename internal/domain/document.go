// Package domain document.go validates the caller-supplied key and document.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidateKey rejects an empty record key and keys that cannot be addressed
// as a clean URL path: an empty, "." or ".." segment between slashes.
func ValidateKey(key string) error {
	if key == "" {
		return invalid("key", "key cannot be empty")
	}
	for seg := range strings.SplitSeq(key, "/") {
		switch seg {
		case "", ".", "..":
			return invalid("key", `key cannot contain empty, "." or ".." path segments`)
		}
	}
	return nil
}

// ValidateDocument rejects an empty document or one that is not well-formed JSON.
func ValidateDocument(doc string) error {
	if doc == "" {
		return invalid("document", "document cannot be empty")
	}
	if json.Valid([]byte(doc)) {
		return nil
	}
	// Decoding into a RawMessage only runs the syntax scanner, which reports
	// the offending offset.
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return invalid("document", fmt.Sprintf("invalid JSON format: %v", err))
	}
	return invalid("document", "invalid JSON format")
}

// ValidateStore applies the write-path checks in order: key, then document.
func ValidateStore(key, doc string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	return ValidateDocument(doc)
}
