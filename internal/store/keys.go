package store

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/farant/smaragda/internal/smerr"
)

// NormalizeJSONValue converts an attribute or parameter value to a
// validated JSON string for storage in a tessella payload column.
// Accepts string, []byte, or json.RawMessage (adapted from the
// teacher's internal/storage/metadata.go NormalizeMetadataValue, which
// did the same for issue metadata updates).
func NormalizeJSONValue(value interface{}) (string, error) {
	var jsonStr string

	switch v := value.(type) {
	case string:
		jsonStr = v
	case []byte:
		jsonStr = string(v)
	case json.RawMessage:
		jsonStr = string(v)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("value is not JSON-encodable: %w", err)
		}
		jsonStr = string(encoded)
	}

	if !json.Valid([]byte(jsonStr)) {
		return "", fmt.Errorf("value is not valid JSON")
	}

	return jsonStr, nil
}

// validKeyRe validates attribute/parameter/meta key names. Keys must
// start with a letter or underscore and contain only alphanumeric
// characters, underscores, and dots (dots allow nested paths like
// "contact.email" for feature-field keys).
var validKeyRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// ValidateKey checks that an attribute, parameter, or meta key is
// well-formed, returning a KernelError of kind smerr.ErrUnknownAttribute
// when it is not.
func ValidateKey(key string) error {
	if !validKeyRe.MatchString(key) {
		return smerr.Newf(smerr.ErrUnknownAttribute, "invalid key %q: must match [a-zA-Z_][a-zA-Z0-9_.]*", key)
	}
	return nil
}
