// Package parsers converts raw list payloads into typed domain records.
//
// Every parser reports failures as *domain.DecodeError, split in two kinds:
//   - InvalidJSON: the bytes are not JSON, or the top-level container is not
//     the one the list type expects (corrupted transfer, worth a re-fetch)
//   - TypeMismatch: valid JSON whose records do not match the schema
//     (version skew, not worth a re-fetch)
//
// Parsing is all-or-nothing: on error no partial list is returned.
package parsers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haukened/rr-lists/internal/lists/domain"
)

// validate classifies syntactically broken payloads up front, so every later
// decoding error can be attributed to the schema.
func validate(list domain.ListKey, payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return domain.NewDecodeError(list, domain.InvalidJSON, errors.New("empty payload"))
	}
	if !json.Valid(payload) {
		var v any
		err := json.Unmarshal(payload, &v)
		if err == nil {
			err = errors.New("malformed JSON")
		}
		return domain.NewDecodeError(list, domain.InvalidJSON, err)
	}
	return nil
}

// firstByte returns the first non-whitespace byte of a validated payload.
func firstByte(payload []byte) byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

// decodeArray splits a validated payload into its top-level elements.
// A non-array top level is an InvalidJSON error: the container is wrong.
func decodeArray(list domain.ListKey, payload []byte) ([]json.RawMessage, error) {
	if firstByte(payload) != '[' {
		return nil, domain.NewDecodeError(list, domain.InvalidJSON, errors.New("expected a JSON array"))
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(payload, &elems); err != nil {
		return nil, domain.NewDecodeError(list, domain.InvalidJSON, err)
	}
	return elems, nil
}

// decodeRecord unmarshals one element into dst, requiring a JSON object.
func decodeRecord(list domain.ListKey, index int, raw json.RawMessage, dst any) error {
	if firstByte(raw) != '{' {
		return schemaError(list, "record %d: expected an object", index)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.NewDecodeError(list, domain.TypeMismatch, fmt.Errorf("record %d: %w", index, err))
	}
	return nil
}

func schemaError(list domain.ListKey, format string, args ...any) error {
	return domain.NewDecodeError(list, domain.TypeMismatch, fmt.Errorf(format, args...))
}
