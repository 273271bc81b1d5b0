package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/txq/internal/ir"
)

// marshalStrings stores a string list as canonical JSON. nil and empty
// lists both store as "[]".
func marshalStrings(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := ir.MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(data), nil
}

// unmarshalStrings returns nil for an empty list so round-tripped
// transactions compare equal to ones built without slices.
func unmarshalStrings(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("unmarshal list: %w", err)
	}
	return list, nil
}

func marshalDocument(doc map[string]any) (string, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

// unmarshalDocument decodes numbers as json.Number to keep integers exact
// and the document hashable.
func unmarshalDocument(data string) (map[string]any, error) {
	doc := map[string]any{}
	if data == "" || data == "{}" {
		return doc, nil
	}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}
