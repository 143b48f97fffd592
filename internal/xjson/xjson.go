// Package xjson is the single JSON import site of the module.
package xjson

import (
	stdjson "encoding/json"

	gjson "github.com/goccy/go-json"
)

// RawMessage is kept compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage

func Marshal(v any) ([]byte, error) {
	return gjson.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return gjson.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return gjson.Unmarshal(data, v)
}

// Convert re-encodes src into dst. It is used to turn loosely typed node
// configuration maps into typed config structs.
func Convert(src any, dst any) error {
	data, err := gjson.Marshal(src)
	if err != nil {
		return err
	}
	return gjson.Unmarshal(data, dst)
}
