// Package jsoncodec centralises JSON handling for events, notifications and
// the stats endpoint so the whole module shares one sonic configuration.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// std keeps encoding/json compatible output (sorted map keys, escaped HTML)
// so payloads published to other services stay byte-stable.
var std = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

// Valid reports whether data is a syntactically valid JSON document.
func Valid(data []byte) bool {
	return std.Valid(data)
}

// Encode writes v to w followed by a newline.
func Encode(w io.Writer, v any) error {
	return std.NewEncoder(w).Encode(v)
}
