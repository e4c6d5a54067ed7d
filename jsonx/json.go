// Package jsonx is the single JSON codec used for persisted blocks, RPC
// payloads and sink rows.
package jsonx

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

// MarshalString is Marshal for log lines; errors collapse into an empty object.
func MarshalString(v interface{}) string {
	s, err := api.MarshalToString(v)
	if err != nil {
		return "{}"
	}
	return s
}

func NewDecoder(r io.Reader) *jsoniter.Decoder {
	return api.NewDecoder(r)
}

func NewEncoder(w io.Writer) *jsoniter.Encoder {
	return api.NewEncoder(w)
}

func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}
