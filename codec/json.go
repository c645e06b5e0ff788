package codec

import (
	"bytes"
	"encoding/json"
)

// NewJsonCodec builds the strict JSON codec: unknown fields in incoming
// data are decode errors.
func NewJsonCodec[T any]() Codec[T] {
	return Codec[T]{encode: JsonEncode[T], decode: JsonDecode[T], tag: "json"}
}

func JsonEncode[T any](value T) ([]byte, error) {
	return json.Marshal(value)
}

func JsonDecode[T any](data []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(&v)
	return v, err
}
