package codec

import "encoding/json"

// JSONCodec encodes values via encoding/json. It is the only Codec
// implementation in this module.
type JSONCodec[T any] struct{}

// NewJSON returns a JSONCodec for T.
func NewJSON[T any]() JSONCodec[T] {
	return JSONCodec[T]{}
}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
