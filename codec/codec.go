// Package codec converts between typed job payloads and the opaque bytes
// a Store persists. The store itself takes and returns payloads as []byte
// and never calls a Codec: a producer encodes with a Codec before Push or
// Schedule, and a handler decodes job.Payload itself.
package codec

// Codec encodes a value of T to bytes for storage and decodes it back.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}
