package loader

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Registered formats for the default decoder.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

var (
	// ErrDecode marks bodies that are not a decodable image.
	ErrDecode = errors.New("loader: image decode failed")

	// ErrTimeout is the failure recorded when a load exceeds Options.Timeout.
	ErrTimeout = errors.New("loader: load timed out")
)

// DecodeError reports a body that could not be decoded. It matches
// ErrDecode with errors.Is.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Image is a decoded image together with the bytes it came from.
type Image struct {
	Data   []byte
	Img    image.Image
	Format string // as reported by the decoder, e.g. "png"
}

// Decoder turns a response body into an image.
type Decoder interface {
	Decode(data []byte) (image.Image, string, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(data []byte) (image.Image, string, error)

func (f DecoderFunc) Decode(data []byte) (image.Image, string, error) { return f(data) }

// DefaultDecoder decodes any format registered with the image package.
// png, jpeg and gif are always registered.
var DefaultDecoder Decoder = DecoderFunc(func(data []byte) (image.Image, string, error) {
	return image.Decode(bytes.NewReader(data))
})
