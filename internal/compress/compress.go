package compress

import (
	"errors"
	"fmt"
	"io"
)

// MaxBlobSize bounds the bytes of one stored blob, before compression.
const MaxBlobSize = 1 << 30

var (
	ErrUnknownCodec = errors.New("unknown compression codec")
	ErrTooLarge     = errors.New("blob exceeds the maximum size")
)

// Compress encodes and decodes stored bytes.
type Compress interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// ByName returns the codec recorded with a stored value.
func ByName(name string) (Compress, error) {
	switch name {
	case "", "nop":
		return NewNop(), nil
	case "gzip":
		return NewGZip(), nil
	case "brotli":
		return NewBrotli(), nil
	case "lz4":
		return NewLZ4(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
}

func checkSize(n int) error {
	if n > MaxBlobSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	return nil
}

// readLimited reads r to the end, failing once more than limit bytes
// were produced.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes decoded", ErrTooLarge, limit)
	}
	return data, nil
}
