package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrFieldTooLong indicates a string that does not fit its fixed-width field with a terminator.
var ErrFieldTooLong = errors.New("protocol: string exceeds field width")

// PutString writes s into dst followed by zero padding up to len(dst).
//
// The value must leave room for at least one NUL terminator and must not
// contain NUL itself.
func PutString(dst []byte, s string) error {
	if len(s) >= len(dst) {
		return fmt.Errorf("%w: %d bytes in %d-byte field", ErrFieldTooLong, len(s), len(dst))
	}
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return fmt.Errorf("%w: embedded NUL", ErrMalformedPayload)
	}
	n := copy(dst, s)
	clear(dst[n:])
	return nil
}

// GetString reads a fixed-width string field. Bytes after the first NUL are
// ignored; a field with no NUL is returned whole.
func GetString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

// EncodeName returns a NameSize field holding name.
func EncodeName(name string) ([]byte, error) {
	buf := make([]byte, NameSize)
	if err := PutString(buf, name); err != nil {
		return nil, err
	}
	return buf, nil
}
