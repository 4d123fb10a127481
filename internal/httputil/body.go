// Package httputil holds small HTTP helpers shared by the API handlers,
// the middleware and the backend client.
package httputil

import (
	"errors"
	"fmt"
	"io"
)

// ErrBodyTooLarge is returned by ReadAllStrict when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("body too large")

// ReadAllWithLimit reads at most limit bytes and reports whether the body
// was longer.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		return nil, false, fmt.Errorf("invalid read limit %d", limit)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads the whole body and fails if it exceeds limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, limit)
	}
	return data, nil
}
