package rewrite

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedEncoding is returned by Decode for a Content-Encoding it cannot undo.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// ErrBodyTooLarge is returned by ReadText when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("body exceeds rewrite limit")

// CanDecode reports whether Decode understands the given Content-Encoding.
func CanDecode(encoding string) bool {
	switch normalizeEncoding(encoding) {
	case "", "identity", "gzip", "x-gzip", "deflate", "br", "zstd":
		return true
	}
	return false
}

// Decode wraps body so that reads return the decoded bytes. Closing the
// returned reader releases the decoder but does not close body.
func Decode(body io.Reader, encoding string) (io.ReadCloser, error) {
	switch normalizeEncoding(encoding) {
	case "", "identity":
		return io.NopCloser(body), nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case "deflate":
		zr, err := zlib.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return zr, nil
	case "br":
		return io.NopCloser(brotli.NewReader(body)), nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

// ReadText decodes body and reads it fully. limit <= 0 means unlimited.
func ReadText(body io.Reader, encoding string, limit int64) (string, error) {
	dr, err := Decode(body, encoding)
	if err != nil {
		return "", err
	}
	defer func() { _ = dr.Close() }()

	var r io.Reader = dr
	if limit > 0 {
		r = io.LimitReader(dr, limit+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return "", fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return string(data), nil
}

// normalizeEncoding lower-cases and trims a Content-Encoding value. Stacked
// encodings ("gzip, br") are returned as-is and rejected by the callers.
func normalizeEncoding(encoding string) string {
	return strings.ToLower(strings.TrimSpace(encoding))
}
