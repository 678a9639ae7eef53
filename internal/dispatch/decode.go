package dispatch

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// decompressDownstreamBody wraps a downstream reply body in the decoder
// named by its Content-Encoding header, so the translation layer always
// sees plain JSON/SSE bytes. Multi-token encoding lists use the first
// recognized token; identity and unknown tokens pass the body through.
func decompressDownstreamBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	if body == nil {
		return nil, fmt.Errorf("downstream body is nil")
	}
	for _, token := range strings.Split(contentEncoding, ",") {
		wrap, ok := decoders[strings.TrimSpace(strings.ToLower(token))]
		if !ok {
			continue
		}
		decoded, err := wrap(body)
		if err != nil {
			_ = body.Close()
			return nil, err
		}
		return decoded, nil
	}
	return body, nil
}

var decoders = map[string]func(io.ReadCloser) (io.ReadCloser, error){
	"gzip": func(body io.ReadCloser) (io.ReadCloser, error) {
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip decoder: %w", err)
		}
		return newDecodedBody(zr, zr.Close, body.Close), nil
	},
	"deflate": func(body io.ReadCloser) (io.ReadCloser, error) {
		fr := flate.NewReader(body)
		return newDecodedBody(fr, fr.Close, body.Close), nil
	},
	"br": func(body io.ReadCloser) (io.ReadCloser, error) {
		return newDecodedBody(brotli.NewReader(body), body.Close), nil
	},
	"zstd": func(body io.ReadCloser) (io.ReadCloser, error) {
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		rc := zr.IOReadCloser()
		return newDecodedBody(rc, rc.Close, body.Close), nil
	},
}

// decodedBody pairs a decoder's reader with the close functions for both
// the decoder and the underlying network body.
type decodedBody struct {
	io.Reader
	closeFns []func() error
}

func newDecodedBody(r io.Reader, closeFns ...func() error) *decodedBody {
	return &decodedBody{Reader: r, closeFns: closeFns}
}

func (d *decodedBody) Close() error {
	var firstErr error
	for _, closeFn := range d.closeFns {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
