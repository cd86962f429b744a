package collyfetcher

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodingTransport decompresses response bodies itself because the browser
// profile sets Accept-Encoding, which disables net/http's transparent gzip.
type decodingTransport struct {
	base http.RoundTripper
}

func newDecodingTransport(base http.RoundTripper) *decodingTransport {
	if base == nil {
		base = newHTTPTransport()
	}
	return &decodingTransport{base: base}
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err //nolint:wrapcheck // RoundTripper errors must pass through unchanged
	}
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if encoding == "" || encoding == "identity" {
		return resp, nil
	}
	if req.Method == http.MethodHead || resp.ContentLength == 0 || resp.Body == http.NoBody {
		markDecoded(resp)
		return resp, nil
	}
	body, err := decodeBody(encoding, resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	resp.Body = body
	markDecoded(resp)
	return resp, nil
}

func markDecoded(resp *http.Response) {
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
}

func decodeBody(encoding string, raw io.ReadCloser) (io.ReadCloser, error) {
	switch encoding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("decode gzip body: %w", err)
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, raw}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(raw), closers: []io.Closer{raw}}, nil
	case "deflate":
		buffered := bufio.NewReader(raw)
		header, err := buffered.Peek(2)
		if err != nil {
			return nil, fmt.Errorf("decode deflate body: %w", err)
		}
		if isZlibHeader(header) {
			zr, err := zlib.NewReader(buffered)
			if err != nil {
				return nil, fmt.Errorf("decode zlib body: %w", err)
			}
			return &decodedBody{Reader: zr, closers: []io.Closer{zr, raw}}, nil
		}
		fr := flate.NewReader(buffered)
		return &decodedBody{Reader: fr, closers: []io.Closer{fr, raw}}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

func isZlibHeader(b []byte) bool {
	return len(b) == 2 && b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (b *decodedBody) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
