package ingest

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// maxBodyBytes caps the decompressed size of one request.
const maxBodyBytes = 10 << 20 // 10 MB

// errBodyTooLarge is returned when the decompressed body exceeds the cap.
var errBodyTooLarge = errors.New("request body too large")

// zstdDec is a concurrent-safe zstd decoder shared by all requests.
var zstdDec *zstd.Decoder

func init() {
	var err error
	zstdDec, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(maxBodyBytes),
	)
	if err != nil {
		panic("ingest: init zstd decoder: " + err.Error())
	}
}

// readBody reads and decompresses a request body according to its
// Content-Encoding (gzip, zstd, identity), enforcing limit on the
// decompressed size.
func readBody(body io.Reader, contentEncoding string, limit int64) ([]byte, error) {
	var r io.Reader
	switch contentEncoding {
	case "zstd":
		compressed, err := readLimited(body, limit)
		if err != nil {
			return nil, err
		}
		data, err := zstdDec.DecodeAll(compressed, nil)
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, errBodyTooLarge
		}
		if err != nil {
			return nil, fmt.Errorf("decompress zstd body: %w", err)
		}
		if int64(len(data)) > limit {
			return nil, errBodyTooLarge
		}
		return data, nil

	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("open gzip reader: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz

	case "", "identity":
		r = body

	default:
		return nil, fmt.Errorf("unsupported Content-Encoding: %q", contentEncoding)
	}
	return readLimited(r, limit)
}

// readLimited reads r fully, failing if it holds more than limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}
