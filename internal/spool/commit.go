package spool

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"eventtracker/internal/event"
)

// zstdDec is a package-level decoder, concurrent-safe, used for reads.
var zstdDec *zstd.Decoder

func init() {
	var err error
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("zstd: init decoder: " + err.Error())
	}
}

// commitFile seals an open buffer file into dstDir: the raw msgpack stream
// is compressed into a temp file, synced, and renamed into place. The source
// is removed only after the rename succeeds, so a failure leaves it where it
// was for the next attempt.
func commitFile(src, dstDir string) (string, error) {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return "", err
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(dstDir, ".commit-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		cleanup()
		return "", err
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		cleanup()
		return "", err
	}
	if err := enc.Close(); err != nil {
		cleanup()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}

	name := batchID(filepath.Base(src)) + committedSuffix
	dst := filepath.Join(dstDir, name)
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := os.Remove(src); err != nil {
		return dst, fmt.Errorf("remove committed buffer: %w", err)
	}
	return dst, nil
}

// readCommitted decodes every event in a committed spool file.
func readCommitted(path string) ([]event.Event, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	raw, err := zstdDec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return event.DecodeAll(bytes.NewReader(raw))
}
