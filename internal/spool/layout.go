package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Spool subdirectories.
const (
	openDirName       = "open"
	pendingDirName    = "pending"
	quarantineDirName = "quarantine"
)

// File name suffixes.
const (
	openSuffix      = ".msgpack"
	committedSuffix = ".msgpack.zst"
)

type layout struct {
	open       string
	pending    string
	quarantine string
}

func newLayout(root string) layout {
	return layout{
		open:       filepath.Join(root, openDirName),
		pending:    filepath.Join(root, pendingDirName),
		quarantine: filepath.Join(root, quarantineDirName),
	}
}

func (l layout) ensure() error {
	for _, dir := range []string{l.open, l.pending, l.quarantine} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create spool dir %s: %w", dir, err)
		}
	}
	return nil
}

// listFiles returns the names in dir ending with suffix, sorted. File names
// start with a UUIDv7, so lexical order is creation order.
func listFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// batchID derives the stable batch identifier from a spool file name.
func batchID(name string) string {
	name = strings.TrimSuffix(name, committedSuffix)
	return strings.TrimSuffix(name, openSuffix)
}
