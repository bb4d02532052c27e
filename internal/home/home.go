// Package home resolves where an eventtracker instance keeps its state.
//
//	<root>/
//	  node_id        UUIDv7 stamped on every event as the node_id attr
//	  config.yaml    optional, read when --config is not given
//	  spool/         open/, pending/ and quarantine/ (see package spool)
package home

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	appName        = "eventtracker"
	nodeIDFile     = "node_id"
	configFileName = "config.yaml"
	spoolDirName   = "spool"
)

// Dir is the root of one instance's state.
type Dir struct {
	root string
}

// New returns a Dir rooted at root.
func New(root string) Dir {
	return Dir{root: root}
}

// Default places the root under the user's config directory
// (for example ~/.config/eventtracker on Linux).
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return New(filepath.Join(base, appName)), nil
}

func (d Dir) Root() string       { return d.root }
func (d Dir) ConfigPath() string { return filepath.Join(d.root, configFileName) }
func (d Dir) SpoolDir() string   { return filepath.Join(d.root, spoolDirName) }

// EnsureExists creates the root and its parents.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}

// NodeID returns this instance's identity, creating it on first use.
// A missing, empty or unparsable node_id file is replaced by a fresh UUIDv7.
func (d Dir) NodeID() (string, error) {
	p := filepath.Join(d.root, nodeIDFile)

	data, err := os.ReadFile(p) //nolint:gosec // G304: path is root + constant
	switch {
	case err == nil:
		if id, perr := uuid.Parse(strings.TrimSpace(string(data))); perr == nil {
			return id.String(), nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("read %s: %w", nodeIDFile, err)
	}

	id := uuid.Must(uuid.NewV7()).String()
	if err := d.EnsureExists(); err != nil {
		return "", err
	}
	if err := writeAtomic(p, []byte(id+"\n")); err != nil {
		return "", fmt.Errorf("write %s: %w", nodeIDFile, err)
	}
	return id, nil
}

// writeAtomic replaces path with data so readers never see a partial file.
func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o640); err != nil { //nolint:gosec // G302: node id is not secret
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
