package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps blobs as flat files under one directory, the default
// backend for single-host installs.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads dir: %w", err)
	}
	return &DiskStore{dir: abs}, nil
}

// validName rejects anything that could escape the flat directory. Storage
// names are generated internally, so a violation here is a programming
// error upstream, not user input.
func (d *DiskStore) path(storageName string) (string, error) {
	if storageName == "" ||
		strings.ContainsAny(storageName, "/\\") ||
		strings.Contains(storageName, "..") ||
		strings.ContainsRune(storageName, '\x00') {
		return "", fmt.Errorf("invalid storage name %q", storageName)
	}
	return filepath.Join(d.dir, storageName), nil
}

func (d *DiskStore) Put(ctx context.Context, storageName string, r io.Reader) (int64, error) {
	path, err := d.path(storageName)
	if err != nil {
		return 0, err
	}
	tmp := path + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open blob: %w", err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("publish blob: %w", err)
	}
	return n, nil
}

func (d *DiskStore) Open(ctx context.Context, storageName string) (io.ReadCloser, error) {
	path, err := d.path(storageName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (d *DiskStore) Delete(ctx context.Context, storageName string) error {
	path, err := d.path(storageName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (d *DiskStore) Exists(ctx context.Context, storageName string) (bool, error) {
	path, err := d.path(storageName)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
