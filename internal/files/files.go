// Package files is the blob-store boundary. The services hand it
// already-validated content under generated unique names; it never inspects
// file contents.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a stored reference does not resolve.
var ErrNotFound = errors.New("files: not found")

// Store saves and serves opaque blobs by reference.
type Store interface {
	// Save writes the blob and returns its stored reference. suggestedName
	// only contributes its extension; the reference itself is generated and
	// globally unique, so concurrent uploads never collide.
	Save(ctx context.Context, suggestedName string, r io.Reader) (string, error)
	// Open returns the blob for a previously returned reference.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Remove deletes a blob. Missing blobs are not an error.
	Remove(ctx context.Context, ref string) error
}

// Disk stores blobs as flat files under a root directory.
type Disk struct {
	root string
}

// NewDisk creates the root directory if needed.
func NewDisk(root string) (*Disk, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("files: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("files: create root: %w", err)
	}
	return &Disk{root: root}, nil
}

func (d *Disk) Save(ctx context.Context, suggestedName string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(suggestedName))
	ref := uuid.NewString() + ext
	f, err := os.OpenFile(filepath.Join(d.root, ref), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("files: create blob: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("files: write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("files: close blob: %w", err)
	}
	return ref, nil
}

func (d *Disk) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if !validRef(ref) {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(d.root, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (d *Disk) Remove(ctx context.Context, ref string) error {
	if !validRef(ref) {
		return nil
	}
	err := os.Remove(filepath.Join(d.root, ref))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// validRef rejects anything that could escape the root directory. Generated
// references are a uuid plus extension, so a single path element.
func validRef(ref string) bool {
	if ref == "" || ref == "." || ref == ".." {
		return false
	}
	if strings.ContainsAny(ref, `/\`) {
		return false
	}
	return true
}
