// Package scratch manages per-operation temporary workspaces.
//
// Every media operation runs inside a Scope: a uniquely named directory
// under the system temp root that is removed when the scope closes,
// regardless of how the operation ended. Downloader cache directories are
// also allocated here so concurrent invocations never share cache state.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// dirPrefix namespaces all scratch directories so the janitor can identify
// orphans left behind by a crashed process.
const dirPrefix = "clipforge-"

// Scope is an isolated temporary directory tied to one operation.
// Close removes the directory and everything under it.
type Scope struct {
	root   string
	closed bool
}

// NewScope creates a scratch directory for the named operation.
// The directory name embeds the operation and a short unique suffix,
// e.g. clipforge-concat-1f3a9c2e.
func NewScope(operation string) (*Scope, error) {
	suffix := uuid.NewString()[:8]
	dir := filepath.Join(os.TempDir(), fmt.Sprintf("%s%s-%s", dirPrefix, operation, suffix))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	return &Scope{root: dir}, nil
}

// Dir returns the scope's root directory.
func (s *Scope) Dir() string {
	return s.root
}

// Path joins the given elements onto the scope's root.
func (s *Scope) Path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

// Subdir creates and returns a subdirectory inside the scope.
func (s *Scope) Subdir(name string) (string, error) {
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating scratch subdir %q: %w", name, err)
	}
	return dir, nil
}

// CacheDir creates an isolated downloader cache directory inside the scope.
// Each call returns a distinct directory.
func (s *Scope) CacheDir() (string, error) {
	return s.Subdir("cache-" + uuid.NewString()[:8])
}

// Close removes the scope directory and all its contents.
// It is safe to call more than once.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("removing scratch dir %s: %w", s.root, err)
	}
	return nil
}
