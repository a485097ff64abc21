// Package layout materializes decoded source bundles as on-disk file trees,
// one directory per contract address.
package layout

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/pendergraft/contrapull/internal/sources"
	"github.com/pendergraft/contrapull/internal/validation"
)

const (
	// RawFileName is the audit artifact holding the verbatim explorer response.
	RawFileName = "raw.json"
	// ImplementationDir nests a resolved proxy implementation under its proxy.
	ImplementationDir = "implementation"
)

// Writer writes contract source trees under a base output directory. Writes
// are idempotent: rerunning overwrites files in place without error.
type Writer struct {
	baseDir string
}

// NewWriter creates a Writer rooted at baseDir
func NewWriter(baseDir string) *Writer {
	return &Writer{baseDir: baseDir}
}

// BaseDir returns the root output directory
func (w *Writer) BaseDir() string {
	return w.baseDir
}

// AddressDir returns the output directory for an address. Addresses are
// lowercased so casing variants share one tree.
func (w *Writer) AddressDir(address string) string {
	return filepath.Join(w.baseDir, validation.NormalizeAddress(address))
}

// WriteContract writes the audit artifact and decoded bundle for an address.
func (w *Writer) WriteContract(address string, bundle sources.Bundle, raw []byte) error {
	return w.writeTree(w.AddressDir(address), bundle, raw)
}

// WriteImplementation writes a resolved implementation's audit artifact and
// bundle under the proxy address's implementation subdirectory.
func (w *Writer) WriteImplementation(proxyAddress string, bundle sources.Bundle, raw []byte) error {
	return w.writeTree(filepath.Join(w.AddressDir(proxyAddress), ImplementationDir), bundle, raw)
}

func (w *Writer) writeTree(dir string, bundle sources.Bundle, raw []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// The audit artifact is written for every bundle variant, decoded files
	// or not, before anything that could still fail.
	if err := os.WriteFile(filepath.Join(dir, RawFileName), raw, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", RawFileName, err)
	}

	// Validate every bundle path before writing any of them.
	paths := make([]string, 0, len(bundle.Files))
	for p := range bundle.Files {
		if err := validation.ValidateRelPath(p); err != nil {
			return fmt.Errorf("rejecting bundle path %q: %w", p, err)
		}
		if path.Clean(p) == RawFileName {
			return fmt.Errorf("rejecting bundle path %q: collides with the audit artifact", p)
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		target := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
		if err := os.WriteFile(target, []byte(bundle.Files[p]), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
	}

	return nil
}
