package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileRef points at one downloadable file
type FileRef struct {
	Name string // bare file name, the catalog key
	Path string
	Size int64
}

// Catalog maps bare file names to files. It is built once at startup and
// never mutated, so it needs no locking.
//
// Names carry no directory. When two scanned directories hold the same
// name, the last one scanned wins.
type Catalog struct {
	files map[string]FileRef
	names []string // scan order, first appearance of each name
}

// NewCatalog builds a catalog from explicit entries, applying the same
// last-write-wins rule as a directory scan
func NewCatalog(refs ...FileRef) *Catalog {
	c := &Catalog{files: make(map[string]FileRef, len(refs))}
	for _, ref := range refs {
		c.add(ref)
	}
	return c
}

func (c *Catalog) add(ref FileRef) (replaced bool) {
	if _, ok := c.files[ref.Name]; ok {
		replaced = true
	} else {
		c.names = append(c.names, ref.Name)
	}
	c.files[ref.Name] = ref
	return replaced
}

// LoadCatalog scans each directory non-recursively and keeps regular files
// (symlinks to regular files included). An unreadable directory is a
// StartupFailure.
func LoadCatalog(dirs []string, log zerolog.Logger) (*Catalog, error) {
	c := NewCatalog()

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, &StartupFailure{Stage: "catalog", Err: fmt.Errorf("failed to read %s: %w", dir, err)}
		}

		count := 0
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}

			ref := FileRef{Name: entry.Name(), Path: path, Size: info.Size()}
			if c.add(ref) {
				log.Warn().Str("file", ref.Name).Str("path", path).Msg("Catalog name collision, last scanned file wins")
			}
			count++
		}

		log.Info().Str("dir", dir).Int("files", count).Msg("Files loaded from directory")
	}

	return c, nil
}

// Lookup returns the file registered under name
func (c *Catalog) Lookup(name string) (FileRef, bool) {
	ref, ok := c.files[name]
	return ref, ok
}

// List returns file names in scan order
func (c *Catalog) List() []string {
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

// Len returns the number of files
func (c *Catalog) Len() int {
	return len(c.names)
}
