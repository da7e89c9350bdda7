// Package variant serves the documentation variants a benchmark run can
// be prompted with. Variants are flat files in one directory; the file
// base name without extension is the variant name.
package variant

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var docExtensions = map[string]bool{".md": true, ".txt": true}

// Info describes one variant without its content.
type Info struct {
	Name string `json:"name"`
	Size int64  `json:"size_bytes"`
}

// Catalog is a directory-backed variant index. The directory is scanned
// once at construction; content loads lazily and is cached.
type Catalog struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	files   map[string]string // variant name -> path
	sizes   map[string]int64
	content map[string]string
}

// NewCatalog scans dir for documentation files.
func NewCatalog(dir string, logger *zap.Logger) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("variant dir: %w", err)
	}

	c := &Catalog{
		dir:     dir,
		logger:  logger,
		files:   make(map[string]string),
		sizes:   make(map[string]int64),
		content: make(map[string]string),
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !docExtensions[ext] {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if prev, ok := c.files[name]; ok {
			return nil, fmt.Errorf("variant %q defined by both %s and %s", name, filepath.Base(prev), e.Name())
		}
		fi, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", e.Name(), err)
		}
		c.files[name] = filepath.Join(dir, e.Name())
		c.sizes[name] = fi.Size()
	}
	if len(c.files) == 0 {
		return nil, fmt.Errorf("variant dir %s holds no .md or .txt files", dir)
	}
	logger.Info("variant catalog loaded", zap.String("dir", dir), zap.Int("variants", len(c.files)))
	return c, nil
}

// List returns the variants sorted by name.
func (c *Catalog) List() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Info, 0, len(c.files))
	for name := range c.files {
		out = append(out, Info{Name: name, Size: c.sizes[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether the variant exists.
func (c *Catalog) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.files[name]
	return ok
}

// Resolve returns the variant's documentation text.
func (c *Catalog) Resolve(name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if doc, ok := c.content[name]; ok {
		return doc, nil
	}
	path, ok := c.files[name]
	if !ok {
		return "", fmt.Errorf("unknown variant %q", name)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read variant %q: %w", name, err)
	}
	c.content[name] = string(b)
	return c.content[name], nil
}
