package schema

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Context is a handle to an external XML/YANG schema context.
//
// A Context is typically created once per process and shared by every
// session; shared handles must outlive all sessions holding them.
type Context struct {
	searchPath string
	shared     bool

	mu    sync.Mutex
	cache map[string][]byte
}

// NewContext returns a Context resolving schema documents under
// searchPath.
func NewContext(searchPath string) *Context {
	return &Context{searchPath: searchPath, cache: map[string][]byte{}}
}

// Shared marks the context as shared between sessions and returns it.
// Sessions never tear down a shared context on close.
func (c *Context) Shared() *Context {
	c.shared = true
	return c
}

// IsShared reports whether the context is shared between sessions.
func (c *Context) IsShared() bool { return c.shared }

// SearchPath returns the schema search path.
func (c *Context) SearchPath() string { return c.searchPath }

// LookupSchema resolves a schema document by identifier, optional
// version and format ("yang" or "yin", defaulting to "yang"),
// returning its content. Results are cached for the context lifetime.
func (c *Context) LookupSchema(identifier, version, format string) ([]byte, error) {
	if identifier == "" {
		return nil, errors.New("schema identifier required")
	}
	ext := "yang"
	if format == "yin" {
		ext = "yin"
	}
	name := identifier
	if version != "" {
		name += "@" + version
	}
	name += "." + ext

	c.mu.Lock()
	b, ok := c.cache[name]
	c.mu.Unlock()
	if ok {
		return b, nil
	}

	b, err := os.ReadFile(filepath.Join(c.searchPath, name))
	if err != nil {
		return nil, errors.Wrapf(err, "schema %s not found", name)
	}
	c.mu.Lock()
	c.cache[name] = b
	c.mu.Unlock()
	return b, nil
}

// Close releases resources held by an owned context. Shared contexts
// are left untouched by their sessions.
func (c *Context) Close() {
	c.mu.Lock()
	c.cache = map[string][]byte{}
	c.mu.Unlock()
}
