package query

// Context holds the variable bindings accumulated while matching a
// query's patterns. It is copied (never mutated in place across
// branches) so that exploring one pattern's candidate matches doesn't
// disturb bindings a sibling candidate still needs.
type Context struct {
	bindings map[string]Datom
}

// NewContext returns an empty binding context.
func NewContext() *Context {
	return &Context{bindings: make(map[string]Datom)}
}

// Set binds name to value, replacing any existing binding.
func (c *Context) Set(name string, value Datom) {
	c.bindings[name] = value
}

// Get returns the datom bound to name, if any.
func (c *Context) Get(name string) (Datom, bool) {
	d, ok := c.bindings[name]
	return d, ok
}

// Has reports whether name is bound.
func (c *Context) Has(name string) bool {
	_, ok := c.bindings[name]
	return ok
}

// Len reports how many variables are bound.
func (c *Context) Len() int { return len(c.bindings) }

// Clone returns an independent copy of c.
func (c *Context) Clone() *Context {
	out := make(map[string]Datom, len(c.bindings))
	for k, v := range c.bindings {
		out[k] = v
	}
	return &Context{bindings: out}
}

// Merge copies other's bindings into c, overwriting on conflict.
func (c *Context) Merge(other *Context) {
	for k, v := range other.bindings {
		c.bindings[k] = v
	}
}

// IsConsistentWith reports whether every variable bound in both c and
// other carries the same value.
func (c *Context) IsConsistentWith(other *Context) bool {
	for k, v := range c.bindings {
		if ov, ok := other.bindings[k]; ok && !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Combine returns a new context merging c and other, or false if they
// disagree on a shared variable.
func (c *Context) Combine(other *Context) (*Context, bool) {
	if !c.IsConsistentWith(other) {
		return nil, false
	}
	combined := c.Clone()
	combined.Merge(other)
	return combined, true
}
