package filter

import "fmt"

// Builder is a chain template: an ordered set of named filters that new
// sessions copy when they instantiate their chain.
//
// A Builder may be mutated and instantiated concurrently from any goroutine.
// Changes only affect chains instantiated afterwards; existing chains keep
// their own copy. Builders never call Lifecycle hooks.
type Builder struct {
	sequence
}

// NewBuilder returns an empty template.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddFirst inserts f under name at the head.
func (b *Builder) AddFirst(name string, f Filter) error {
	if err := checkEntry(name, f); err != nil {
		return err
	}
	return b.insert(name, f, atHead)
}

// AddLast inserts f under name at the tail.
func (b *Builder) AddLast(name string, f Filter) error {
	if err := checkEntry(name, f); err != nil {
		return err
	}
	return b.insert(name, f, atTail)
}

// AddBefore inserts f under name immediately before the entry named base.
func (b *Builder) AddBefore(base, name string, f Filter) error {
	if err := checkBase(base); err != nil {
		return err
	}
	if err := checkEntry(name, f); err != nil {
		return err
	}
	return b.insert(name, f, before(base))
}

// AddAfter inserts f under name immediately after the entry named base.
func (b *Builder) AddAfter(base, name string, f Filter) error {
	if err := checkBase(base); err != nil {
		return err
	}
	if err := checkEntry(name, f); err != nil {
		return err
	}
	return b.insert(name, f, after(base))
}

// Remove unlinks the entry named name and returns its filter.
func (b *Builder) Remove(name string) (Filter, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty filter name", ErrInvalidArgument)
	}
	e, err := b.remove(byName(name))
	return e.Filter, err
}

// RemoveFilter unlinks the first entry holding f and returns it.
func (b *Builder) RemoveFilter(f Filter) (Filter, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil filter", ErrInvalidArgument)
	}
	e, err := b.remove(byFilter(f))
	return e.Filter, err
}

// Replace swaps the filter registered under name for f, keeping its position,
// and returns the previous filter.
func (b *Builder) Replace(name string, f Filter) (Filter, error) {
	if err := checkEntry(name, f); err != nil {
		return nil, err
	}
	e, err := b.replace(name, f)
	return e.Filter, err
}

// Clear removes every entry.
func (b *Builder) Clear() {
	b.clear(false)
}

// Set replaces the whole template with entries in one step. On error the
// template is left unchanged.
func (b *Builder) Set(entries []Entry) error {
	return b.set(entries)
}

// Instantiate creates a live chain holding a copy of the template as it is
// at the moment of the call.
func (b *Builder) Instantiate(opts ...Option) (*Chain, error) {
	return newChain(b.load(), opts...)
}

// BuildChain appends every template entry to c in order. It stops at the
// first entry c rejects.
func (b *Builder) BuildChain(c *Chain) error {
	for _, e := range b.load().entries {
		if err := c.AddLast(e.Name, e.Filter); err != nil {
			return err
		}
	}
	return nil
}
