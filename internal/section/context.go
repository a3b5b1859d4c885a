// Package section holds the section a scanning device is currently taking
// attendance for.
package section

import (
	"sync"
	"time"
)

// Section is a class section students check into.
type Section struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Context is the selected section for one device. The zero value has no
// section selected and is safe for concurrent use.
type Context struct {
	mu      sync.RWMutex
	current *Section
}

// Select makes s the current section.
func (c *Context) Select(s Section) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &s
}

// Current returns the selected section, if any.
func (c *Context) Current() (Section, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return Section{}, false
	}
	return *c.current, true
}

// Clear deselects the current section.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
}
