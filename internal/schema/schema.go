// Package schema describes the host database's class and property metadata
// that the search index consults when it opens.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Type is a property type as declared in the host schema.
type Type string

const (
	TypeString       Type = "string"
	TypeInteger      Type = "integer"
	TypeLong         Type = "long"
	TypeDouble       Type = "double"
	TypeBoolean      Type = "boolean"
	TypeDate         Type = "date"
	TypeEmbedded     Type = "embedded"
	TypeEmbeddedList Type = "embeddedlist"
	TypeEmbeddedSet  Type = "embeddedset"
	TypeEmbeddedMap  Type = "embeddedmap"
	TypeLink         Type = "link"
	TypeLinkList     Type = "linklist"
)

var knownTypes = map[Type]struct{}{
	TypeString: {}, TypeInteger: {}, TypeLong: {}, TypeDouble: {}, TypeBoolean: {},
	TypeDate: {}, TypeEmbedded: {}, TypeEmbeddedList: {}, TypeEmbeddedSet: {},
	TypeEmbeddedMap: {}, TypeLink: {}, TypeLinkList: {},
}

// IsEmbedded reports whether values of this type are stored inline in the record.
func (t Type) IsEmbedded() bool {
	switch t {
	case TypeEmbedded, TypeEmbeddedList, TypeEmbeddedSet, TypeEmbeddedMap:
		return true
	}
	return false
}

// Property is one declared property of a class.
type Property struct {
	Name string
	Type Type
	// LinkedType is the element type of a collection property, empty otherwise.
	LinkedType Type
}

// Class is a named set of properties.
type Class struct {
	Name       string
	properties map[string]Property
}

// Property looks up a property by name.
func (c *Class) Property(name string) (Property, bool) {
	p, ok := c.properties[name]
	return p, ok
}

// Properties returns the declared properties sorted by name.
func (c *Class) Properties() []Property {
	props := make([]Property, 0, len(c.properties))
	for _, p := range c.properties {
		props = append(props, p)
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
	return props
}

// Schema resolves classes by name.
type Schema interface {
	Class(name string) (*Class, bool)
}

// Memory is a Schema held in memory. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewMemory returns an empty in-memory schema.
func NewMemory() *Memory {
	return &Memory{classes: make(map[string]*Class)}
}

// Define creates or replaces a class with the given properties.
func (m *Memory) Define(name string, props ...Property) *Class {
	c := &Class{Name: name, properties: make(map[string]Property, len(props))}
	for _, p := range props {
		c.properties[p.Name] = p
	}

	m.mu.Lock()
	m.classes[name] = c
	m.mu.Unlock()
	return c
}

// Class implements Schema.
func (m *Memory) Class(name string) (*Class, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[name]
	return c, ok
}

// ParseProperty parses a type declaration such as "string" or
// "embeddedlist:string" into a Property named name.
func ParseProperty(name, decl string) (Property, error) {
	typ, linked, _ := strings.Cut(strings.ToLower(strings.TrimSpace(decl)), ":")
	p := Property{Name: name, Type: Type(typ), LinkedType: Type(linked)}

	if _, ok := knownTypes[p.Type]; !ok {
		return Property{}, fmt.Errorf("property %s: unknown type %q", name, typ)
	}
	if p.LinkedType != "" {
		if _, ok := knownTypes[p.LinkedType]; !ok {
			return Property{}, fmt.Errorf("property %s: unknown linked type %q", name, linked)
		}
	}
	return p, nil
}
