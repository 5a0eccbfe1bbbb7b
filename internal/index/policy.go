package index

import (
	"fmt"
	"sort"

	ierrors "github.com/Aman-CERP/nrtsearch/internal/errors"
	"github.com/Aman-CERP/nrtsearch/internal/schema"
)

// FieldPolicy decides how one indexed field is written.
type FieldPolicy struct {
	// MultiValued is set for embedded collections with a linked element
	// type. Each element becomes its own document value.
	MultiValued bool

	// Stored keeps the original values retrievable so deletion by value and
	// result reconstruction do not depend on analyzed terms.
	Stored bool
}

// Policy is the per-field decision table of one open index. It is built
// once per open or reopen and never mutated afterwards.
type Policy struct {
	fields map[string]FieldPolicy
	order  []string
	multi  bool
}

// BuildPolicy derives the policy for def's fields from the class metadata
// in s. An unknown class or property is a configuration error.
func BuildPolicy(s schema.Schema, def Definition) (Policy, error) {
	if s == nil {
		return Policy{}, ierrors.ConfigError("no schema available", nil)
	}
	class, ok := s.Class(def.ClassName)
	if !ok {
		return Policy{}, ierrors.ConfigError(fmt.Sprintf("index %q: unknown class %q", def.Name, def.ClassName), nil).
			WithDetail("class", def.ClassName)
	}

	p := Policy{fields: make(map[string]FieldPolicy, len(def.Fields))}
	for _, name := range def.Fields {
		prop, ok := class.Property(name)
		if !ok {
			return Policy{}, ierrors.ConfigError(fmt.Sprintf("index %q: class %q has no property %q", def.Name, def.ClassName, name), nil).
				WithDetail("class", def.ClassName).
				WithDetail("property", name)
		}
		fp := policyFor(prop)
		p.fields[name] = fp
		p.order = append(p.order, name)
		p.multi = p.multi || fp.MultiValued
	}
	return p, nil
}

func policyFor(prop schema.Property) FieldPolicy {
	if prop.Type.IsEmbedded() && prop.LinkedType != "" {
		return FieldPolicy{MultiValued: true, Stored: true}
	}
	return FieldPolicy{}
}

// Field returns the policy for name. Fields outside the table get the zero policy.
func (p Policy) Field(name string) FieldPolicy {
	return p.fields[name]
}

// Has reports whether name is an indexed field.
func (p Policy) Has(name string) bool {
	_, ok := p.fields[name]
	return ok
}

// Fields returns the indexed field names in definition order.
func (p Policy) Fields() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// MultiValuedFields returns the multi-valued field names, sorted.
func (p Policy) MultiValuedFields() []string {
	var out []string
	for name, fp := range p.fields {
		if fp.MultiValued {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// AnyMultiValued reports whether any indexed field is multi-valued. The
// host's remove path switches to field-scoped deletion for the whole index
// when it is set.
func (p Policy) AnyMultiValued() bool {
	return p.multi
}
