package predicate

import (
	"errors"
	"fmt"
)

// ErrBadPattern is returned when a REGEX predicate's source fails to
// compile (spec §7 BadPattern).
var ErrBadPattern = errors.New("predicate: invalid regex pattern")

// Registry stores canonical predicates, deduplicating by
// (fieldId, operator, value) and assigning each distinct predicate a dense
// int32 id (spec §4.2 / C2).
//
// Thread Safety:
//
//	Not safe for concurrent Register calls; built single-threaded during
//	compilation (spec §5). Read accessors (Get, Len, All) are safe for
//	concurrent use once compilation completes and the Registry is no
//	longer mutated.
type Registry struct {
	byKey      map[string]int32
	predicates []*Predicate
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[string]int32),
	}
}

// Register interns p, returning its assigned id. Registration is
// idempotent per canonical key (spec §4.2): registering an
// already-canonically-equal predicate again returns the existing id and
// does not allocate a new one. Weight/Selectivity on a duplicate
// registration are ignored — the first registration's metadata wins,
// since identity and metadata are orthogonal by design.
//
// If p.Operator is Regex and p.Pattern is nil, Register compiles
// p.PatternSrc itself (full-match, spec §9), returning a wrapped
// ErrBadPattern on failure. The rule source layer may also pre-compile and
// set Pattern directly, in which case Register trusts it.
func (r *Registry) Register(p *Predicate) (int32, error) {
	if p.Operator == Regex && p.Pattern == nil {
		compiled, err := CompileRegex(p.PatternSrc)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrBadPattern, p.PatternSrc, err)
		}
		p.Pattern = compiled
	}

	key := p.CanonicalKey()
	if id, ok := r.byKey[key]; ok {
		return id, nil
	}

	id := int32(len(r.predicates))
	p.ID = id
	r.byKey[key] = id
	r.predicates = append(r.predicates, p)
	return id, nil
}

// Get returns the predicate registered under id, or nil if id is out of
// range.
func (r *Registry) Get(id int32) *Predicate {
	if id < 0 || int(id) >= len(r.predicates) {
		return nil
	}
	return r.predicates[id]
}

// Len returns the number of distinct predicates registered.
func (r *Registry) Len() int {
	return len(r.predicates)
}

// All returns the registered predicates indexed by id. The returned slice
// must not be mutated by the caller; it is shared with the Registry.
func (r *Registry) All() []*Predicate {
	return r.predicates
}
