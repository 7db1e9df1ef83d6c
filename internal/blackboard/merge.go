package blackboard

import "fmt"

// ArrayPolicy decides how two arrays combine.
type ArrayPolicy string

const (
	ArrayConcat ArrayPolicy = "concat"
	ArrayFirst  ArrayPolicy = "first"
	ArrayLast   ArrayPolicy = "last"
	ArrayUnique ArrayPolicy = "unique"
)

// ObjectPolicy decides how two maps combine.
type ObjectPolicy string

const (
	ObjectShallow ObjectPolicy = "shallow"
	ObjectFirst   ObjectPolicy = "first"
	ObjectLast    ObjectPolicy = "last"
	ObjectDeep    ObjectPolicy = "deep"
)

// PrimitivePolicy decides between two scalars, or two values of different kinds.
type PrimitivePolicy string

const (
	PrimitiveFirst PrimitivePolicy = "first"
	PrimitiveLast  PrimitivePolicy = "last"
)

// Policy selects a strategy per value kind. Empty fields take the defaults:
// concat for arrays, shallow for maps, last-wins otherwise.
type Policy struct {
	Arrays     ArrayPolicy     `json:"arrays,omitempty"`
	Objects    ObjectPolicy    `json:"objects,omitempty"`
	Primitives PrimitivePolicy `json:"primitives,omitempty"`
}

// DefaultPolicy returns the default merge policy.
func DefaultPolicy() Policy {
	return Policy{Arrays: ArrayConcat, Objects: ObjectShallow, Primitives: PrimitiveLast}
}

// Normalize fills empty fields with defaults.
func (p Policy) Normalize() Policy {
	d := DefaultPolicy()
	if p.Arrays == "" {
		p.Arrays = d.Arrays
	}
	if p.Objects == "" {
		p.Objects = d.Objects
	}
	if p.Primitives == "" {
		p.Primitives = d.Primitives
	}
	return p
}

// Validate rejects unknown strategy names.
func (p Policy) Validate() error {
	p = p.Normalize()
	switch p.Arrays {
	case ArrayConcat, ArrayFirst, ArrayLast, ArrayUnique:
	default:
		return fmt.Errorf("unknown array merge policy %q", p.Arrays)
	}
	switch p.Objects {
	case ObjectShallow, ObjectFirst, ObjectLast, ObjectDeep:
	default:
		return fmt.Errorf("unknown object merge policy %q", p.Objects)
	}
	switch p.Primitives {
	case PrimitiveFirst, PrimitiveLast:
	default:
		return fmt.Errorf("unknown primitive merge policy %q", p.Primitives)
	}
	return nil
}

// MergeValues combines a and b without mutating either. Two arrays use the
// array policy, two maps use the object policy; anything else, including a
// kind mismatch, uses the primitive policy.
func MergeValues(a, b Value, p Policy) Value {
	p = p.Normalize()
	switch {
	case a.kind == KindArray && b.kind == KindArray:
		return mergeArrays(a, b, p.Arrays)
	case a.kind == KindMap && b.kind == KindMap:
		return mergeMaps(a, b, p)
	default:
		if p.Primitives == PrimitiveFirst {
			return a.Clone()
		}
		return b.Clone()
	}
}

func mergeArrays(a, b Value, policy ArrayPolicy) Value {
	switch policy {
	case ArrayFirst:
		return a.Clone()
	case ArrayLast:
		return b.Clone()
	case ArrayUnique:
		seen := make(map[string]struct{}, len(a.items)+len(b.items))
		out := make([]Value, 0, len(a.items)+len(b.items))
		for _, src := range [][]Value{a.items, b.items} {
			for _, e := range src {
				fp := e.fingerprint()
				if _, dup := seen[fp]; dup {
					continue
				}
				seen[fp] = struct{}{}
				out = append(out, e.Clone())
			}
		}
		return Array(out...)
	default:
		out := make([]Value, 0, len(a.items)+len(b.items))
		for _, e := range a.items {
			out = append(out, e.Clone())
		}
		for _, e := range b.items {
			out = append(out, e.Clone())
		}
		return Array(out...)
	}
}

func mergeMaps(a, b Value, p Policy) Value {
	switch p.Objects {
	case ObjectFirst:
		return a.Clone()
	case ObjectLast:
		return b.Clone()
	case ObjectDeep:
		return Map(DeepMerge(a.fields, b.fields, p))
	default:
		out := CloneFields(a.fields)
		for pair := b.fields.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, pair.Value.Clone())
		}
		return Map(out)
	}
}

// DeepMerge returns a new field set holding every key of target, with each
// key of source merged in through MergeValues. Keys only in target are
// copied untouched; target and source are never mutated.
func DeepMerge(target, source *Fields, p Policy) *Fields {
	out := CloneFields(target)
	if source == nil {
		return out
	}
	for pair := source.Oldest(); pair != nil; pair = pair.Next() {
		existing, ok := out.Get(pair.Key)
		if !ok {
			out.Set(pair.Key, pair.Value.Clone())
			continue
		}
		out.Set(pair.Key, MergeValues(existing, pair.Value, p))
	}
	return out
}
