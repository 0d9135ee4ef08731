package kdag

import (
	"fmt"
	"reflect"

	"github.com/birdayz/knode/kvalue"
)

// InputSpec declares one named input of a node.
type InputSpec struct {
	Name string
	// Type constrains literal values. Nil leaves the input untyped; stream
	// inputs are always untyped.
	Type reflect.Type
	// Default is used when no value is given. Node references are stored as
	// Stream.
	Default    any
	HasDefault bool
}

// InputsShape is the closed set of inputs of one node function.
type InputsShape struct {
	function string
	specs    []InputSpec
	index    map[string]int
}

// NewInputsShape creates the inputs shape of function from specs, which are
// kept in the given order.
func NewInputsShape(function string, specs []InputSpec) (*InputsShape, error) {
	s := &InputsShape{
		function: function,
		specs:    make([]InputSpec, len(specs)),
		index:    make(map[string]int, len(specs)),
	}
	for i, spec := range specs {
		if _, dup := s.index[spec.Name]; dup {
			return nil, fmt.Errorf("%w: %q on %s", ErrInputNameCollision, spec.Name, function)
		}
		s.index[spec.Name] = i
		s.specs[i] = spec
	}
	return s, nil
}

// Function returns the node function the shape belongs to.
func (s *InputsShape) Function() string { return s.function }

// Len returns the number of inputs.
func (s *InputsShape) Len() int { return len(s.specs) }

// Names returns the input names in declaration order.
func (s *InputsShape) Names() []string {
	names := make([]string, len(s.specs))
	for i, spec := range s.specs {
		names[i] = spec.Name
	}
	return names
}

// Spec returns the spec of the named input.
func (s *InputsShape) Spec(name string) (InputSpec, bool) {
	i, ok := s.index[name]
	if !ok {
		return InputSpec{}, false
	}
	return s.specs[i], true
}

func (s *InputsShape) typeName() string {
	return "Inputs[" + s.function + "]"
}

// New validates fields against the shape and returns the bound Inputs.
// Unknown names are rejected, node references become Streams, typed inputs
// must receive assignable values, and missing inputs take their defaults.
func (s *InputsShape) New(fields map[string]any) (*Inputs, error) {
	if err := kvalue.CheckFields(s.typeName(), s.Names(), fields); err != nil {
		return nil, err
	}

	in := &Inputs{
		shape:   s,
		values:  make([]any, len(s.specs)),
		present: make([]bool, len(s.specs)),
		set:     make([]bool, len(s.specs)),
	}
	for i, spec := range s.specs {
		v, ok := fields[spec.Name]
		if !ok {
			if spec.HasDefault {
				in.values[i] = spec.Default
				in.present[i] = true
			}
			continue
		}
		coerced, err := s.coerce(spec, v)
		if err != nil {
			return nil, err
		}
		in.values[i] = coerced
		in.present[i] = true
		in.set[i] = true
	}
	return in, nil
}

func (s *InputsShape) coerce(spec InputSpec, v any) (any, error) {
	if ref, isRef, valid := asRef(v); isRef {
		if !valid {
			return nil, kvalue.Invalid(s.typeName(), spec.Name, "nil node reference")
		}
		if spec.Type != nil {
			return nil, &kvalue.ValidationError{Type: s.typeName(), Field: spec.Name, Err: ErrTypedStream}
		}
		return ref.stream(), nil
	}

	if spec.Type == nil {
		return v, nil
	}
	if v == nil {
		if nillable(spec.Type) {
			return nil, nil
		}
		return nil, kvalue.Invalid(s.typeName(), spec.Name, "nil is not a valid %v", spec.Type)
	}
	if !reflect.TypeOf(v).AssignableTo(spec.Type) {
		return nil, kvalue.Invalid(s.typeName(), spec.Name, "expected %v, got %T", spec.Type, v)
	}
	return v, nil
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// Inputs is the immutable set of values bound to a node's inputs.
type Inputs struct {
	shape   *InputsShape
	values  []any
	present []bool
	set     []bool
}

// Shape returns the shape the inputs were validated against.
func (in *Inputs) Shape() *InputsShape { return in.shape }

// Get returns the value of the named input and whether it has one.
func (in *Inputs) Get(name string) (any, bool) {
	i, ok := in.shape.index[name]
	if !ok || !in.present[i] {
		return nil, false
	}
	return in.values[i], true
}

// Values returns all inputs that have a value.
func (in *Inputs) Values() map[string]any {
	out := make(map[string]any, len(in.values))
	for i, spec := range in.shape.specs {
		if in.present[i] {
			out[spec.Name] = in.values[i]
		}
	}
	return out
}

// Explicit returns the inputs that were given explicitly and differ from
// their default.
func (in *Inputs) Explicit() map[string]any {
	out := make(map[string]any)
	for i, spec := range in.shape.specs {
		if !in.set[i] {
			continue
		}
		if spec.HasDefault && kvalue.Equal(in.values[i], spec.Default) {
			continue
		}
		out[spec.Name] = in.values[i]
	}
	return out
}

// Missing returns the inputs without value, in declaration order.
func (in *Inputs) Missing() []string {
	var missing []string
	for i, spec := range in.shape.specs {
		if !in.present[i] {
			missing = append(missing, spec.Name)
		}
	}
	return missing
}

// NamedStream is a stream bound to the input Input.
type NamedStream struct {
	Input  string
	Stream Stream
}

// Streams returns the stream-valued inputs in declaration order.
func (in *Inputs) Streams() []NamedStream {
	var out []NamedStream
	for i, spec := range in.shape.specs {
		if s, ok := in.values[i].(Stream); ok && in.present[i] {
			out = append(out, NamedStream{Input: spec.Name, Stream: s})
		}
	}
	return out
}

func (in *Inputs) TypeName() string { return in.shape.typeName() }

func (in *Inputs) Fields() []kvalue.Field {
	fields := make([]kvalue.Field, len(in.shape.specs))
	for i, spec := range in.shape.specs {
		fields[i] = kvalue.Field{Name: spec.Name, Value: in.values[i]}
	}
	return fields
}
