package kdag

import (
	"reflect"

	"github.com/birdayz/knode/kvalue"
)

// Ref is anything that can be bound to an input as a stream reference:
// a *NodeHandle, a *Node or a Stream. Input binding switches on Ref instead
// of probing values for a node marker.
type Ref interface {
	stream() Stream
}

var (
	_ Ref = (*NodeHandle)(nil)
	_ Ref = (*Node)(nil)
	_ Ref = Stream{}
)

// Stream references an output stream of a node. The empty name is the
// node's default stream. Streams are values, not resources.
type Stream struct {
	node *Node
	name string
}

// Select returns the stream named name of the node behind ref. Whether the
// node will actually produce such a stream is only known at run time.
func Select(ref Ref, name string) Stream {
	s := ref.stream()
	s.name = name
	return s
}

// ToStream converts ref to the Stream it denotes.
func ToStream(ref Ref) Stream {
	return ref.stream()
}

// Node returns the producing node.
func (s Stream) Node() *Node { return s.node }

// Name returns the selected member name, empty for the default stream.
func (s Stream) Name() string { return s.name }

func (s Stream) TypeName() string { return "Stream" }

func (s Stream) Fields() []kvalue.Field {
	fields := []kvalue.Field{
		{Name: "node", Value: s.node},
		{Name: "name", Value: nil},
	}
	if s.name != "" {
		fields[1].Value = s.name
	}
	return fields
}

// Equal reports whether s and other reference equal nodes and the same name.
func (s Stream) Equal(other Stream) bool {
	return kvalue.Equal(s, other)
}

// Hash returns the structural hash of s.
func (s Stream) Hash() uint64 {
	return kvalue.Hash(s)
}

func (s Stream) String() string {
	if s.node == nil {
		return "<nil>"
	}
	if s.name == "" {
		return s.node.String()
	}
	return s.node.String() + "/" + s.name
}

func (s Stream) stream() Stream {
	return s
}

// asRef reports whether v is a node reference and whether it is usable.
func asRef(v any) (ref Ref, ok bool, valid bool) {
	ref, ok = v.(Ref)
	if !ok {
		return nil, false, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return ref, true, false
	}
	if s, isStream := v.(Stream); isStream && s.node == nil {
		return ref, true, false
	}
	return ref, true, true
}
