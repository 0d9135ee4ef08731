package kdag

import (
	"fmt"
	"strings"

	"github.com/birdayz/knode/kvalue"
)

// Group describes the shape of a node's default stream: a single stream of
// messages, a group of named sub-streams, or a group carrying a tag.
type Group struct {
	isGroup bool
	tag     string
}

// NewGroup returns a plain group if isGroup is set, a single stream otherwise.
func NewGroup(isGroup bool) Group {
	return Group{isGroup: isGroup}
}

// TaggedGroup returns a group with an explicit tag.
func TaggedGroup(tag string) Group {
	return Group{isGroup: true, tag: tag}
}

// IsGroup reports whether the default stream is a group of sub-streams.
func (g Group) IsGroup() bool {
	return g.isGroup
}

// Tag returns the group tag, if any.
func (g Group) Tag() string {
	return g.tag
}

func (g Group) String() string {
	switch {
	case g.tag != "":
		return g.tag
	case g.isGroup:
		return "true"
	default:
		return "false"
	}
}

// NodeSpec lists the fields of a Node for NewNode.
type NodeSpec struct {
	Function      string
	Inputs        *Inputs
	MessageSchema string
	Group         Group
	Version       *int
	Foreach       string
}

// Node is the immutable descriptor of a unit of computation. Nodes with equal
// fields are interchangeable, which is how identical instantiations across a
// DAG are deduplicated.
type Node struct {
	function      string
	inputs        *Inputs
	messageSchema string
	group         Group
	version       *int
	foreach       string

	// hash caches kvalue.HashFields of the node, computed once fields are
	// set.
	hash uint64
}

// NewNode validates spec and returns the Node it describes.
func NewNode(spec NodeSpec) (*Node, error) {
	if !strings.Contains(spec.Function, ".") {
		return nil, &kvalue.ValidationError{
			Type:  "Node",
			Field: "function",
			Err:   fmt.Errorf("%w: expected dotted path to function, not %q", ErrMalformedIdentity, spec.Function),
		}
	}
	if spec.Foreach != "" {
		if spec.Inputs == nil {
			return nil, kvalue.Invalid("Node", "foreach", "%q is not an input", spec.Foreach)
		}
		if _, ok := spec.Inputs.Shape().Spec(spec.Foreach); !ok {
			return nil, kvalue.Invalid("Node", "foreach", "%q is not an input", spec.Foreach)
		}
	}

	n := &Node{
		function:      spec.Function,
		inputs:        spec.Inputs,
		messageSchema: spec.MessageSchema,
		group:         spec.Group,
		foreach:       spec.Foreach,
	}
	if spec.Version != nil {
		v := *spec.Version
		n.version = &v
	}
	n.hash = kvalue.HashFields(n)
	return n, nil
}

// Function returns the dotted path of the node's function.
func (n *Node) Function() string { return n.function }

// Inputs returns the bound inputs, or nil if the node has none.
func (n *Node) Inputs() *Inputs { return n.inputs }

// MessageSchema returns the name of the output message schema, if any.
func (n *Node) MessageSchema() string { return n.messageSchema }

// Group returns the shape of the default stream.
func (n *Node) Group() Group { return n.group }

// Version returns the declared version, if any.
func (n *Node) Version() (int, bool) {
	if n.version == nil {
		return 0, false
	}
	return *n.version, true
}

// Foreach returns the name of the input driving per-item iteration.
//
// Deprecated: foreach is only validated at declaration time.
func (n *Node) Foreach() string { return n.foreach }

func (n *Node) TypeName() string { return "Node" }

func (n *Node) Fields() []kvalue.Field {
	fields := []kvalue.Field{
		{Name: "function", Value: n.function},
		{Name: "inputs", Value: nil},
		{Name: "message_schema", Value: nil},
		{Name: "group", Value: n.group},
		{Name: "version", Value: nil},
		{Name: "foreach", Value: nil},
	}
	if n.inputs != nil {
		fields[1].Value = n.inputs
	}
	if n.messageSchema != "" {
		fields[2].Value = n.messageSchema
	}
	if n.version != nil {
		fields[4].Value = *n.version
	}
	if n.foreach != "" {
		fields[5].Value = n.foreach
	}
	return fields
}

// Equal reports whether n and other have equal fields.
func (n *Node) Equal(other *Node) bool {
	return kvalue.Equal(n, other)
}

// Hash returns the structural hash of n.
func (n *Node) Hash() uint64 {
	return n.hash
}

func (n *Node) StructuralHash() uint64 { return n.hash }

func (n *Node) String() string {
	return n.function
}

// Select returns the stream of n named name.
func (n *Node) Select(name string) Stream {
	return Stream{node: n, name: name}
}

// Clone returns a copy of n with some inputs replaced. Inputs that were set
// explicitly and differ from their default are carried over, overrides are
// applied on top, and the result is validated like a fresh declaration.
// n itself is never modified.
func (n *Node) Clone(overrides map[string]any) (*Node, error) {
	if n.inputs == nil {
		if err := kvalue.CheckFields("Inputs", nil, overrides); err != nil {
			return nil, err
		}
		clone := *n
		return &clone, nil
	}

	fields := n.inputs.Explicit()
	for name, v := range overrides {
		fields[name] = v
	}
	inputs, err := n.inputs.Shape().New(fields)
	if err != nil {
		return nil, err
	}

	clone := *n
	clone.inputs = inputs
	clone.hash = kvalue.HashFields(&clone)
	return &clone, nil
}

func (n *Node) stream() Stream {
	return Stream{node: n}
}
