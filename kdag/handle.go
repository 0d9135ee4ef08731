package kdag

import (
	"context"
	"fmt"
	"reflect"

	"github.com/birdayz/knode/kio"
	"github.com/mitchellh/mapstructure"
)

// NodeHandle is what declaring a node produces: the compiled Node together
// with the body that implements it. A NodeHandle can be bound to another
// node's input wherever a stream is expected.
type NodeHandle struct {
	node *Node
	body reflect.Value
	sig  *signature
}

// Node returns the compiled descriptor.
func (h *NodeHandle) Node() *Node {
	return h.node
}

// Stream returns the default stream of the node.
func (h *NodeHandle) Stream() Stream {
	return h.node.stream()
}

// Select returns the stream of the node named name.
func (h *NodeHandle) Select(name string) Stream {
	return h.node.Select(name)
}

// Clone returns a handle sharing the body whose node has the given inputs
// replaced. See Node.Clone.
func (h *NodeHandle) Clone(overrides map[string]any) (*NodeHandle, error) {
	node, err := h.node.Clone(overrides)
	if err != nil {
		return nil, err
	}
	return &NodeHandle{node: node, body: h.body, sig: h.sig}, nil
}

// MustClone is like Clone but panics on error.
func (h *NodeHandle) MustClone(overrides map[string]any) *NodeHandle {
	clone, err := h.Clone(overrides)
	must(err)
	return clone
}

func (h *NodeHandle) String() string {
	return h.node.String()
}

func (h *NodeHandle) stream() Stream {
	return h.node.stream()
}

// Bind returns the body with args bound. Args maps input names to values,
// stream inputs having been replaced by their kio.Handle.
func (h *NodeHandle) Bind(args map[string]any) kio.Body {
	return func(ctx context.Context, c *kio.Conn) error {
		return h.Invoke(ctx, c, args)
	}
}

// Invoke decodes args into the body's args struct and calls the body.
func (h *NodeHandle) Invoke(ctx context.Context, c *kio.Conn, args map[string]any) error {
	in := []reflect.Value{reflect.ValueOf(&ctx).Elem(), reflect.ValueOf(c)}

	if h.sig.args != nil {
		ptr := reflect.New(h.sig.args)
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:     InputTag,
			ErrorUnused: true,
			Result:      ptr.Interface(),
		})
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBindInputs, h.node.function, err)
		}
		if err := dec.Decode(args); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBindInputs, h.node.function, err)
		}
		in = append(in, ptr.Elem())
	} else if len(args) > 0 {
		return fmt.Errorf("%w: %s takes no inputs", ErrBindInputs, h.node.function)
	}

	out := h.body.Call(in)
	if err, ok := out[0].Interface().(error); ok {
		return err
	}
	return nil
}
