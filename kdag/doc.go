// Package kdag compiles plain Go functions into immutable node descriptors and
// collects them into directed acyclic graphs of streams.
//
// # Overview
//
// kdag separates declaring a pipeline from running it through a two-phase
// architecture:
//
// 1. **Build Phase**: Declare inputs and compile node bodies with a Builder
// 2. **Runtime Phase**: Collect the graph reachable from target streams and hand it to a runtime
//
// kdag itself never executes anything. Execution lives in the runtime, which
// talks to node bodies through package kio.
//
// # Architecture
//
//   - **Builder**: Records input declarations per function and compiles bodies into NodeHandles
//   - **Node**: Immutable descriptor (function path, inputs, schema, group, version)
//   - **Inputs**: Closed record of a node's formal parameters and their bound values
//   - **Stream**: A node together with a stream name; "" is the node's default stream
//   - **NodeHandle**: A compiled Node plus the body implementing it
//   - **Graph**: Structurally deduplicated DAG of everything needed for a set of targets
//
// Nodes, Inputs and Streams are values: two of them are equal when all of
// their fields are equal, and equal values hash identically. Inputs may refer
// to other nodes, so equality and hashing recurse through the whole upstream
// graph.
//
// # Basic Usage
//
//	type scaleArgs struct {
//	    In     kio.Handle `input:"in"`
//	    Factor int        `input:"factor"`
//	}
//
//	func scale(ctx context.Context, c *kio.Conn, args scaleArgs) error {
//	    for {
//	        p, err := c.Pull(args.In)
//	        if err != nil || !p.OK {
//	            return err
//	        }
//	        if err := c.Push(p.Msg.(int) * args.Factor); err != nil {
//	            return err
//	        }
//	    }
//	}
//
//	builder := kdag.NewBuilder()
//	src := builder.MustNode(readNumbers)
//
//	builder.MustInput(scale, "in", kdag.Default(src))
//	builder.MustInput(scale, "factor", kdag.Type[int]())
//	scaled := builder.MustNode(scale)
//
//	double := scaled.MustClone(map[string]any{"factor": 2})
//	graph, err := kdag.Collect(double)
//
// # Node Bodies
//
// A node body has one of two signatures:
//
//	func(ctx context.Context, c *kio.Conn) error
//	func(ctx context.Context, c *kio.Conn, args Args) error
//
// Every exported field of Args is a formal parameter. Its name is taken from
// the `input` struct tag, or is the lower-cased field name when the tag is
// absent. Variadic bodies, embedded fields, unexported fields and tag options
// are rejected with ErrUnsupportedSignature.
//
// Bodies must be named functions or method values. Function literals are
// rejected with ErrNotNodeBody: every closure of one literal shares a single
// function path.
//
// The declared inputs and the parameters must match exactly. Node reports the
// symmetric difference with ErrInputMismatch:
//
//	kdag.ErrInputMismatch: example.com/nodes.fn: b, c
//
// # Stream Inputs
//
// An input whose value is a *NodeHandle, *Node or Stream is a stream input.
// The runtime binds it to a kio.Handle before the body runs, so the matching
// Args field must be a kio.Handle (or an interface type). Stream inputs cannot
// carry a declared type (ErrTypedStream).
//
// # Error Handling
//
// Declaration and compilation errors are programmer errors and are returned at
// the call site:
//
//	err := builder.Input(fn, "a", kdag.Default(1))
//	if errors.Is(err, kdag.ErrAlreadyCompiled) {
//	    // fn was already compiled
//	}
//
// Construction errors on values are *kvalue.ValidationError and name the
// offending field.
//
// Use Must* variants to panic on error for cleaner code when errors are unexpected.
//
// # Thread Safety
//
// IMPORTANT: Builder is NOT safe for concurrent use. The Nodes it produces are
// immutable and safe to share between goroutines.
//
// # Validation
//
// Collect validates the resulting graph:
//
//   - **Cycle Detection**: DFS over child edges
//   - **Size Limits**: Prevents pathological graphs (MaxNodesPerDAG, MaxDepth, MaxChildrenPerNode)
//
// Validation complexity: O(V + E) where V is vertices and E is edges.
package kdag
