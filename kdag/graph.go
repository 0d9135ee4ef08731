package kdag

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/slices"
)

// NodeID identifies a node within a Graph. Structurally equal nodes share an
// ID.
type NodeID string

// IDOf returns the graph identifier of n.
func IDOf(n *Node) NodeID {
	return NodeID(fmt.Sprintf("%s@%016x", n.function, n.Hash()))
}

// GraphNode is a node together with its edges in a Graph.
type GraphNode struct {
	ID   NodeID
	Node *Node

	// Parent edges (nodes whose streams are inputs of this node)
	Parents []NodeID

	// Child edges (nodes consuming streams of this node)
	Children []NodeID

	// Requested holds the sorted names of this node's streams that are
	// consumed by children or targets. "" is the default stream.
	Requested []string
}

// Graph is the DAG reachable from a set of target streams. Structurally equal
// node instantiations are collapsed into one GraphNode.
type Graph struct {
	Nodes map[NodeID]*GraphNode

	// Deterministic node ordering: every node comes after its parents.
	NodeOrder []NodeID

	Targets []Stream
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:     make(map[NodeID]*GraphNode),
		NodeOrder: make([]NodeID, 0),
	}
}

// Collect builds the graph of everything needed to produce refs.
func Collect(refs ...Ref) (*Graph, error) {
	g := NewGraph()
	for _, ref := range refs {
		if err := g.AddTarget(ref); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// AddTarget adds the stream denoted by ref and all its upstream nodes.
func (g *Graph) AddTarget(ref Ref) error {
	_, _, valid := asRef(ref)
	if !valid {
		return fmt.Errorf("%w: nil target", ErrNodeNotFound)
	}
	s := ref.stream()
	id, err := g.visit(s.node, 0)
	if err != nil {
		return err
	}
	g.request(id, s.name)
	for _, t := range g.Targets {
		if t.Equal(s) {
			return nil
		}
	}
	g.Targets = append(g.Targets, s)
	return nil
}

// Lookup returns the graph node for n.
func (g *Graph) Lookup(n *Node) (*GraphNode, bool) {
	gn, ok := g.Nodes[IDOf(n)]
	return gn, ok
}

func (g *Graph) visit(n *Node, depth int) (NodeID, error) {
	if depth > MaxDepth {
		return "", fmt.Errorf("%w: maximum depth %d exceeded", ErrInvalidTopology, MaxDepth)
	}

	id := IDOf(n)
	if existing, ok := g.Nodes[id]; ok {
		if !existing.Node.Equal(n) {
			return "", fmt.Errorf("%w: distinct nodes share id %s", ErrNodeAlreadyExists, id)
		}
		return id, nil
	}

	gn := &GraphNode{
		ID:        id,
		Node:      n,
		Parents:   []NodeID{},
		Children:  []NodeID{},
		Requested: []string{},
	}
	if n.inputs != nil {
		for _, in := range n.inputs.Streams() {
			parentID, err := g.visit(in.Stream.node, depth+1)
			if err != nil {
				return "", err
			}
			g.request(parentID, in.Stream.name)
			if !slices.Contains(gn.Parents, parentID) {
				gn.Parents = append(gn.Parents, parentID)
				parent := g.Nodes[parentID]
				parent.Children = append(parent.Children, id)
			}
		}
	}

	if len(g.Nodes) >= MaxNodesPerDAG {
		return "", fmt.Errorf("%w: node count exceeds maximum %d", ErrInvalidTopology, MaxNodesPerDAG)
	}
	g.Nodes[id] = gn
	g.NodeOrder = append(g.NodeOrder, id)
	return id, nil
}

func (g *Graph) request(id NodeID, name string) {
	gn := g.Nodes[id]
	idx := sort.SearchStrings(gn.Requested, name)
	if idx < len(gn.Requested) && gn.Requested[idx] == name {
		return
	}
	gn.Requested = slices.Insert(gn.Requested, idx, name)
}

// Roots returns the nodes without stream inputs, in NodeOrder.
func (g *Graph) Roots() []NodeID {
	var roots []NodeID
	for _, id := range g.NodeOrder {
		if len(g.Nodes[id].Parents) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

func (g *Graph) String() string {
	var b strings.Builder
	for _, id := range g.NodeOrder {
		gn := g.Nodes[id]
		fmt.Fprintf(&b, "%s", id)
		if len(gn.Parents) > 0 {
			parents := make([]string, len(gn.Parents))
			for i, p := range gn.Parents {
				parents[i] = string(p)
			}
			fmt.Fprintf(&b, " <- %s", strings.Join(parents, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
