package kdag

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Builder collects input declarations and compiles node functions into
// NodeHandles.
//
// IMPORTANT: Builder is NOT safe for concurrent use. Declarations happen in a
// single-goroutine setup phase. The resulting Nodes are immutable and safe to
// share.
type Builder struct {
	// pending input declarations, keyed by function identity. Consumed by Node.
	pending map[string]*pendingInputs

	// compiled handles keyed by function identity and by node function path.
	compiled map[string]*NodeHandle
	nodes    map[string]*NodeHandle
}

type pendingInputs struct {
	specs   []InputSpec
	foreach string
}

func (p *pendingInputs) has(name string) bool {
	for _, spec := range p.specs {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// NewBuilder creates a new node builder.
func NewBuilder() *Builder {
	return &Builder{
		pending:  make(map[string]*pendingInputs),
		compiled: make(map[string]*NodeHandle),
		nodes:    make(map[string]*NodeHandle),
	}
}

type inputDecl struct {
	def        any
	hasDefault bool
	foreach    any
	hasForeach bool
	typ        reflect.Type
}

// InputOption configures an input declaration.
type InputOption func(*inputDecl)

// Default sets the value used when the input is not given. v may be a
// *NodeHandle, *Node or Stream, in which case the input is a stream.
func Default(v any) InputOption {
	return func(d *inputDecl) {
		d.def = v
		d.hasDefault = true
	}
}

// Foreach marks the input as driving per-item iteration, with v as default.
//
// Deprecated: foreach is validated at declaration time only and no runtime
// iterates over it.
func Foreach(v any) InputOption {
	return func(d *inputDecl) {
		d.foreach = v
		d.hasForeach = true
	}
}

// OfType declares the type of literal values the input accepts.
func OfType(t reflect.Type) InputOption {
	return func(d *inputDecl) {
		d.typ = t
	}
}

// Type is OfType for T.
func Type[T any]() InputOption {
	return OfType(reflect.TypeFor[T]())
}

// Input declares the input name of the node function fn. Declarations are
// consumed when fn is compiled with Node.
func (b *Builder) Input(fn any, name string, opts ...InputOption) error {
	id, err := funcIdentity(fn)
	if err != nil {
		return err
	}
	if _, done := b.compiled[id]; done {
		return fmt.Errorf("%w: cannot declare input %q on %s", ErrAlreadyCompiled, name, id)
	}

	var decl inputDecl
	for _, opt := range opts {
		opt(&decl)
	}

	if decl.hasDefault && decl.hasForeach {
		return fmt.Errorf("%w: input %q of %s", ErrDefaultAndForeach, name, id)
	}
	def, hasDefault := decl.def, decl.hasDefault
	if decl.hasForeach {
		def, hasDefault = decl.foreach, true
	}
	if decl.typ == nil && (!hasDefault || def == nil) {
		return fmt.Errorf("%w: input %q of %s", ErrTypeRequired, name, id)
	}

	if ref, isRef, valid := asRef(def); isRef {
		if !valid {
			return fmt.Errorf("%w: input %q of %s defaults to a nil node reference", ErrTypeRequired, name, id)
		}
		if decl.typ != nil {
			return fmt.Errorf("%w: input %q of %s", ErrTypedStream, name, id)
		}
		def = ref.stream()
	} else if decl.typ != nil && hasDefault && def != nil && !reflect.TypeOf(def).AssignableTo(decl.typ) {
		return fmt.Errorf("%w: input %q of %s defaults to %T, declared as %v", ErrInvalidDefault, name, id, def, decl.typ)
	}

	p, ok := b.pending[id]
	if !ok {
		p = &pendingInputs{}
		b.pending[id] = p
	}
	if decl.hasForeach {
		if p.foreach != "" {
			return fmt.Errorf("%w: %s declares %q and %q", ErrForeachConflict, id, p.foreach, name)
		}
	}
	if p.has(name) {
		return fmt.Errorf("%w: %q on %s", ErrInputNameCollision, name, id)
	}
	if decl.hasForeach {
		p.foreach = name
	}
	p.specs = append(p.specs, InputSpec{
		Name:       name,
		Type:       decl.typ,
		Default:    def,
		HasDefault: hasDefault,
	})
	return nil
}

// MustInput is like Input but panics on error.
func (b *Builder) MustInput(fn any, name string, opts ...InputOption) {
	must(b.Input(fn, name, opts...))
}

type nodeConfig struct {
	schema  any
	group   Group
	version *int
	name    string
}

// NodeOption configures node compilation.
type NodeOption func(*nodeConfig)

// WithSchema sets the output message schema: a dotted name, a protobuf
// message or descriptor, or a SchemaNamer.
var WithSchema = func(schema any) NodeOption {
	return func(c *nodeConfig) {
		c.schema = schema
	}
}

// WithGroup marks the default stream as a group of sub-streams.
var WithGroup = func(isGroup bool) NodeOption {
	return func(c *nodeConfig) {
		c.group = NewGroup(isGroup)
	}
}

// WithGroupTag marks the default stream as a tagged group.
var WithGroupTag = func(tag string) NodeOption {
	return func(c *nodeConfig) {
		c.group = TaggedGroup(tag)
	}
}

// WithVersion records a version on the node. It has no effect on execution.
var WithVersion = func(v int) NodeOption {
	return func(c *nodeConfig) {
		c.version = &v
	}
}

// WithName overrides the dotted function path derived from the function.
var WithName = func(path string) NodeOption {
	return func(c *nodeConfig) {
		c.name = path
	}
}

// Node compiles fn into a node using the inputs declared for it. fn must be a
// node body whose args struct has exactly one field per declared input.
func (b *Builder) Node(fn any, opts ...NodeOption) (*NodeHandle, error) {
	id, err := funcIdentity(fn)
	if err != nil {
		return nil, err
	}
	if _, done := b.compiled[id]; done {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCompiled, id)
	}
	sig, err := inspectBody(id, fn)
	if err != nil {
		return nil, err
	}

	var cfg nodeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	p := b.pending[id]
	delete(b.pending, id)
	if p == nil {
		p = &pendingInputs{}
	}

	declared := make([]string, len(p.specs))
	for i, spec := range p.specs {
		declared[i] = spec.Name
	}
	if diff := symmetricDifference(declared, sig.names()); len(diff) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrInputMismatch, id, strings.Join(diff, ", "))
	}
	unsupported := append(sig.unsupported, sig.checkTypes(p.specs)...)
	if len(unsupported) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnsupportedSignature, id, strings.Join(unsupported, "; "))
	}

	schema, err := resolveSchema(cfg.schema)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}

	path := id
	if cfg.name != "" {
		path = cfg.name
	}
	if _, exists := b.nodes[path]; exists {
		return nil, fmt.Errorf("%w: %s", ErrNodeAlreadyExists, path)
	}

	shape, err := NewInputsShape(path, p.specs)
	if err != nil {
		return nil, err
	}
	inputs, err := shape.New(nil)
	if err != nil {
		return nil, err
	}
	node, err := NewNode(NodeSpec{
		Function:      path,
		Inputs:        inputs,
		MessageSchema: schema,
		Group:         cfg.group,
		Version:       cfg.version,
		Foreach:       p.foreach,
	})
	if err != nil {
		return nil, err
	}

	h := &NodeHandle{node: node, body: reflect.ValueOf(fn), sig: sig}
	b.compiled[id] = h
	b.nodes[path] = h
	return h, nil
}

// MustNode is like Node but panics on error.
func (b *Builder) MustNode(fn any, opts ...NodeOption) *NodeHandle {
	h, err := b.Node(fn, opts...)
	must(err)
	return h
}

// Lookup returns the handle compiled for the node function path.
func (b *Builder) Lookup(function string) (*NodeHandle, bool) {
	h, ok := b.nodes[function]
	return h, ok
}

// Handles returns all compiled handles sorted by function path.
func (b *Builder) Handles() []*NodeHandle {
	out := make([]*NodeHandle, 0, len(b.nodes))
	for _, h := range b.nodes {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].node.function < out[j].node.function
	})
	return out
}

func symmetricDifference(a, b []string) []string {
	in := make(map[string]int, len(a)+len(b))
	for _, s := range a {
		in[s] |= 1
	}
	for _, s := range b {
		in[s] |= 2
	}
	var diff []string
	for s, mask := range in {
		if mask != 3 {
			diff = append(diff, s)
		}
	}
	sort.Strings(diff)
	return diff
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Sentinel errors for declaration and compilation failures. All of them are
// programmer errors and are returned at the call site.
var (
	ErrInputNameCollision   = errors.New("input name collision")
	ErrTypeRequired         = errors.New("type is required when no usable default is given")
	ErrTypedStream          = errors.New("type is not supported for input streams")
	ErrInvalidDefault       = errors.New("default does not match declared type")
	ErrDefaultAndForeach    = errors.New("default and foreach are mutually exclusive")
	ErrForeachConflict      = errors.New("only one input may declare foreach")
	ErrAlreadyCompiled      = errors.New("function already converted into node")
	ErrNotNodeBody          = errors.New("function is not a node body")
	ErrInputMismatch        = errors.New("declared inputs do not match parameters")
	ErrUnsupportedSignature = errors.New("only plain parameters matching declared inputs are allowed")
	ErrMalformedIdentity    = errors.New("malformed node identity")
	ErrInvalidSchema        = errors.New("invalid message schema")
	ErrBindInputs           = errors.New("cannot bind inputs")
	ErrNodeAlreadyExists    = errors.New("node already exists")
	ErrNodeNotFound         = errors.New("node not found")
	ErrCycleDetected        = errors.New("cycle detected in DAG")
	ErrInvalidTopology      = errors.New("invalid topology")
)
