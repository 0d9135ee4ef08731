// Package runtime executes a collected kdag.Graph in memory. All node bodies
// of a run are driven cooperatively from a single goroutine: at any time at
// most one body is running, and control returns to the scheduler at every
// control message.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/birdayz/knode/kdag"
	"github.com/birdayz/knode/kio"
	"github.com/birdayz/knode/kproto"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

type RunState string

const (
	StateCreated        = "CREATED"
	StateRunning        = "RUNNING"
	StateCloseRequested = "CLOSE_REQUESTED"
	StateClosed         = "CLOSED"
)

// Registry resolves node function paths to compiled bodies. *kdag.Builder
// implements it.
type Registry interface {
	Lookup(function string) (*kdag.NodeHandle, bool)
}

type Option func(*Runner)

// WithLog sets the logger. Node loggers are derived from it.
var WithLog = func(log *slog.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// WithScratchDir sets the directory MakeFile allocates files under. If unset,
// a temporary directory is created on first use and reported in the Result.
var WithScratchDir = func(dir string) Option {
	return func(r *Runner) {
		r.scratchDir = dir
	}
}

// Runner drives one run of a graph. A Runner is single-use.
type Runner struct {
	log        *slog.Logger
	registry   Registry
	graph      *kdag.Graph
	scratchDir string

	ctx   context.Context
	state RunState

	tasks   []*nodeTask
	byID    map[kdag.NodeID]*nodeTask
	streams map[uuid.UUID]*stream

	err error
}

// nodeTask is one graph node being executed.
type nodeTask struct {
	id   kdag.NodeID
	gn   *kdag.GraphNode
	log  *slog.Logger
	task *kio.Task

	// out is the default stream. reserved holds named streams selected by
	// consumers that the node has not necessarily created yet.
	out      *stream
	reserved map[string]*stream
	owned    []*stream

	cursors map[uuid.UUID]*cursor

	// pending is the message the node is blocked on.
	pending kio.Message
	done    bool
}

// New creates a runner for graph, resolving bodies through registry.
func New(registry Registry, graph *kdag.Graph, opts ...Option) *Runner {
	r := &Runner{
		log:      slog.New(slog.DiscardHandler),
		registry: registry,
		graph:    graph,
		state:    StateCreated,
		byID:     make(map[kdag.NodeID]*nodeTask, len(graph.Nodes)),
		streams:  make(map[uuid.UUID]*stream),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) changeState(newState RunState) {
	r.log.Debug("Change state", "from", r.state, "to", newState)
	r.state = newState
}

// Run executes every node of the graph until all of them have finished, one
// of them fails, the run deadlocks or ctx is done.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.state != StateCreated {
		return nil, ErrAlreadyRun
	}
	r.ctx = ctx

	// State transitions may only be done from within the loop
	for {
		switch r.state {
		case StateCreated:
			r.handleCreated()
		case StateRunning:
			r.handleRunning()
		case StateCloseRequested:
			r.handleCloseRequested()
		case StateClosed:
			if r.err != nil {
				return nil, r.err
			}
			return r.result(), nil
		}
	}
}

func (r *Runner) handleCreated() {
	for _, id := range r.graph.NodeOrder {
		nt, err := r.setup(r.graph.Nodes[id])
		if err != nil {
			r.err = &NodeError{Cause: err, Stage: StageSetup, Node: string(id)}
			r.changeState(StateCloseRequested)
			return
		}
		r.tasks = append(r.tasks, nt)
		r.byID[id] = nt
	}

	r.changeState(StateRunning)
	for _, nt := range r.tasks {
		msg, ok := nt.task.Next()
		if err := r.step(nt, msg, ok); err != nil {
			r.err = err
			r.changeState(StateCloseRequested)
			return
		}
	}
}

func (r *Runner) handleRunning() {
	if err := r.ctx.Err(); err != nil {
		r.err = err
		r.changeState(StateCloseRequested)
		return
	}

	var blocked []string
	progress := false
	for _, nt := range r.tasks {
		if nt.done {
			continue
		}
		reply, ready, err := r.poll(nt, nt.pending)
		if !ready {
			blocked = append(blocked, fmt.Sprintf("%s on %s", nt.id, describe(nt.pending)))
			continue
		}
		progress = true
		nt.pending = nil
		msg, ok := nt.task.Resume(reply, err)
		if err := r.step(nt, msg, ok); err != nil {
			r.err = err
			r.changeState(StateCloseRequested)
			return
		}
	}

	if !progress {
		if len(blocked) > 0 {
			r.err = fmt.Errorf("%w: %s", ErrDeadlock, strings.Join(blocked, ", "))
		}
		r.changeState(StateCloseRequested)
	}
}

func (r *Runner) handleCloseRequested() {
	var err error
	for _, nt := range r.tasks {
		if !nt.done {
			if cerr := nt.task.Close(); cerr != nil {
				err = multierr.Append(err, &NodeError{Cause: cerr, Stage: StageTeardown, Node: string(nt.id)})
			}
		}
		for _, s := range nt.owned {
			err = multierr.Append(err, s.finish())
		}
	}
	if err != nil {
		r.log.Error("Teardown failed", "error", err)
		if r.err == nil {
			r.err = err
		}
	}
	r.changeState(StateClosed)
}

// setup resolves the body of gn, allocates its streams and binds its inputs.
// Parents are set up before their children.
func (r *Runner) setup(gn *kdag.GraphNode) (*nodeTask, error) {
	node := gn.Node
	h, ok := r.registry.Lookup(node.Function())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBody, node.Function())
	}
	if node.Foreach() != "" {
		return nil, fmt.Errorf("%w: %s iterates over %q", ErrForeachUnsupported, node.Function(), node.Foreach())
	}

	nt := &nodeTask{
		id:       gn.ID,
		gn:       gn,
		log:      r.log.With("node", string(gn.ID)),
		reserved: make(map[string]*stream),
		cursors:  make(map[uuid.UUID]*cursor),
	}
	nt.out = r.register(nt, nil, kio.NewHandle(node.Function(), "", node.Group().IsGroup()))
	nt.out.created = true
	for _, name := range gn.Requested {
		if name == "" {
			continue
		}
		s := r.register(nt, nt.out, kio.NewHandle(node.Function(), name, false))
		nt.out.children[name] = s
		nt.reserved[name] = s
	}

	args, err := r.bind(node)
	if err != nil {
		return nil, err
	}
	nt.task = kio.NewTask(r.ctx, string(gn.ID), h.Bind(args))
	return nt, nil
}

func (r *Runner) register(owner *nodeTask, parent *stream, h kio.Handle) *stream {
	s := newStream(h, owner, parent)
	r.streams[h.ID] = s
	owner.owned = append(owner.owned, s)
	return s
}

// bind turns the inputs of node into body arguments. Stream inputs are
// replaced by the handle of the upstream stream.
func (r *Runner) bind(node *kdag.Node) (map[string]any, error) {
	in := node.Inputs()
	if in == nil {
		return nil, nil
	}
	if missing := in.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrMissingInput, node.Function(), strings.Join(missing, ", "))
	}
	args := in.Values()
	for _, ns := range in.Streams() {
		parent, ok := r.byID[kdag.IDOf(ns.Stream.Node())]
		if !ok {
			return nil, fmt.Errorf("%w: %s", kdag.ErrNodeNotFound, ns.Stream)
		}
		s := parent.out
		if name := ns.Stream.Name(); name != "" {
			s = parent.reserved[name]
		}
		args[ns.Input] = s.handle
	}
	return args, nil
}

// step answers messages of nt until it blocks or finishes.
func (r *Runner) step(nt *nodeTask, msg kio.Message, ok bool) error {
	for ok {
		reply, ready, err := r.handle(nt, msg)
		if !ready {
			nt.pending = msg
			return nil
		}
		msg, ok = nt.task.Resume(reply, err)
	}
	return r.finish(nt)
}

func (r *Runner) finish(nt *nodeTask) error {
	nt.done = true
	var err error
	for _, s := range nt.owned {
		err = multierr.Append(err, s.finish())
	}
	if berr := nt.task.Err(); berr != nil {
		err = multierr.Append(berr, err)
	}
	if err != nil {
		nt.log.Error("Node failed", "error", err)
		return &NodeError{Cause: err, Stage: StageExecute, Node: string(nt.id)}
	}
	nt.log.Debug("Node finished", "messages", len(nt.out.messages))
	return nil
}

// handle answers msg. ready is false if msg has to wait for upstream nodes.
func (r *Runner) handle(nt *nodeTask, msg kio.Message) (reply any, ready bool, err error) {
	switch m := msg.(type) {
	case kio.Pull, kio.PullAll:
		return r.poll(nt, m)
	case kio.Push:
		s, err := r.output(nt, m.Stream)
		if err != nil {
			return nil, true, err
		}
		if s == nt.out {
			if err := kproto.Check(nt.gn.Node.MessageSchema(), m.Output); err != nil {
				return nil, true, err
			}
		}
		s.messages = append(s.messages, m.Output)
		return nil, true, nil
	case kio.SetHeader:
		s, err := r.output(nt, m.Stream)
		if err != nil {
			return nil, true, err
		}
		s.header = m.Header
		return nil, true, nil
	case kio.CreateStream:
		h, err := r.createStream(nt, m)
		return h, true, err
	case kio.MakeFile:
		f, err := r.makeFile(nt, m)
		if err != nil {
			return nil, true, err
		}
		return f, true, nil
	case kio.GetLogger:
		return nt.log.With("stream", nt.out.handle.String()), true, nil
	case kio.GetRequested:
		return append([]string{}, nt.gn.Requested...), true, nil
	default:
		return nil, true, fmt.Errorf("%w: %T", ErrUnexpectedMessage, msg)
	}
}

// poll answers a Pull or PullAll if every involved stream has a message or is
// exhausted.
func (r *Runner) poll(nt *nodeTask, msg kio.Message) (any, bool, error) {
	switch m := msg.(type) {
	case kio.Pull:
		c, err := r.cursor(nt, m.Handle)
		if err != nil {
			return nil, true, err
		}
		if !c.ready() {
			return nil, false, nil
		}
		return c.read(m.Enumerate), true, nil
	case kio.PullAll:
		cursors := make([]*cursor, len(m.Handles))
		for i, h := range m.Handles {
			c, err := r.cursor(nt, h)
			if err != nil {
				return nil, true, err
			}
			if !c.ready() {
				return nil, false, nil
			}
			cursors[i] = c
		}
		out := make([]kio.Pulled, len(cursors))
		for i, c := range cursors {
			out[i] = c.read(false)
		}
		return out, true, nil
	default:
		return nil, true, fmt.Errorf("%w: %T", ErrUnexpectedMessage, msg)
	}
}

func (r *Runner) cursor(nt *nodeTask, h kio.Handle) (*cursor, error) {
	if c, ok := nt.cursors[h.ID]; ok {
		return c, nil
	}
	s, ok := r.streams[h.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, h)
	}
	c := &cursor{stream: s}
	nt.cursors[h.ID] = c
	return c, nil
}

// output resolves a stream nt may write to. The zero handle is the default
// stream.
func (r *Runner) output(nt *nodeTask, h kio.Handle) (*stream, error) {
	if h.IsZero() {
		return nt.out, nil
	}
	s, ok := r.streams[h.ID]
	if !ok || !s.created {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, h)
	}
	if s.owner != nt {
		return nil, fmt.Errorf("%w: %s", ErrForeignStream, h)
	}
	return s, nil
}

func (r *Runner) createStream(nt *nodeTask, m kio.CreateStream) (kio.Handle, error) {
	if m.Name == "" {
		return kio.Handle{}, fmt.Errorf("%w: empty name", ErrInvalidStreamName)
	}
	parent, err := r.output(nt, m.Parent)
	if err != nil {
		return kio.Handle{}, err
	}

	if s, exists := parent.children[m.Name]; exists {
		if s.created {
			return kio.Handle{}, fmt.Errorf("%w: %s under %s", ErrStreamExists, m.Name, parent.handle)
		}
		// Reserved by a consumer; keep the handle it was bound to.
		s.created = true
		s.handle.Group = m.Group
		s.header = m.Header
		parent.order = append(parent.order, m.Name)
		return s.handle, nil
	}

	s := r.register(nt, parent, kio.NewHandle(nt.gn.Node.Function(), m.Name, m.Group))
	s.created = true
	s.header = m.Header
	parent.addChild(s)
	return s.handle, nil
}

func (r *Runner) makeFile(nt *nodeTask, m kio.MakeFile) (kio.File, error) {
	s, err := r.output(nt, m.Handle)
	if err != nil {
		return nil, err
	}
	if m.Name == "" || m.Name != filepath.Base(m.Name) || m.Name == "." || m.Name == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFileName, m.Name)
	}

	if r.scratchDir == "" {
		dir, err := os.MkdirTemp("", "knode-")
		if err != nil {
			return nil, err
		}
		r.scratchDir = dir
	}
	dir := streamDir(r.scratchDir, nt.id, s)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, m.Name), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %q on %s", ErrFileExists, m.Name, s.handle)
		}
		return nil, err
	}
	s.files = append(s.files, f)
	s.filePaths = append(s.filePaths, f.Name())
	return f, nil
}

func describe(msg kio.Message) string {
	switch m := msg.(type) {
	case kio.Pull:
		return m.Handle.String()
	case kio.PullAll:
		names := make([]string, len(m.Handles))
		for i, h := range m.Handles {
			names[i] = h.String()
		}
		sort.Strings(names)
		return strings.Join(names, "+")
	default:
		return fmt.Sprintf("%T", msg)
	}
}
