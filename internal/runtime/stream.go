package runtime

import (
	"errors"
	"os"

	"github.com/birdayz/knode/kio"
	"go.uber.org/multierr"
)

// stream is an in-memory output stream. Messages are kept for the whole run so
// every consumer reads the full sequence through its own cursor.
type stream struct {
	handle kio.Handle
	owner  *nodeTask
	parent *stream

	header   any
	messages []any

	// created is false for a reserved stream that its node has not created.
	created  bool
	finished bool

	children map[string]*stream
	order    []string

	files     []*os.File
	filePaths []string
}

func newStream(handle kio.Handle, owner *nodeTask, parent *stream) *stream {
	return &stream{
		handle:   handle,
		owner:    owner,
		parent:   parent,
		children: make(map[string]*stream),
	}
}

func (s *stream) addChild(child *stream) {
	s.children[child.handle.Name] = child
	s.order = append(s.order, child.handle.Name)
}

// finish marks the stream final and releases its files.
func (s *stream) finish() error {
	s.finished = true
	var err error
	for _, f := range s.files {
		if cerr := f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	s.files = nil
	return err
}

// cursor tracks a consumer's read position on one stream.
type cursor struct {
	stream *stream
	next   int
}

// ready reports whether the next read can be answered now, either with a
// message or with exhaustion.
func (c *cursor) ready() bool {
	return c.next < len(c.stream.messages) || c.stream.finished
}

// read returns the next message. It must only be called when ready.
func (c *cursor) read(enumerate bool) kio.Pulled {
	if c.next >= len(c.stream.messages) {
		return kio.Pulled{}
	}
	p := kio.Pulled{Msg: c.stream.messages[c.next], OK: true}
	if enumerate {
		p.Index = c.next
	}
	c.next++
	return p
}
