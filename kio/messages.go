package kio

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Handle is a runtime-assigned reference to a stream. Node bodies treat it as
// opaque and only pass it back in messages.
type Handle struct {
	ID    uuid.UUID
	Node  string
	Name  string
	Group bool
}

// NewHandle allocates a handle with a fresh identity.
func NewHandle(node, name string, group bool) Handle {
	return Handle{ID: uuid.New(), Node: node, Name: name, Group: group}
}

// IsZero reports whether h is the zero Handle. In Push and SetHeader the zero
// Handle addresses the current output stream.
func (h Handle) IsZero() bool {
	return h.ID == uuid.Nil
}

func (h Handle) String() string {
	if h.Name == "" {
		return h.Node
	}
	return h.Node + "/" + h.Name
}

// Message is one control message exchanged between a node body and the
// runtime driving it. The set of messages is closed.
type Message interface {
	message()
}

// CreateStream registers a new output stream under Parent. A zero Parent is
// the node's default stream. Replies with the new Handle.
type CreateStream struct {
	Parent Handle
	Name   string
	Group  bool
	Header any
}

// GetLogger replies with a *slog.Logger scoped to the node instance.
type GetLogger struct{}

// GetRequested replies with the sorted names of this node's outputs that
// consumers need. The default stream is reported as "".
type GetRequested struct{}

// MakeFile allocates a file tied to the stream of Handle. Replies with a File.
type MakeFile struct {
	Handle Handle
	Name   string
}

// Pull waits for the next message of Handle. Replies with a Pulled.
type Pull struct {
	Handle    Handle
	Enumerate bool
}

// PullAll waits until every handle not yet exhausted has a message or is
// exhausted. Replies with one Pulled per handle, in handle order.
type PullAll struct {
	Handles []Handle
}

// Push appends Output to Stream, or to the current output stream if Stream
// is zero. Push does not wait for a reply.
type Push struct {
	Output any
	Stream Handle
}

// SetHeader replaces the header of Stream, or of the current output stream
// if Stream is zero.
type SetHeader struct {
	Header any
	Stream Handle
}

func (CreateStream) message() {}
func (GetLogger) message()    {}
func (GetRequested) message() {}
func (MakeFile) message()     {}
func (Pull) message()         {}
func (PullAll) message()      {}
func (Push) message()         {}
func (SetHeader) message()    {}

// Pulled is the reply to Pull and one element of the reply to PullAll.
type Pulled struct {
	// Index is the position of Msg within its stream, starting at 0. It is
	// only reported for enumerating pulls.
	Index int
	Msg   any
	// OK is false once the stream is exhausted.
	OK bool
}

func (p Pulled) String() string {
	if !p.OK {
		return "<exhausted>"
	}
	return fmt.Sprintf("%d:%v", p.Index, p.Msg)
}

// File is the reply to MakeFile. The runtime owns the file and closes it once
// the node owning its stream finishes.
type File interface {
	io.WriteCloser
	Name() string
}
