package kio

import (
	"fmt"
	"log/slog"
	"reflect"
)

// Conn is a node body's side of the protocol. Every method issues exactly one
// message and suspends the body until the runtime replies.
type Conn struct {
	task *Task
}

// Send issues msg and returns the runtime's raw reply.
func (c *Conn) Send(msg Message) (any, error) {
	return c.task.send(msg)
}

// Pull returns the next message of h. Pulled.OK is false once h is exhausted.
func (c *Conn) Pull(h Handle) (Pulled, error) {
	return expect[Pulled](c.Send(Pull{Handle: h}))
}

// PullEnumerated is Pull with Pulled.Index set to the message position.
func (c *Conn) PullEnumerated(h Handle) (Pulled, error) {
	return expect[Pulled](c.Send(Pull{Handle: h, Enumerate: true}))
}

// PullAll returns one Pulled per handle, in the order given.
func (c *Conn) PullAll(handles ...Handle) ([]Pulled, error) {
	return expect[[]Pulled](c.Send(PullAll{Handles: handles}))
}

// Push appends output to the current output stream.
func (c *Conn) Push(output any) error {
	_, err := c.Send(Push{Output: output})
	return err
}

// PushTo appends output to the stream of h.
func (c *Conn) PushTo(h Handle, output any) error {
	_, err := c.Send(Push{Output: output, Stream: h})
	return err
}

// SetHeader replaces the header of the current output stream.
func (c *Conn) SetHeader(header any) error {
	_, err := c.Send(SetHeader{Header: header})
	return err
}

// SetStreamHeader replaces the header of the stream of h.
func (c *Conn) SetStreamHeader(h Handle, header any) error {
	_, err := c.Send(SetHeader{Header: header, Stream: h})
	return err
}

// CreateStream creates a named stream under the node's default stream.
func (c *Conn) CreateStream(name string, group bool, header any) (Handle, error) {
	return c.CreateStreamUnder(Handle{}, name, group, header)
}

// CreateStreamUnder creates a named stream under parent.
func (c *Conn) CreateStreamUnder(parent Handle, name string, group bool, header any) (Handle, error) {
	return expect[Handle](c.Send(CreateStream{Parent: parent, Name: name, Group: group, Header: header}))
}

// MakeFile allocates a file associated with the stream of h.
func (c *Conn) MakeFile(h Handle, name string) (File, error) {
	return expect[File](c.Send(MakeFile{Handle: h, Name: name}))
}

// Logger returns a logger scoped to the running node.
func (c *Conn) Logger() (*slog.Logger, error) {
	return expect[*slog.Logger](c.Send(GetLogger{}))
}

// Requested returns the names of this node's outputs that are needed.
func (c *Conn) Requested() ([]string, error) {
	return expect[[]string](c.Send(GetRequested{}))
}

func expect[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, expected %v", ErrUnexpectedReply, v, reflect.TypeFor[T]())
	}
	return typed, nil
}
