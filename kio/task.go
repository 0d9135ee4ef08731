package kio

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is returned to a body whose task was closed while suspended.
	ErrClosed = errors.New("kio: task closed")
	// ErrUnexpectedReply is returned when the runtime resumes a body with a
	// value of the wrong type for the pending message.
	ErrUnexpectedReply = errors.New("kio: unexpected reply")
	// ErrBodyPanic wraps a panic raised inside a node body.
	ErrBodyPanic = errors.New("kio: node body panicked")
)

// Body is a node body driven through a Conn.
type Body func(ctx context.Context, c *Conn) error

type reply struct {
	v   any
	err error
}

// Task drives a Body as a cooperative coroutine. The body runs on its own
// goroutine but never concurrently with its driver: control passes back and
// forth at every message. Task is not safe for concurrent use by multiple
// drivers.
//
// The driver calls Next once to receive the first message, then Resume with
// the reply to each message until either returns false.
type Task struct {
	name string
	body Body

	ctx    context.Context
	cancel context.CancelFunc

	yield  chan Message
	resume chan reply
	done   chan struct{}

	started bool
	closed  bool
	err     error

	closeOnce sync.Once
}

// NewTask creates a task for body. The body does not run until Next.
func NewTask(ctx context.Context, name string, body Body) *Task {
	ctx, cancel := context.WithCancel(ctx)
	return &Task{
		name:   name,
		body:   body,
		ctx:    ctx,
		cancel: cancel,
		yield:  make(chan Message),
		resume: make(chan reply),
		done:   make(chan struct{}),
	}
}

// Name returns the name the task was created with.
func (t *Task) Name() string {
	return t.name
}

// Next starts the body and returns its first message. It returns false if the
// body finished without sending any message.
func (t *Task) Next() (Message, bool) {
	if t.closed || t.started {
		return nil, false
	}
	t.started = true
	go t.run()
	return t.await()
}

// Resume hands the reply to the pending message back to the body and returns
// the next message. It returns false once the body has finished.
func (t *Task) Resume(v any, err error) (Message, bool) {
	if t.closed || !t.started {
		return nil, false
	}
	select {
	case t.resume <- reply{v: v, err: err}:
	case <-t.done:
		return nil, false
	}
	return t.await()
}

// Done reports whether the body has returned.
func (t *Task) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err returns the error the body returned. It is only meaningful once Done.
func (t *Task) Err() error {
	if !t.Done() {
		return nil
	}
	return t.err
}

// Close tears the task down at whatever point it is suspended. No message is
// delivered afterwards. Close waits for the body to return and reports its
// error, ignoring the one caused by closing.
func (t *Task) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed = true
		t.cancel()
		if !t.started {
			return
		}
		<-t.done
		if t.err != nil && !errors.Is(t.err, ErrClosed) && !errors.Is(t.err, context.Canceled) {
			err = t.err
		}
	})
	return err
}

func (t *Task) run() {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("%w: %s: %v", ErrBodyPanic, t.name, r)
		}
	}()
	t.err = t.body(t.ctx, &Conn{task: t})
}

func (t *Task) await() (Message, bool) {
	select {
	case msg := <-t.yield:
		return msg, true
	case <-t.done:
		return nil, false
	}
}

// send suspends the body until the driver replies.
func (t *Task) send(msg Message) (any, error) {
	select {
	case t.yield <- msg:
	case <-t.ctx.Done():
		return nil, ErrClosed
	}
	select {
	case r := <-t.resume:
		return r.v, r.err
	case <-t.ctx.Done():
		return nil, ErrClosed
	}
}
