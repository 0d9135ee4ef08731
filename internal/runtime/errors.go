package runtime

import (
	"errors"
	"fmt"
)

var (
	ErrStreamExists       = errors.New("stream already exists")
	ErrInvalidStreamName  = errors.New("invalid stream name")
	ErrUnknownStream      = errors.New("unknown stream")
	ErrForeignStream      = errors.New("stream is owned by another node")
	ErrInvalidFileName    = errors.New("invalid file name")
	ErrFileExists         = errors.New("file already allocated")
	ErrUnexpectedMessage  = errors.New("unexpected message")
	ErrDeadlock           = errors.New("deadlock: no node can make progress")
	ErrMissingInput       = errors.New("missing input")
	ErrForeachUnsupported = errors.New("foreach nodes are not supported")
	ErrNoBody             = errors.New("no body registered for node")
	ErrAlreadyRun         = errors.New("runner already used")
)

// Stage indicates where in a node's lifecycle an error occurred
type Stage string

const (
	StageSetup    Stage = "setup"
	StageExecute  Stage = "execute"
	StageTeardown Stage = "teardown"
)

// NodeError wraps an error with node attribution for debugging.
type NodeError struct {
	// Cause is the underlying error
	Cause error

	// Stage identifies where the error occurred
	Stage Stage

	// Node is the graph identifier of the failing node
	Node string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s error in node %q: %v", e.Stage, e.Node, e.Cause)
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}
