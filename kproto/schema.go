// Package kproto connects protobuf messages to node streams: checking pushed
// messages against a node's declared schema, and storing message sequences in
// node files.
package kproto

import (
	"errors"
	"fmt"

	"github.com/birdayz/knode/kdag"
	"google.golang.org/protobuf/proto"
)

// ErrSchemaMismatch is returned when a message does not have the schema its
// stream declares.
var ErrSchemaMismatch = errors.New("message schema mismatch")

// Check verifies that msg has the dotted schema name schema. Messages that are
// not protobuf messages, and streams without schema, always pass.
func Check(schema string, msg any) error {
	if schema == "" {
		return nil
	}
	m, ok := msg.(proto.Message)
	if !ok {
		return nil
	}
	got, err := kdag.SchemaName(m)
	if err != nil {
		return err
	}
	if got != schema {
		return fmt.Errorf("%w: expected %s, got %s", ErrSchemaMismatch, schema, got)
	}
	return nil
}
