package kproto

import (
	"bufio"
	"errors"
	"io"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/proto"
)

// Write appends msgs to w, each prefixed with its varint encoded size.
//
// Example:
//
//	f, _ := c.MakeFile(kio.Handle{}, "users.bin")
//	err := kproto.Write(f, users...)
func Write[T proto.Message](w io.Writer, msgs ...T) error {
	for _, msg := range msgs {
		if _, err := protodelim.MarshalTo(w, msg); err != nil {
			return err
		}
	}
	return nil
}

// ReadAll reads size-delimited messages written by Write until EOF. newFn
// creates an empty message to decode into.
//
// Example:
//
//	users, err := kproto.ReadAll(f, func() *pb.User { return &pb.User{} })
func ReadAll[T proto.Message](r io.Reader, newFn func() T) ([]T, error) {
	br := bufio.NewReader(r)
	var out []T
	for {
		msg := newFn()
		if err := protodelim.UnmarshalFrom(br, msg); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, msg)
	}
}

// ReadAllFor is ReadAll creating messages through reflection.
func ReadAllFor[T proto.Message](r io.Reader) ([]T, error) {
	return ReadAll(r, func() T {
		var zero T
		return zero.ProtoReflect().New().Interface().(T)
	})
}
