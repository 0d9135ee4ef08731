package kdag

import (
	"context"

	"github.com/birdayz/knode/kio"
)

// Test node bodies. Each one has its own identity so a fresh Builder can
// compile any of them once.

func sourceBody(ctx context.Context, c *kio.Conn) error {
	for i := 0; i < 3; i++ {
		if err := c.Push(i); err != nil {
			return err
		}
	}
	return nil
}

func otherSourceBody(ctx context.Context, c *kio.Conn) error {
	return c.Push("other")
}

type scaleArgs struct {
	In     kio.Handle `input:"in"`
	Factor int        `input:"factor"`
}

func scaleBody(ctx context.Context, c *kio.Conn, args scaleArgs) error {
	for {
		p, err := c.Pull(args.In)
		if err != nil || !p.OK {
			return err
		}
		if err := c.Push(p.Msg.(int) * args.Factor); err != nil {
			return err
		}
	}
}

type xyArgs struct {
	X any `input:"x"`
	Y int `input:"y"`
}

func xyBody(ctx context.Context, c *kio.Conn, args xyArgs) error {
	return nil
}

type acArgs struct {
	A int `input:"a"`
	C int `input:"c"`
}

func acBody(ctx context.Context, c *kio.Conn, args acArgs) error {
	return nil
}

type pairArgs struct {
	Left  kio.Handle `input:"left"`
	Right kio.Handle `input:"right"`
}

func pairBody(ctx context.Context, c *kio.Conn, args pairArgs) error {
	return nil
}

type untaggedArgs struct {
	Limit int
}

func untaggedBody(ctx context.Context, c *kio.Conn, args untaggedArgs) error {
	return c.Push(args.Limit)
}

type embedded struct{}

type embeddedArgs struct {
	embedded
	A int `input:"a"`
}

func embeddedBody(ctx context.Context, c *kio.Conn, args embeddedArgs) error {
	return nil
}

type unexportedArgs struct {
	a int
}

func unexportedBody(ctx context.Context, c *kio.Conn, args unexportedArgs) error {
	return nil
}

type taggedArgs struct {
	A int `input:"a,default=3"`
}

func taggedBody(ctx context.Context, c *kio.Conn, args taggedArgs) error {
	return nil
}

func variadicBody(ctx context.Context, c *kio.Conn, args ...acArgs) error {
	return nil
}

func notABody(n int) error {
	return nil
}

func intArgsBody(ctx context.Context, c *kio.Conn, n int) error {
	return nil
}

// newSource compiles sourceBody with a fresh builder.
func newSource() *NodeHandle {
	return NewBuilder().MustNode(sourceBody, WithGroup(true))
}

type nArgs struct {
	N int `input:"n"`
}

//go:noinline
func literalBody(offset int) func(context.Context, *kio.Conn, nArgs) error {
	return func(ctx context.Context, c *kio.Conn, args nArgs) error {
		return c.Push(args.N + offset)
	}
}
