package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/knode/kdag"
	"github.com/birdayz/knode/kio"
	"golang.org/x/exp/slices"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

var errBoom = errors.New("boom")

type itemsArgs struct {
	Items []string `input:"items"`
}

func emitBody(ctx context.Context, c *kio.Conn, args itemsArgs) error {
	for _, item := range args.Items {
		if err := c.Push(item); err != nil {
			return err
		}
	}
	return nil
}

type inArgs struct {
	In kio.Handle `input:"in"`
}

func copyBody(ctx context.Context, c *kio.Conn, args inArgs) error {
	for {
		p, err := c.Pull(args.In)
		if err != nil || !p.OK {
			return err
		}
		if err := c.Push(p.Msg); err != nil {
			return err
		}
	}
}

func enumBody(ctx context.Context, c *kio.Conn, args inArgs) error {
	for {
		p, err := c.PullEnumerated(args.In)
		if err != nil || !p.OK {
			return err
		}
		if err := c.Push(p.String()); err != nil {
			return err
		}
	}
}

type zipArgs struct {
	Left  kio.Handle `input:"left"`
	Right kio.Handle `input:"right"`
}

func zipBody(ctx context.Context, c *kio.Conn, args zipArgs) error {
	for {
		ps, err := c.PullAll(args.Left, args.Right)
		if err != nil {
			return err
		}
		if !ps[0].OK && !ps[1].OK {
			return nil
		}
		if err := c.Push(ps[0].String() + " " + ps[1].String()); err != nil {
			return err
		}
	}
}

// splitBody creates the requested ones of its "even" and "odd" streams.
func splitBody(ctx context.Context, c *kio.Conn) error {
	requested, err := c.Requested()
	if err != nil {
		return err
	}
	if err := c.Push(strings.Join(requested, ",")); err != nil {
		return err
	}

	handles := make(map[string]kio.Handle)
	for _, name := range []string{"even", "odd"} {
		if !slices.Contains(requested, name) {
			continue
		}
		h, err := c.CreateStream(name, false, name+"-header")
		if err != nil {
			return err
		}
		handles[name] = h
		if _, err := c.CreateStream(name, false, nil); !errors.Is(err, ErrStreamExists) {
			return fmt.Errorf("expected collision on %s, got %v", name, err)
		}
	}

	for i := 0; i < 4; i++ {
		name := "even"
		if i%2 == 1 {
			name = "odd"
		}
		if h, ok := handles[name]; ok {
			if err := c.PushTo(h, i); err != nil {
				return err
			}
		}
	}
	return c.Push("done")
}

func fileBody(ctx context.Context, c *kio.Conn) error {
	if err := c.SetHeader("v1"); err != nil {
		return err
	}
	if _, err := c.MakeFile(kio.Handle{}, "../escape"); !errors.Is(err, ErrInvalidFileName) {
		return fmt.Errorf("expected invalid file name, got %v", err)
	}

	f, err := c.MakeFile(kio.Handle{}, "out.txt")
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte("payload")); err != nil {
		return err
	}
	if err := c.Push(f.Name()); err != nil {
		return err
	}
	return c.SetHeader("v2")
}

// nestedFilesBody writes one file into each of several streams whose names
// would collide or escape when used as plain path elements.
func nestedFilesBody(ctx context.Context, c *kio.Conn) error {
	for _, name := range []string{"a/b", "a_b", ".."} {
		h, err := c.CreateStream(name, false, nil)
		if err != nil {
			return err
		}
		f, err := c.MakeFile(h, "data.bin")
		if err != nil {
			return err
		}
		if _, err := f.Write([]byte("from " + name)); err != nil {
			return err
		}
		if _, err := c.MakeFile(h, "data.bin"); !errors.Is(err, ErrFileExists) {
			return fmt.Errorf("expected file exists, got %v", err)
		}
	}
	return nil
}

func loggerBody(ctx context.Context, c *kio.Conn) error {
	log, err := c.Logger()
	if err != nil {
		return err
	}
	log.Info("hello from body")
	return nil
}

// selfBody waits on a stream only it could ever feed.
func selfBody(ctx context.Context, c *kio.Conn) error {
	h, err := c.CreateStream("self", false, nil)
	if err != nil {
		return err
	}
	_, err = c.Pull(h)
	return err
}

func failBody(ctx context.Context, c *kio.Conn) error {
	if err := c.Push(1); err != nil {
		return err
	}
	return errBoom
}

func panicBody(ctx context.Context, c *kio.Conn) error {
	panic("broken")
}

func pullUnknownBody(ctx context.Context, c *kio.Conn) error {
	_, err := c.Pull(kio.NewHandle("pkg.nowhere", "", false))
	return err
}

func pushForeignBody(ctx context.Context, c *kio.Conn, args inArgs) error {
	return c.PushTo(args.In, "intruder")
}

func foreachBody(ctx context.Context, c *kio.Conn, args itemsArgs) error {
	return nil
}

// pipeline compiles every test body into one builder.
type pipeline struct {
	b *kdag.Builder

	emit, copy, enum, zip, split   *kdag.NodeHandle
	file, logger, self, fail, boom *kdag.NodeHandle
	nestedFiles                    *kdag.NodeHandle
	pullUnknown, pushForeign       *kdag.NodeHandle
	foreach                        *kdag.NodeHandle
}

func newPipeline() *pipeline {
	b := kdag.NewBuilder()
	p := &pipeline{b: b}

	b.MustInput(emitBody, "items", kdag.Type[[]string]())
	p.emit = b.MustNode(emitBody)

	b.MustInput(copyBody, "in", kdag.Default(p.emit))
	p.copy = b.MustNode(copyBody)

	b.MustInput(enumBody, "in", kdag.Default(p.emit))
	p.enum = b.MustNode(enumBody)

	b.MustInput(zipBody, "left", kdag.Default(p.emit))
	b.MustInput(zipBody, "right", kdag.Default(p.emit))
	p.zip = b.MustNode(zipBody)

	p.split = b.MustNode(splitBody, kdag.WithGroup(true))
	p.file = b.MustNode(fileBody)
	p.nestedFiles = b.MustNode(nestedFilesBody, kdag.WithGroup(true))
	p.logger = b.MustNode(loggerBody)
	p.self = b.MustNode(selfBody)
	p.fail = b.MustNode(failBody)
	p.boom = b.MustNode(panicBody)
	p.pullUnknown = b.MustNode(pullUnknownBody)

	b.MustInput(pushForeignBody, "in", kdag.Default(p.emit))
	p.pushForeign = b.MustNode(pushForeignBody)

	b.MustInput(foreachBody, "items", kdag.Foreach([]string{"a"}))
	p.foreach = b.MustNode(foreachBody)
	return p
}

func stampBody(ctx context.Context, c *kio.Conn) error {
	if err := c.Push(timestamppb.New(time.Unix(0, 0))); err != nil {
		return err
	}
	return c.Push(wrapperspb.String("not a timestamp"))
}

// items returns emit bound to the given messages.
func (p *pipeline) items(items ...string) *kdag.NodeHandle {
	return p.emit.MustClone(map[string]any{"items": items})
}

func run(t *testing.T, registry Registry, opts []Option, targets ...kdag.Ref) (*Result, error) {
	t.Helper()
	g, err := kdag.Collect(targets...)
	assert.NoError(t, err)
	return New(registry, g, opts...).Run(t.Context())
}
