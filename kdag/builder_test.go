package kdag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/birdayz/knode/kio"
	"github.com/birdayz/knode/kvalue"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func TestNewBuilder(t *testing.T) {
	b := NewBuilder()
	assert.NotZero(t, b)
	assert.Equal(t, 0, len(b.Handles()))
	_, ok := b.Lookup("kdag.missing")
	assert.False(t, ok)
}

func TestInput(t *testing.T) {
	t.Run("default and foreach are exclusive", func(t *testing.T) {
		b := NewBuilder()
		err := b.Input(xyBody, "y", Default(1), Foreach(2))
		assert.True(t, errors.Is(err, ErrDefaultAndForeach))
	})

	t.Run("type required without usable default", func(t *testing.T) {
		b := NewBuilder()
		assert.True(t, errors.Is(b.Input(xyBody, "y"), ErrTypeRequired))
		assert.True(t, errors.Is(b.Input(xyBody, "y", Default(nil)), ErrTypeRequired))
		assert.True(t, errors.Is(b.Input(xyBody, "y", Foreach(nil)), ErrTypeRequired))
		assert.NoError(t, b.Input(xyBody, "y", Type[int]()))
	})

	t.Run("node default becomes stream", func(t *testing.T) {
		src := newSource()
		b := NewBuilder()
		assert.NoError(t, b.Input(scaleBody, "in", Default(src)))
		assert.NoError(t, b.Input(scaleBody, "factor", Default(2)))
		h := b.MustNode(scaleBody)

		v, ok := h.Node().Inputs().Get("in")
		assert.True(t, ok)
		assert.True(t, src.Stream().Equal(v.(Stream)))
		spec, ok := h.Node().Inputs().Shape().Spec("in")
		assert.True(t, ok)
		assert.Zero(t, spec.Type)
	})

	t.Run("streams cannot be typed", func(t *testing.T) {
		b := NewBuilder()
		err := b.Input(scaleBody, "in", Default(newSource()), Type[kio.Handle]())
		assert.True(t, errors.Is(err, ErrTypedStream))
	})

	t.Run("default must match type", func(t *testing.T) {
		b := NewBuilder()
		err := b.Input(xyBody, "y", Default("one"), Type[int]())
		assert.True(t, errors.Is(err, ErrInvalidDefault))
	})

	t.Run("duplicate name", func(t *testing.T) {
		b := NewBuilder()
		assert.NoError(t, b.Input(xyBody, "y", Default(1)))
		err := b.Input(xyBody, "y", Default(2))
		assert.True(t, errors.Is(err, ErrInputNameCollision))
		assert.Contains(t, err.Error(), `"y"`)
	})

	t.Run("same name on different functions", func(t *testing.T) {
		b := NewBuilder()
		assert.NoError(t, b.Input(acBody, "a", Default(1)))
		assert.NoError(t, b.Input(taggedBody, "a", Default(1)))
	})

	t.Run("foreach on one input only", func(t *testing.T) {
		b := NewBuilder()
		assert.NoError(t, b.Input(acBody, "a", Foreach(1)))
		err := b.Input(acBody, "c", Foreach(2))
		assert.True(t, errors.Is(err, ErrForeachConflict))
	})

	t.Run("not a function", func(t *testing.T) {
		b := NewBuilder()
		assert.True(t, errors.Is(b.Input(42, "a", Default(1)), ErrNotNodeBody))
	})

	t.Run("after compilation", func(t *testing.T) {
		b := NewBuilder()
		b.MustNode(sourceBody)
		err := b.Input(sourceBody, "a", Default(1))
		assert.True(t, errors.Is(err, ErrAlreadyCompiled))
	})
}

func TestNode(t *testing.T) {
	t.Run("compiles declared inputs", func(t *testing.T) {
		src := newSource()
		b := NewBuilder()
		b.MustInput(scaleBody, "in", Default(src))
		b.MustInput(scaleBody, "factor", Type[int]())

		h, err := b.Node(scaleBody, WithSchema("pkg.types.Scaled"), WithVersion(3))
		assert.NoError(t, err)

		n := h.Node()
		assert.True(t, strings.HasSuffix(n.Function(), "kdag.scaleBody"))
		assert.Equal(t, "pkg.types.Scaled", n.MessageSchema())
		assert.False(t, n.Group().IsGroup())
		v, ok := n.Version()
		assert.True(t, ok)
		assert.Equal(t, 3, v)
		assert.Equal(t, "", n.Foreach())
		assert.Equal(t, []string{"in", "factor"}, n.Inputs().Shape().Names())
		assert.Equal(t, []string{"factor"}, n.Inputs().Missing())

		got, ok := b.Lookup(n.Function())
		assert.True(t, ok)
		assert.Equal(t, h, got)
	})

	t.Run("parameter mismatch names symmetric difference", func(t *testing.T) {
		b := NewBuilder()
		b.MustInput(acBody, "a", Default(1))
		b.MustInput(acBody, "b", Default(2))

		_, err := b.Node(acBody)
		assert.True(t, errors.Is(err, ErrInputMismatch))
		assert.True(t, strings.HasSuffix(err.Error(), ": b, c"))
	})

	t.Run("compile twice", func(t *testing.T) {
		b := NewBuilder()
		first := b.MustNode(sourceBody, WithGroup(true))
		before := first.Node()

		_, err := b.Node(sourceBody)
		assert.True(t, errors.Is(err, ErrAlreadyCompiled))
		assert.Equal(t, before, first.Node())
		assert.True(t, first.Node().Group().IsGroup())

		got, ok := b.Lookup(before.Function())
		assert.True(t, ok)
		assert.Equal(t, first, got)
	})

	t.Run("not a node body", func(t *testing.T) {
		b := NewBuilder()
		_, err := b.Node(notABody)
		assert.True(t, errors.Is(err, ErrNotNodeBody))
		_, err = b.Node(intArgsBody)
		assert.True(t, errors.Is(err, ErrNotNodeBody))
		_, err = b.Node("scan")
		assert.True(t, errors.Is(err, ErrNotNodeBody))
	})

	t.Run("function literals", func(t *testing.T) {
		b := NewBuilder()
		first, second := literalBody(1), literalBody(2)

		err := b.Input(first, "n", Default(1))
		assert.True(t, errors.Is(err, ErrNotNodeBody))
		assert.Contains(t, err.Error(), "function literal")

		_, err = b.Node(second, WithName("kdag.second"))
		assert.True(t, errors.Is(err, ErrNotNodeBody))

		_, err = b.Node(func(ctx context.Context, c *kio.Conn) error { return nil })
		assert.True(t, errors.Is(err, ErrNotNodeBody))
		assert.Equal(t, 0, len(b.Handles()))
	})

	t.Run("unsupported signatures", func(t *testing.T) {
		for name, tc := range map[string]struct {
			fn      any
			inputs  []string
			message string
		}{
			"variadic":   {fn: variadicBody, message: "variadic arguments"},
			"embedded":   {fn: embeddedBody, inputs: []string{"a"}, message: "embedded field embedded"},
			"unexported": {fn: unexportedBody, message: "unexported field a"},
			"tag option": {fn: taggedBody, inputs: []string{"a"}, message: `tag options "default=3"`},
		} {
			t.Run(name, func(t *testing.T) {
				b := NewBuilder()
				for _, in := range tc.inputs {
					b.MustInput(tc.fn, in, Default(1))
				}
				_, err := b.Node(tc.fn)
				assert.True(t, errors.Is(err, ErrUnsupportedSignature))
				assert.Contains(t, err.Error(), tc.message)
			})
		}
	})

	t.Run("declared type must fit field", func(t *testing.T) {
		b := NewBuilder()
		b.MustInput(acBody, "a", Type[string]())
		b.MustInput(acBody, "c", Default(1))
		_, err := b.Node(acBody)
		assert.True(t, errors.Is(err, ErrUnsupportedSignature))
		assert.Contains(t, err.Error(), `input "a" declared as string`)
	})

	t.Run("stream input needs handle field", func(t *testing.T) {
		b := NewBuilder()
		b.MustInput(acBody, "a", Default(newSource()))
		b.MustInput(acBody, "c", Default(1))
		_, err := b.Node(acBody)
		assert.True(t, errors.Is(err, ErrUnsupportedSignature))
		assert.Contains(t, err.Error(), `stream input "a"`)
	})

	t.Run("untagged fields use lower-cased names", func(t *testing.T) {
		b := NewBuilder()
		b.MustInput(untaggedBody, "limit", Default(10))
		h, err := b.Node(untaggedBody)
		assert.NoError(t, err)
		assert.Equal(t, []string{"limit"}, h.Node().Inputs().Shape().Names())
	})

	t.Run("malformed identity", func(t *testing.T) {
		b := NewBuilder()
		_, err := b.Node(sourceBody, WithName("scan"))
		assert.True(t, errors.Is(err, ErrMalformedIdentity))

		var verr *kvalue.ValidationError
		assert.True(t, errors.As(err, &verr))
		assert.Equal(t, "function", verr.Field)
	})

	t.Run("explicit name", func(t *testing.T) {
		b := NewBuilder()
		h, err := b.Node(sourceBody, WithName("marv_nodes.scan"))
		assert.NoError(t, err)
		assert.Equal(t, "marv_nodes.scan", h.Node().Function())

		_, err = b.Node(otherSourceBody, WithName("marv_nodes.scan"))
		assert.True(t, errors.Is(err, ErrNodeAlreadyExists))
	})

	t.Run("foreach is recorded", func(t *testing.T) {
		b := NewBuilder()
		b.MustInput(acBody, "a", Foreach(1))
		b.MustInput(acBody, "c", Default(2))
		h := b.MustNode(acBody)
		assert.Equal(t, "a", h.Node().Foreach())
		v, _ := h.Node().Inputs().Get("a")
		assert.Equal(t, any(1), v)
	})

	t.Run("group tag", func(t *testing.T) {
		b := NewBuilder()
		h := b.MustNode(sourceBody, WithGroupTag("ondemand"))
		assert.True(t, h.Node().Group().IsGroup())
		assert.Equal(t, "ondemand", h.Node().Group().String())
	})

	t.Run("pending inputs are consumed", func(t *testing.T) {
		b := NewBuilder()
		b.MustInput(acBody, "a", Default(1))
		b.MustInput(acBody, "c", Default(2))
		b.MustNode(acBody)
		assert.Equal(t, 0, len(b.pending))
	})
}

type namedSchema struct{}

func (namedSchema) SchemaName() string { return "marv_nodes.types.Dataset" }

func TestSchema(t *testing.T) {
	for name, tc := range map[string]struct {
		schema any
		want   string
	}{
		"none":       {schema: nil, want: ""},
		"string":     {schema: "marv_nodes.types_capnp.Dataset", want: "marv_nodes.types_capnp.Dataset"},
		"proto":      {schema: &timestamppb.Timestamp{}, want: "google.protobuf.timestamp.Timestamp"},
		"descriptor": {schema: (&timestamppb.Timestamp{}).ProtoReflect().Descriptor(), want: "google.protobuf.timestamp.Timestamp"},
		"namer":      {schema: namedSchema{}, want: "marv_nodes.types.Dataset"},
	} {
		t.Run(name, func(t *testing.T) {
			h, err := NewBuilder().Node(sourceBody, WithSchema(tc.schema))
			assert.NoError(t, err)
			assert.Equal(t, tc.want, h.Node().MessageSchema())
		})
	}

	t.Run("invalid", func(t *testing.T) {
		_, err := NewBuilder().Node(sourceBody, WithSchema(42))
		assert.True(t, errors.Is(err, ErrInvalidSchema))
	})
}

func TestNodeEquality(t *testing.T) {
	build := func(opts ...NodeOption) *Node {
		b := NewBuilder()
		b.MustInput(xyBody, "x", Default([]int{1, 2}))
		b.MustInput(xyBody, "y", Default(1))
		return b.MustNode(xyBody, opts...).Node()
	}

	a, b := build(WithVersion(1)), build(WithVersion(1))
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, IDOf(a), IDOf(b))

	for _, other := range []*Node{
		build(WithVersion(2)),
		build(),
		build(WithVersion(1), WithSchema("pkg.Msg")),
		build(WithVersion(1), WithGroup(true)),
		build(WithVersion(1), WithName("pkg.xy")),
	} {
		assert.False(t, a.Equal(other))
		assert.NotEqual(t, a.Hash(), other.Hash())
	}

	changed, err := a.Clone(map[string]any{"x": []int{2, 1}})
	assert.NoError(t, err)
	assert.False(t, a.Equal(changed))
}

func TestInvoke(t *testing.T) {
	b := NewBuilder()
	b.MustInput(untaggedBody, "limit", Type[int]())
	h := b.MustNode(untaggedBody)

	task := kio.NewTask(t.Context(), "invoke", h.Bind(map[string]any{"limit": 7}))
	msg, ok := task.Next()
	assert.True(t, ok)
	assert.Equal(t, kio.Message(kio.Push{Output: 7}), msg)
	_, ok = task.Resume(nil, nil)
	assert.False(t, ok)
	assert.NoError(t, task.Err())

	task = kio.NewTask(t.Context(), "invoke", h.Bind(map[string]any{"limit": 7, "other": 1}))
	_, ok = task.Next()
	assert.False(t, ok)
	assert.True(t, errors.Is(task.Err(), ErrBindInputs))

	src := NewBuilder().MustNode(sourceBody)
	task = kio.NewTask(t.Context(), "invoke", src.Bind(map[string]any{"x": 1}))
	_, ok = task.Next()
	assert.False(t, ok)
	assert.True(t, errors.Is(task.Err(), ErrBindInputs))
}
