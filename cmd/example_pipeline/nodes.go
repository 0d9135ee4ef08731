package main

import (
	"context"
	"fmt"

	"github.com/birdayz/knode/kdag"
	"github.com/birdayz/knode/kio"
)

type numbersArgs struct {
	Count int `input:"count"`
}

func numbers(ctx context.Context, c *kio.Conn, args numbersArgs) error {
	for i := 1; i <= args.Count; i++ {
		if err := c.Push(i); err != nil {
			return err
		}
	}
	return nil
}

type scaleArgs struct {
	In     kio.Handle `input:"in"`
	Factor int        `input:"factor"`
}

func scale(ctx context.Context, c *kio.Conn, args scaleArgs) error {
	if err := c.SetHeader(fmt.Sprintf("x%d", args.Factor)); err != nil {
		return err
	}
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

type inArgs struct {
	In kio.Handle `input:"in"`
}

// split routes messages to its "even" and "odd" streams. Only requested
// streams are created.
func split(ctx context.Context, c *kio.Conn, args inArgs) error {
	log, err := c.Logger()
	if err != nil {
		return err
	}
	requested, err := c.Requested()
	if err != nil {
		return err
	}

	outputs := make(map[string]kio.Handle)
	for _, name := range requested {
		if name != "even" && name != "odd" {
			continue
		}
		h, err := c.CreateStream(name, false, nil)
		if err != nil {
			return err
		}
		outputs[name] = h
	}
	log.Debug("Split outputs", "requested", requested)

	for {
		p, err := c.Pull(args.In)
		if err != nil || !p.OK {
			return err
		}
		name := "even"
		if p.Msg.(int)%2 != 0 {
			name = "odd"
		}
		if h, ok := outputs[name]; ok {
			if err := c.PushTo(h, p.Msg); err != nil {
				return err
			}
		}
	}
}

func sum(ctx context.Context, c *kio.Conn, args inArgs) error {
	total := 0
	for {
		p, err := c.Pull(args.In)
		if err != nil {
			return err
		}
		if !p.OK {
			return c.Push(total)
		}
		total += p.Msg.(int)
	}
}

type reportArgs struct {
	Even kio.Handle `input:"even"`
	Odd  kio.Handle `input:"odd"`
}

// report writes one line per pair of sums into a file.
func report(ctx context.Context, c *kio.Conn, args reportArgs) error {
	f, err := c.MakeFile(kio.Handle{}, "report.txt")
	if err != nil {
		return err
	}
	for {
		ps, err := c.PullAll(args.Even, args.Odd)
		if err != nil {
			return err
		}
		if !ps[0].OK && !ps[1].OK {
			return c.Push(f.Name())
		}
		if _, err := fmt.Fprintf(f, "even=%v odd=%v\n", ps[0].Msg, ps[1].Msg); err != nil {
			return err
		}
	}
}

type pipeline struct {
	registry *kdag.Builder
	numbers  *kdag.NodeHandle
	scale    *kdag.NodeHandle
	split    *kdag.NodeHandle
	sum      *kdag.NodeHandle
	report   *kdag.NodeHandle
}

func buildPipeline() *pipeline {
	b := kdag.NewBuilder()
	p := &pipeline{registry: b}

	b.MustInput(numbers, "count", kdag.Default(10))
	p.numbers = b.MustNode(numbers)

	b.MustInput(scale, "in", kdag.Default(p.numbers))
	b.MustInput(scale, "factor", kdag.Default(1))
	p.scale = b.MustNode(scale)

	b.MustInput(split, "in", kdag.Default(p.scale))
	p.split = b.MustNode(split, kdag.WithGroup(true))

	b.MustInput(sum, "in", kdag.Default(p.split.Select("even")))
	p.sum = b.MustNode(sum)

	b.MustInput(report, "even", kdag.Default(p.sum))
	b.MustInput(report, "odd", kdag.Default(p.sum.MustClone(map[string]any{"in": p.split.Select("odd")})))
	p.report = b.MustNode(report, kdag.WithVersion(1))

	return p
}

// target returns the report node of a pipeline whose numbers and scale nodes
// are cloned with inputs. Known inputs are "count" and "factor".
func (p *pipeline) target(inputs map[string]any) (*kdag.NodeHandle, error) {
	numbersOverrides := map[string]any{}
	scaleOverrides := map[string]any{}
	for name, v := range inputs {
		switch name {
		case "count":
			numbersOverrides[name] = v
		case "factor":
			scaleOverrides[name] = v
		default:
			return nil, fmt.Errorf("unknown input %q", name)
		}
	}

	nums, err := p.numbers.Clone(numbersOverrides)
	if err != nil {
		return nil, err
	}
	scaleOverrides["in"] = nums
	scaled, err := p.scale.Clone(scaleOverrides)
	if err != nil {
		return nil, err
	}
	splitted, err := p.split.Clone(map[string]any{"in": scaled})
	if err != nil {
		return nil, err
	}
	even, err := p.sum.Clone(map[string]any{"in": splitted.Select("even")})
	if err != nil {
		return nil, err
	}
	odd, err := p.sum.Clone(map[string]any{"in": splitted.Select("odd")})
	if err != nil {
		return nil, err
	}
	return p.report.Clone(map[string]any{"even": even, "odd": odd})
}
