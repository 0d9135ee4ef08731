package runtime

import (
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	"github.com/birdayz/knode/kdag"
	"github.com/birdayz/knode/kio"
)

// StreamResult is the final content of one stream.
type StreamResult struct {
	Handle   kio.Handle
	Header   any
	Messages []any
	Files    []string

	// Streams holds the sub-streams in creation order. Streams selected by a
	// consumer but never created come last, empty.
	Streams []*StreamResult
}

// Stream returns the sub-stream named name.
func (s *StreamResult) Stream(name string) (*StreamResult, bool) {
	for _, sub := range s.Streams {
		if sub.Handle.Name == name {
			return sub, true
		}
	}
	return nil, false
}

// Result is the outcome of a run.
type Result struct {
	// ScratchDir is the directory files were allocated under, if any.
	ScratchDir string

	// Targets holds the target streams in the order they were collected.
	Targets []*StreamResult

	nodes map[kdag.NodeID]*StreamResult
}

// Stream returns the content of the stream ref denotes, if its node was part
// of the run.
func (r *Result) Stream(ref kdag.Ref) (*StreamResult, bool) {
	if ref == nil {
		return nil, false
	}
	s := kdag.ToStream(ref)
	if s.Node() == nil {
		return nil, false
	}
	out, ok := r.nodes[kdag.IDOf(s.Node())]
	if !ok || s.Name() == "" {
		return out, ok
	}
	return out.Stream(s.Name())
}

// Messages is a shorthand returning the messages of the stream ref denotes.
func (r *Result) Messages(ref kdag.Ref) []any {
	s, ok := r.Stream(ref)
	if !ok {
		return nil
	}
	return s.Messages
}

func (r *Runner) result() *Result {
	res := &Result{
		ScratchDir: r.scratchDir,
		nodes:      make(map[kdag.NodeID]*StreamResult, len(r.tasks)),
	}
	for _, nt := range r.tasks {
		res.nodes[nt.id] = snapshot(nt.out)
	}
	for _, target := range r.graph.Targets {
		if s, ok := res.Stream(target); ok {
			res.Targets = append(res.Targets, s)
		}
	}
	return res
}

func snapshot(s *stream) *StreamResult {
	out := &StreamResult{
		Handle:   s.handle,
		Header:   s.header,
		Messages: append([]any{}, s.messages...),
		Files:    append([]string{}, s.filePaths...),
	}
	for _, name := range s.order {
		out.Streams = append(out.Streams, snapshot(s.children[name]))
	}

	var uncreated []string
	for name, child := range s.children {
		if !child.created {
			uncreated = append(uncreated, name)
		}
	}
	sort.Strings(uncreated)
	for _, name := range uncreated {
		out.Streams = append(out.Streams, snapshot(s.children[name]))
	}
	return out
}

// pathSegment escapes name into a single path element. Distinct names map to
// distinct segments.
func pathSegment(name string) string {
	seg := url.PathEscape(name)
	if strings.HasPrefix(seg, ".") {
		seg = "%2E" + seg[1:]
	}
	return seg
}

// streamDir is the directory files of s are created in: one directory per
// node, nested by sub-stream name.
func streamDir(root string, id kdag.NodeID, s *stream) string {
	var names []string
	for cur := s; cur != nil && cur.handle.Name != ""; cur = cur.parent {
		names = append([]string{pathSegment(cur.handle.Name)}, names...)
	}
	return filepath.Join(append([]string{root, pathSegment(string(id))}, names...)...)
}
