package kdag

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"strings"

	"github.com/birdayz/knode/kio"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	connType    = reflect.TypeFor[*kio.Conn]()
	errorType   = reflect.TypeFor[error]()
	handleType  = reflect.TypeFor[kio.Handle]()
)

// InputTag is the struct tag naming the input an args field binds to.
const InputTag = "input"

// param is one formal parameter of a node body: an exported field of its
// args struct.
type param struct {
	name  string
	field string
	typ   reflect.Type
}

// signature describes a node body of the form
//
//	func(ctx context.Context, c *kio.Conn, args Args) error
//
// or, for nodes without inputs,
//
//	func(ctx context.Context, c *kio.Conn) error
type signature struct {
	args        reflect.Type
	params      []param
	unsupported []string
}

func (s *signature) names() []string {
	names := make([]string, len(s.params))
	for i, p := range s.params {
		names[i] = p.name
	}
	return names
}

func (s *signature) param(name string) (param, bool) {
	for _, p := range s.params {
		if p.name == name {
			return p, true
		}
	}
	return param{}, false
}

// funcIdentity returns the dotted, package-qualified name of fn.
func funcIdentity(fn any) (string, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return "", fmt.Errorf("%w: %T is not a function", ErrNotNodeBody, fn)
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "", fmt.Errorf("%w: cannot resolve name of %T", ErrNotNodeBody, fn)
	}
	name := strings.TrimSuffix(f.Name(), "-fm")
	if anonymousFunc.MatchString(name) {
		// Closures of one literal share a code pointer, and their names
		// depend on inlining.
		return "", fmt.Errorf("%w: %s is a function literal, declare node bodies as named functions", ErrNotNodeBody, name)
	}
	return name, nil
}

var anonymousFunc = regexp.MustCompile(`\.func\d+(\.\d+)*$`)

func inspectBody(name string, fn any) (*signature, error) {
	t := reflect.TypeOf(fn)
	if t.NumOut() != 1 || t.Out(0) != errorType ||
		t.NumIn() < 2 || t.NumIn() > 3 ||
		t.In(0) != contextType || t.In(1) != connType {
		return nil, fmt.Errorf("%w: %s has signature %v, want func(context.Context, *kio.Conn[, Args]) error",
			ErrNotNodeBody, name, t)
	}

	sig := &signature{}
	if t.IsVariadic() {
		sig.unsupported = append(sig.unsupported, "variadic arguments")
		return sig, nil
	}
	if t.NumIn() == 2 {
		return sig, nil
	}

	args := t.In(2)
	if args.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s takes %v as args, want a struct", ErrNotNodeBody, name, args)
	}
	sig.args = args

	seen := make(map[string]bool, args.NumField())
	for i := 0; i < args.NumField(); i++ {
		f := args.Field(i)
		switch {
		case f.Anonymous:
			sig.unsupported = append(sig.unsupported, "embedded field "+f.Name)
			continue
		case !f.IsExported():
			sig.unsupported = append(sig.unsupported, "unexported field "+f.Name)
			continue
		}

		tag := f.Tag.Get(InputTag)
		pname, opts, _ := strings.Cut(tag, ",")
		if opts != "" {
			sig.unsupported = append(sig.unsupported, fmt.Sprintf("tag options %q on field %s", opts, f.Name))
		}
		if pname == "" {
			pname = strings.ToLower(f.Name)
		}
		if seen[pname] {
			sig.unsupported = append(sig.unsupported, fmt.Sprintf("field %s repeats parameter %q", f.Name, pname))
			continue
		}
		seen[pname] = true
		sig.params = append(sig.params, param{name: pname, field: f.Name, typ: f.Type})
	}
	return sig, nil
}

// checkTypes reports fields whose type cannot hold the declared input.
func (s *signature) checkTypes(specs []InputSpec) []string {
	var bad []string
	for _, spec := range specs {
		p, ok := s.param(spec.Name)
		if !ok {
			continue
		}
		if _, isStream := spec.Default.(Stream); isStream && spec.HasDefault {
			if p.typ != handleType && p.typ.Kind() != reflect.Interface {
				bad = append(bad, fmt.Sprintf("stream input %q bound to field %s of type %v", spec.Name, p.field, p.typ))
			}
			continue
		}
		if spec.Type != nil && !spec.Type.AssignableTo(p.typ) {
			bad = append(bad, fmt.Sprintf("input %q declared as %v bound to field %s of type %v", spec.Name, spec.Type, p.field, p.typ))
		}
	}
	return bad
}
