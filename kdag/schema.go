package kdag

import (
	"fmt"
	"path"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// SchemaNamer is implemented by schema objects that know their canonical
// dotted name.
type SchemaNamer interface {
	SchemaName() string
}

// resolveSchema turns a schema given at declaration time into the name stored
// on the Node. Only the name is kept, never the schema object itself.
func resolveSchema(schema any) (string, error) {
	switch s := schema.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case proto.Message:
		return protoSchemaName(s.ProtoReflect().Descriptor()), nil
	case protoreflect.MessageDescriptor:
		return protoSchemaName(s), nil
	case SchemaNamer:
		return s.SchemaName(), nil
	}
	return "", fmt.Errorf("%w: %T", ErrInvalidSchema, schema)
}

// SchemaName returns the dotted name a node would record for schema.
func SchemaName(schema any) (string, error) {
	return resolveSchema(schema)
}

// protoSchemaName derives a dotted name from the file declaring md: the file
// path loses its extension and has separators replaced by dots, followed by
// the message name relative to the package.
//
//	marv_nodes/types.proto, marv.nodes.Dataset -> marv_nodes.types.Dataset
func protoSchemaName(md protoreflect.MessageDescriptor) string {
	file := md.ParentFile()
	prefix := strings.TrimSuffix(file.Path(), path.Ext(file.Path()))
	prefix = strings.ReplaceAll(prefix, "/", ".")

	name := string(md.FullName())
	if pkg := string(file.Package()); pkg != "" {
		name = strings.TrimPrefix(name, pkg+".")
	}
	return prefix + "." + name
}
