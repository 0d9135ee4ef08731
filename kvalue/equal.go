package kvalue

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// Equal reports whether a and b are structurally equal.
//
// Values are equal iff they share a TypeName and all fields are Equal.
// Slices and arrays are equal iff their elements are, nil and empty slices
// included. Maps are equal iff they have the same keys mapping to Equal
// values. Remaining comparable scalars use ==, everything else falls back to
// reflect.DeepEqual.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	av, aok := asValue(a)
	bv, bok := asValue(b)
	if aok || bok {
		if !aok || !bok || av.TypeName() != bv.TypeName() {
			return false
		}
		if ah, ok := av.(Hasher); ok {
			if bh, ok := bv.(Hasher); ok && ah.StructuralHash() != bh.StructuralHash() {
				return false
			}
		}
		if ra, rb := reflect.ValueOf(a), reflect.ValueOf(b); ra.Kind() == reflect.Pointer && rb.Kind() == reflect.Pointer &&
			ra.Pointer() == rb.Pointer() && ra.Type() == rb.Type() {
			return true
		}
		af, bf := av.Fields(), bv.Fields()
		if len(af) != len(bf) {
			return false
		}
		for i := range af {
			if af[i].Name != bf[i].Name || !Equal(af[i].Value, bf[i].Value) {
				return false
			}
		}
		return true
	}

	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}

	switch ra.Kind() {
	case reflect.Slice, reflect.Array:
		if ra.Len() != rb.Len() {
			return false
		}
		for i := 0; i < ra.Len(); i++ {
			if !Equal(ra.Index(i).Interface(), rb.Index(i).Interface()) {
				return false
			}
		}
		return true
	case reflect.Map:
		if ra.Len() != rb.Len() {
			return false
		}
		iter := ra.MapRange()
		for iter.Next() {
			other := rb.MapIndex(iter.Key())
			if !other.IsValid() || !Equal(iter.Value().Interface(), other.Interface()) {
				return false
			}
		}
		return true
	case reflect.Struct:
		return reflect.DeepEqual(a, b)
	}

	if ra.Type().Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// Hash returns a structural hash of v consistent with Equal.
//
// Values hash by TypeName and fields, sequences by their elements and maps by
// an order independent combination of their entries. Structs hash like
// reflect.DeepEqual compares them: pointers are followed, unexported fields
// included.
func Hash(v any) uint64 {
	d := xxhash.New()
	writeValue(d, v)
	return d.Sum64()
}

// HashFields hashes v by its TypeName and fields. Implementations of Hasher
// use it to compute the hash they cache.
func HashFields(v Value) uint64 {
	d := xxhash.New()
	writeFields(d, v)
	return d.Sum64()
}

// maxDepth bounds the walk through pointers so cyclic data terminates.
const maxDepth = 64

func writeValue(d *xxhash.Digest, v any) {
	if v == nil {
		_, _ = d.WriteString("<nil>;")
		return
	}

	if val, ok := asValue(v); ok {
		if h, ok := val.(Hasher); ok {
			_, _ = fmt.Fprintf(d, "%s#%016x;", h.TypeName(), h.StructuralHash())
			return
		}
		writeFields(d, val)
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		// nil and empty slices are Equal, so only the length is written.
		_, _ = fmt.Fprintf(d, "%s[%d:", rv.Type(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			writeValue(d, rv.Index(i).Interface())
		}
		_, _ = d.WriteString("];")
	case reflect.Map:
		_, _ = fmt.Fprintf(d, "%s{%d:", rv.Type(), rv.Len())
		writeEntries(d, rv, func(e *xxhash.Digest, k, v reflect.Value) {
			writeValue(e, k.Interface())
			writeValue(e, v.Interface())
		})
		_, _ = d.WriteString("};")
	case reflect.Pointer, reflect.Chan, reflect.UnsafePointer:
		// Compared with ==.
		_, _ = fmt.Fprintf(d, "%s@%x;", rv.Type(), rv.Pointer())
	default:
		writeDeep(d, rv, 0)
	}
}

func writeFields(d *xxhash.Digest, val Value) {
	_, _ = d.WriteString(val.TypeName())
	_, _ = d.WriteString("{")
	for _, f := range val.Fields() {
		_, _ = d.WriteString(f.Name)
		_, _ = d.WriteString("=")
		writeValue(d, f.Value)
	}
	_, _ = d.WriteString("};")
}

// writeDeep hashes rv following the rules of reflect.DeepEqual.
func writeDeep(d *xxhash.Digest, rv reflect.Value, depth int) {
	if !rv.IsValid() {
		_, _ = d.WriteString("<invalid>;")
		return
	}
	_, _ = d.WriteString(rv.Type().String())
	if depth > maxDepth {
		_, _ = d.WriteString("<deep>;")
		return
	}

	var buf [8]byte
	writeUint := func(u uint64) {
		binary.LittleEndian.PutUint64(buf[:], u)
		_, _ = d.Write(buf[:])
	}
	writeFloat := func(f float64) {
		if f == 0 {
			f = 0 // -0 == 0
		}
		writeUint(math.Float64bits(f))
	}

	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			writeUint(1)
		} else {
			writeUint(0)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeUint(uint64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		writeUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		writeFloat(rv.Float())
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		writeFloat(real(c))
		writeFloat(imag(c))
	case reflect.String:
		writeUint(uint64(rv.Len()))
		_, _ = d.WriteString(rv.String())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			_, _ = d.WriteString("<nil>;")
			return
		}
		writeDeep(d, rv.Elem(), depth+1)
	case reflect.Slice:
		if rv.IsNil() {
			_, _ = d.WriteString("<nil>;")
			return
		}
		fallthrough
	case reflect.Array:
		writeUint(uint64(rv.Len()))
		for i := 0; i < rv.Len(); i++ {
			writeDeep(d, rv.Index(i), depth+1)
		}
	case reflect.Map:
		if rv.IsNil() {
			_, _ = d.WriteString("<nil>;")
			return
		}
		writeUint(uint64(rv.Len()))
		writeEntries(d, rv, func(e *xxhash.Digest, k, v reflect.Value) {
			writeDeep(e, k, depth+1)
			writeDeep(e, v, depth+1)
		})
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			writeDeep(d, rv.Field(i), depth+1)
		}
	case reflect.Func:
		// DeepEqual only considers nil funcs equal.
		if rv.IsNil() {
			_, _ = d.WriteString("<nil>;")
		} else {
			writeUint(uint64(rv.Pointer()))
		}
	case reflect.Chan, reflect.UnsafePointer:
		writeUint(uint64(rv.Pointer()))
	}
}

// writeEntries writes the sum of the per entry hashes of the map rv, which
// does not depend on iteration order.
func writeEntries(d *xxhash.Digest, rv reflect.Value, entry func(e *xxhash.Digest, k, v reflect.Value)) {
	var sum uint64
	iter := rv.MapRange()
	for iter.Next() {
		e := xxhash.New()
		entry(e, iter.Key(), iter.Value())
		sum += e.Sum64()
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], sum)
	_, _ = d.Write(buf[:])
}

// asValue unwraps v as a Value, treating typed nil pointers as plain values.
func asValue(v any) (Value, bool) {
	val, ok := v.(Value)
	if !ok {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, false
	}
	return val, true
}
