// Package fingerprint derives stable keys from structured inputs.
//
// Canonical writes a deterministic, type-tagged encoding of a value: maps are
// emitted in key order and struct fields in name order, so two values that
// are equal in content always encode to the same bytes regardless of map
// iteration or field declaration order. Type tags keep 1, "1", true, nil and
// 1.0 apart. Of hashes the encoding of its arguments with BLAKE2b-256.
package fingerprint

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
	"google.golang.org/protobuf/proto"
)

var (
	// ErrUnsupported is wrapped by *Error for values that have no canonical
	// form: funcs, channels, complex numbers, unsafe pointers, maps keyed by
	// anything other than strings, integers or bools, and structs with
	// unexported fields that are neither proto messages nor text marshalers.
	ErrUnsupported = errors.New("fingerprint: unsupported value")
	// ErrCycle is wrapped by *Error when a value refers back to itself.
	ErrCycle = errors.New("fingerprint: reference cycle")
)

// Error reports where in an input the encoding failed.
type Error struct {
	// Path locates the offending value, e.g. "[1].Filters[\"region\"]".
	Path string
	// Type is the Go type of the offending value.
	Type string
	Err  error
}

func (e *Error) Error() string {
	path := e.Path
	if path == "" {
		path = "(root)"
	}
	return fmt.Sprintf("%v: %s at %s", e.Err, e.Type, path)
}

func (e *Error) Unwrap() error { return e.Err }

// Type tags. Every encoded value starts with exactly one.
const (
	tagNil    = 'n'
	tagFalse  = 'f'
	tagTrue   = 't'
	tagInt    = 'i'
	tagFloat  = 'd'
	tagString = 's'
	tagBytes  = 'y'
	tagList   = 'l'
	tagMap    = 'm'
	tagStruct = 'r'
	tagProto  = 'p'
	tagText   = 'x'
)

var (
	protoMessageType  = reflect.TypeFor[proto.Message]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// Canonical returns the canonical encoding of v.
func Canonical(v any) ([]byte, error) {
	e := encoder{seen: make(map[ref]struct{})}
	if err := e.encode(reflect.ValueOf(v), ""); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

// Of returns the hex-encoded BLAKE2b-256 digest of the canonical encoding of
// inputs taken as one ordered list. Of() and Of(nil) differ.
func Of(inputs ...any) (string, error) {
	b, err := Canonical(inputs)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MustOf is like Of but panics on error. Use it only with inputs whose types
// are known to be supported.
func MustOf(inputs ...any) string {
	fp, err := Of(inputs...)
	if err != nil {
		panic(err)
	}
	return fp
}

type encoder struct {
	buf  bytes.Buffer
	seen map[ref]struct{} // references on the current path
	tmp  [binary.MaxVarintLen64]byte
}

// ref identifies a reference by address and type; a struct and its first
// field share an address.
type ref struct {
	ptr uintptr
	typ reflect.Type
}

func (e *encoder) tag(t byte) { e.buf.WriteByte(t) }

func (e *encoder) uvarint(n uint64) {
	k := binary.PutUvarint(e.tmp[:], n)
	e.buf.Write(e.tmp[:k])
}

func (e *encoder) str(s string) {
	e.uvarint(uint64(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) raw(b []byte) {
	e.uvarint(uint64(len(b)))
	e.buf.Write(b)
}

func unsupported(v reflect.Value, path string) error {
	return &Error{Path: path, Type: v.Type().String(), Err: ErrUnsupported}
}

func (e *encoder) encode(v reflect.Value, path string) error {
	if !v.IsValid() {
		e.tag(tagNil)
		return nil
	}

	if v.Type().Implements(protoMessageType) {
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
			e.tag(tagNil)
			return nil
		}
		return e.encodeProto(v.Interface().(proto.Message), v, path)
	}
	if v.Kind() != reflect.Interface && v.Type().Implements(textMarshalerType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			e.tag(tagNil)
			return nil
		}
		return e.encodeText(v.Interface().(encoding.TextMarshaler), v.Type(), path)
	}
	// A value whose MarshalText has a pointer receiver, e.g. big.Int.
	if v.Kind() == reflect.Struct && reflect.PointerTo(v.Type()).Implements(textMarshalerType) {
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return e.encodeText(p.Interface().(encoding.TextMarshaler), v.Type(), path)
	}

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			e.tag(tagTrue)
		} else {
			e.tag(tagFalse)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.tag(tagInt)
		e.str(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.tag(tagInt)
		e.str(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if f == 0 {
			f = 0 // fold -0 into +0
		}
		e.tag(tagFloat)
		binary.BigEndian.PutUint64(e.tmp[:8], math.Float64bits(f))
		e.buf.Write(e.tmp[:8])
	case reflect.String:
		e.tag(tagString)
		e.str(v.String())
	case reflect.Slice:
		if v.IsNil() {
			e.tag(tagNil)
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			e.tag(tagBytes)
			e.raw(v.Bytes())
			return nil
		}
		leave, err := e.enter(v, path)
		if err != nil {
			return err
		}
		defer leave()
		return e.encodeList(v, path)
	case reflect.Array:
		return e.encodeList(v, path)
	case reflect.Map:
		if v.IsNil() {
			e.tag(tagNil)
			return nil
		}
		leave, err := e.enter(v, path)
		if err != nil {
			return err
		}
		defer leave()
		return e.encodeMap(v, path)
	case reflect.Struct:
		return e.encodeStruct(v, path)
	case reflect.Pointer:
		if v.IsNil() {
			e.tag(tagNil)
			return nil
		}
		leave, err := e.enter(v, path)
		if err != nil {
			return err
		}
		defer leave()
		return e.encode(v.Elem(), path)
	case reflect.Interface:
		if v.IsNil() {
			e.tag(tagNil)
			return nil
		}
		return e.encode(v.Elem(), path)
	default:
		// Func, Chan, Complex64, Complex128, UnsafePointer.
		return unsupported(v, path)
	}
	return nil
}

// enter marks a reference as being on the current path. The returned func
// unmarks it; siblings may share a reference without being a cycle.
func (e *encoder) enter(v reflect.Value, path string) (func(), error) {
	if v.Pointer() == 0 {
		return func() {}, nil
	}
	p := ref{ptr: v.Pointer(), typ: v.Type()}
	if _, ok := e.seen[p]; ok {
		return nil, &Error{Path: path, Type: v.Type().String(), Err: ErrCycle}
	}
	e.seen[p] = struct{}{}
	return func() { delete(e.seen, p) }, nil
}

func (e *encoder) encodeList(v reflect.Value, path string) error {
	n := v.Len()
	e.tag(tagList)
	e.uvarint(uint64(n))
	for i := range n {
		if err := e.encode(v.Index(i), path+"["+strconv.Itoa(i)+"]"); err != nil {
			return err
		}
	}
	return nil
}

type mapPair struct {
	key   []byte
	value reflect.Value
	label string
}

func (e *encoder) encodeMap(v reflect.Value, path string) error {
	switch v.Type().Key().Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
	default:
		return unsupported(v, path)
	}

	pairs := make([]mapPair, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k := encoder{seen: e.seen}
		if err := k.encode(iter.Key(), path); err != nil {
			return err
		}
		pairs = append(pairs, mapPair{
			key:   k.buf.Bytes(),
			value: iter.Value(),
			label: fmt.Sprintf("%s[%#v]", path, iter.Key().Interface()),
		})
	}
	slices.SortFunc(pairs, func(a, b mapPair) int { return bytes.Compare(a.key, b.key) })

	e.tag(tagMap)
	e.uvarint(uint64(len(pairs)))
	for _, p := range pairs {
		e.buf.Write(p.key)
		if err := e.encode(p.value, p.label); err != nil {
			return err
		}
	}
	return nil
}

type structField struct {
	name  string
	index int
}

// encodeText writes text under the name of t, so a pointer and the value it
// points to encode alike.
func (e *encoder) encodeText(m encoding.TextMarshaler, t reflect.Type, path string) error {
	text, err := m.MarshalText()
	if err != nil {
		return &Error{Path: path, Type: t.String(), Err: err}
	}
	e.tag(tagText)
	e.str(strings.TrimPrefix(t.String(), "*"))
	e.raw(text)
	return nil
}

// encodeStruct encodes exported fields by JSON name. State held in
// unexported fields cannot be read, so such structs are rejected rather than
// hashed as if those fields were empty. Blank fields are padding.
func (e *encoder) encodeStruct(v reflect.Value, path string) error {
	t := v.Type()
	fields := make([]structField, 0, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if f.Name == "_" {
			continue
		}
		if !f.IsExported() {
			return &Error{
				Path: path,
				Type: t.String(),
				Err:  fmt.Errorf("%w: unexported field %s", ErrUnsupported, f.Name),
			}
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		fields = append(fields, structField{name: name, index: i})
	}
	slices.SortFunc(fields, func(a, b structField) int { return strings.Compare(a.name, b.name) })

	e.tag(tagStruct)
	e.uvarint(uint64(len(fields)))
	for _, f := range fields {
		e.str(f.name)
		if err := e.encode(v.Field(f.index), path+"."+f.name); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) encodeProto(m proto.Message, v reflect.Value, path string) error {
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(m)
	if err != nil {
		return &Error{Path: path, Type: v.Type().String(), Err: err}
	}
	e.tag(tagProto)
	e.str(string(m.ProtoReflect().Descriptor().FullName()))
	e.raw(b)
	return nil
}
