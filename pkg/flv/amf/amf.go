// Package amf - AMF0 values used by RTMP commands and FLV script data.
// Spec: http://download.macromedia.com/pub/labs/amf/amf0_spec_121207.pdf
package amf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
)

const (
	TypeNumber byte = iota
	TypeBoolean
	TypeString
	TypeObject
	TypeNull        = 5
	TypeUndefined   = 6
	TypeEcmaArray   = 8
	TypeObjectEnd   = 9
	TypeStrictArray = 10
)

var (
	ErrRead = errors.New("amf: read error")
	ErrType = errors.New("amf: unsupported type")
)

// Property - key/value pair of ordered object
type Property struct {
	Key   string
	Value any
}

// EcmaArray - associative array with stable order of keys on the wire
type EcmaArray []Property

type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) ReadItems() ([]any, error) {
	var items []any
	for r.pos < len(r.buf) {
		v, err := r.ReadItem()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

// ReadItem - objects and ECMA arrays are returned as map[string]any
func (r *Reader) ReadItem() (any, error) {
	dataType, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch dataType {
	case TypeNumber:
		return r.ReadNumber()

	case TypeBoolean:
		b, err := r.ReadByte()
		return b != 0, err

	case TypeString:
		return r.ReadString()

	case TypeObject:
		return r.ReadObject()

	case TypeEcmaArray:
		if err = r.skip(4); err != nil { // associative-count
			return nil, err
		}
		return r.ReadObject()

	case TypeStrictArray:
		return r.ReadStrictArray()

	case TypeNull, TypeUndefined, TypeObjectEnd:
		return nil, nil
	}

	return nil, fmt.Errorf("%w: 0x%02X", ErrType, dataType)
}

func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrRead
	}

	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadNumber() (float64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, ErrRead
	}

	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return math.Float64frombits(v), nil
}

// ReadString - string value without type marker
func (r *Reader) ReadString() (string, error) {
	if r.pos+2 > len(r.buf) {
		return "", ErrRead
	}

	size := int(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2

	if r.pos+size > len(r.buf) {
		return "", ErrRead
	}

	s := string(r.buf[r.pos : r.pos+size])
	r.pos += size

	return s, nil
}

// ReadObject - properties until empty key with object end marker
func (r *Reader) ReadObject() (map[string]any, error) {
	obj := make(map[string]any)

	for {
		k, err := r.ReadString()
		if err != nil {
			return nil, err
		}

		v, err := r.ReadItem()
		if err != nil {
			return nil, err
		}

		if k == "" {
			return obj, nil
		}

		obj[k] = v
	}
}

func (r *Reader) ReadStrictArray() ([]any, error) {
	if r.pos+4 > len(r.buf) {
		return nil, ErrRead
	}

	n := int(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4

	items := make([]any, 0, min(n, len(r.buf)-r.pos))
	for i := 0; i < n; i++ {
		v, err := r.ReadItem()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func (r *Reader) skip(n int) error {
	if r.pos+n > len(r.buf) {
		return ErrRead
	}
	r.pos += n
	return nil
}

type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) WriteNumber(n float64) {
	w.buf = append(w.buf, TypeNumber)
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(n))
}

func (w *Writer) WriteBool(b bool) {
	if b {
		w.buf = append(w.buf, TypeBoolean, 1)
	} else {
		w.buf = append(w.buf, TypeBoolean, 0)
	}
}

func (w *Writer) WriteString(s string) {
	w.buf = append(w.buf, TypeString)
	w.writeKey(s)
}

func (w *Writer) WriteNull() {
	w.buf = append(w.buf, TypeNull)
}

// WriteObject - keys are written in sorted order
func (w *Writer) WriteObject(obj map[string]any) error {
	w.buf = append(w.buf, TypeObject)
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		w.writeKey(k)
		if err := w.WriteItem(obj[k]); err != nil {
			return err
		}
	}
	w.buf = append(w.buf, 0, 0, TypeObjectEnd)
	return nil
}

func (w *Writer) WriteEcmaArray(arr EcmaArray) error {
	w.buf = append(w.buf, TypeEcmaArray)
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(arr)))
	for _, p := range arr {
		w.writeKey(p.Key)
		if err := w.WriteItem(p.Value); err != nil {
			return err
		}
	}
	w.buf = append(w.buf, 0, 0, TypeObjectEnd)
	return nil
}

func (w *Writer) WriteItem(item any) error {
	switch v := item.(type) {
	case float64:
		w.WriteNumber(v)
	case int:
		w.WriteNumber(float64(v))
	case uint16:
		w.WriteNumber(float64(v))
	case uint32:
		w.WriteNumber(float64(v))
	case bool:
		w.WriteBool(v)
	case string:
		w.WriteString(v)
	case map[string]any:
		return w.WriteObject(v)
	case EcmaArray:
		return w.WriteEcmaArray(v)
	case nil:
		w.WriteNull()
	default:
		return fmt.Errorf("%w: %T", ErrType, item)
	}
	return nil
}

func (w *Writer) writeKey(s string) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// Encode - write items one by one
func Encode(items ...any) ([]byte, error) {
	w := NewWriter()
	for _, item := range items {
		if err := w.WriteItem(item); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}
