package amf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDecode is the kind shared by every value decoding failure.
	ErrDecode = errors.New("amf: decode error")

	ErrUnknownMarker = errors.New("unknown marker")
	ErrTruncated     = errors.New("truncated buffer")
	ErrTooDeep       = errors.New("nesting too deep")
)

// MaxDepth bounds how deeply objects, ECMA arrays and strict arrays may nest.
const MaxDepth = 64

// Decode consumes b until exhausted and returns the values in encounter order.
func Decode(b []byte) ([]Value, error) {
	d := decoder{buf: b}
	vals := make([]Value, 0, 4)
	for d.off < len(d.buf) {
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

type decoder struct {
	buf   []byte
	off   int
	depth int
}

// enter records one more level of nesting; the caller must call leave.
func (d *decoder) enter() error {
	if d.depth >= MaxDepth {
		return fmt.Errorf("%w: %w: deeper than %d at offset %d", ErrDecode, ErrTooDeep, MaxDepth, d.off)
	}
	d.depth++
	return nil
}

func (d *decoder) leave() { d.depth-- }

func (d *decoder) truncated(what string) error {
	return fmt.Errorf("%w: %w reading %s at offset %d", ErrDecode, ErrTruncated, what, d.off)
}

func (d *decoder) take(n int, what string) ([]byte, error) {
	if len(d.buf)-d.off < n {
		return nil, d.truncated(what)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) utf8(what string) (string, error) {
	l, err := d.take(2, what+" length")
	if err != nil {
		return "", err
	}
	s, err := d.take(int(binary.BigEndian.Uint16(l)), what)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

func (d *decoder) value() (Value, error) {
	m, err := d.take(1, "marker")
	if err != nil {
		return nil, err
	}
	switch k := Kind(m[0]); k {
	case KindObject, KindECMAArray, KindStrictArray:
		if err := d.enter(); err != nil {
			return nil, err
		}
		defer d.leave()
		return d.container(k)
	case KindNumber:
		b, err := d.take(8, "number")
		if err != nil {
			return nil, err
		}
		return Number(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case KindBoolean:
		b, err := d.take(1, "boolean")
		if err != nil {
			return nil, err
		}
		return Boolean(b[0] != 0), nil
	case KindString:
		s, err := d.utf8("string")
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case KindNull:
		return Null{}, nil
	case KindUndefined:
		return Undefined{}, nil
	default:
		return nil, fmt.Errorf("%w: %w %#x at offset %d", ErrDecode, ErrUnknownMarker, m[0], d.off-1)
	}
}

func (d *decoder) container(k Kind) (Value, error) {
	switch k {
	case KindObject:
		return d.properties(&Object{})
	case KindECMAArray:
		// the count is advisory; the terminator decides
		if _, err := d.take(4, "ecma array count"); err != nil {
			return nil, err
		}
		return d.properties(&Object{ecma: true})
	case KindStrictArray:
		b, err := d.take(4, "strict array count")
		if err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint32(b)
		if int(n) > len(d.buf)-d.off {
			return nil, d.truncated("strict array")
		}
		arr := make(StrictArray, 0, n)
		for i := uint32(0); i < n; i++ {
			v, err := d.value()
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	}
	return nil, fmt.Errorf("%w: %v is not a container", ErrDecode, k)
}

func (d *decoder) properties(o *Object) (*Object, error) {
	for {
		key, err := d.utf8("property key")
		if err != nil {
			return nil, err
		}
		if key == "" {
			if d.off < len(d.buf) && Kind(d.buf[d.off]) == KindObjectEnd {
				d.off++
				return o, nil
			}
			if d.off >= len(d.buf) {
				return nil, d.truncated("object end")
			}
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		o.props = append(o.props, Property{Key: key, Value: v})
	}
}

// Encode serializes vals in order.
func Encode(vals ...Value) ([]byte, error) {
	var b []byte
	var err error
	for _, v := range vals {
		if b, err = AppendValue(b, v); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// AppendValue appends the encoding of v to b. A nil Value is written as Null.
func AppendValue(b []byte, v Value) ([]byte, error) {
	switch x := v.(type) {
	case nil, Null:
		return append(b, byte(KindNull)), nil
	case Undefined:
		return append(b, byte(KindUndefined)), nil
	case Number:
		b = append(b, byte(KindNumber))
		return binary.BigEndian.AppendUint64(b, math.Float64bits(float64(x))), nil
	case Boolean:
		if x {
			return append(b, byte(KindBoolean), 1), nil
		}
		return append(b, byte(KindBoolean), 0), nil
	case String:
		b = append(b, byte(KindString))
		return appendUTF8(b, string(x))
	case *Object:
		if x.ecma {
			b = append(b, byte(KindECMAArray))
			b = binary.BigEndian.AppendUint32(b, uint32(len(x.props)))
		} else {
			b = append(b, byte(KindObject))
		}
		var err error
		for _, p := range x.props {
			if p.Key == "" {
				return nil, fmt.Errorf("amf: object property with empty key")
			}
			if b, err = appendUTF8(b, p.Key); err != nil {
				return nil, err
			}
			if b, err = AppendValue(b, p.Value); err != nil {
				return nil, err
			}
		}
		return append(b, 0, 0, byte(KindObjectEnd)), nil
	case StrictArray:
		b = append(b, byte(KindStrictArray))
		b = binary.BigEndian.AppendUint32(b, uint32(len(x)))
		var err error
		for _, e := range x {
			if b, err = AppendValue(b, e); err != nil {
				return nil, err
			}
		}
		return b, nil
	default:
		return nil, fmt.Errorf("amf: cannot encode %T", v)
	}
}

func appendUTF8(b []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("amf: string of %d bytes exceeds short string limit", len(s))
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...), nil
}
